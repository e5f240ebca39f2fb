package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinycl_endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	// Native API metrics
	NativeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinycl_native_errors_total",
		Help: "Native OpenCL calls that returned a failure status",
	}, []string{"op", "code"})

	// Compilation metrics
	CompileFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinycl_compile_fallbacks_total",
		Help: "Programs that failed the preferred dialect build and were retried with base options",
	})

	CompileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinycl_compile_failures_total",
		Help: "Programs that failed to build with every option set",
	})

	// Kernel metrics
	KernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinycl_kernel_launches_total",
		Help: "Kernel launches by kernel name and mode (async or timed)",
	}, []string{"kernel", "mode"})

	KernelTimedMicroseconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tinycl_kernel_timed_microseconds",
		Help:    "Host-measured duration of timed kernel launches in microseconds",
		Buckets: prometheus.ExponentialBuckets(10, 2, 18), // 10us to ~1.3s
	}, []string{"kernel"})

	// Transfer metrics
	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinycl_transfer_bytes_total",
		Help: "Bytes enqueued for host/device transfer by direction",
	}, []string{"direction"})

	// Live handles created through tinycl by kind
	LiveResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tinycl_live_resources",
		Help: "Native resources created and not yet released, by kind",
	}, []string{"kind"})
)
