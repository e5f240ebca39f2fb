package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWrapperMetrics(t *testing.T) {
	t.Run("NativeErrors", func(t *testing.T) {
		before := testutil.ToFloat64(NativeErrors.WithLabelValues("test_op", "-5"))
		NativeErrors.WithLabelValues("test_op", "-5").Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(NativeErrors.WithLabelValues("test_op", "-5")))
	})

	t.Run("CompileFallbacks", func(t *testing.T) {
		before := testutil.ToFloat64(CompileFallbacks)
		CompileFallbacks.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(CompileFallbacks))
	})

	t.Run("LiveResources", func(t *testing.T) {
		LiveResources.WithLabelValues("test_kind").Set(3)
		assert.Equal(t, float64(3), testutil.ToFloat64(LiveResources.WithLabelValues("test_kind")))
	})

	t.Run("KernelTimedMicroseconds", func(t *testing.T) {
		assert.NotPanics(t, func() {
			KernelTimedMicroseconds.WithLabelValues("test_kernel").Observe(125)
		})
	})

	t.Run("TransferBytes", func(t *testing.T) {
		before := testutil.ToFloat64(TransferBytes.WithLabelValues("test_dir"))
		TransferBytes.WithLabelValues("test_dir").Add(4096)
		assert.Equal(t, before+4096, testutil.ToFloat64(TransferBytes.WithLabelValues("test_dir")))
	})
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		NativeErrors,
		CompileFallbacks,
		CompileFailures,
		KernelLaunches,
		KernelTimedMicroseconds,
		TransferBytes,
		LiveResources,
		EndpointResponses,
	}

	for _, c := range collectors {
		// Already registered by promauto, so registering again must fail.
		err := prometheus.Register(c)
		assert.Error(t, err)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already)
	}
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "/test")

	before := testutil.ToFloat64(EndpointResponses.WithLabelValues("/test", "418"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(EndpointResponses.WithLabelValues("/test", "418")))
}

func TestHandler(t *testing.T) {
	KernelLaunches.WithLabelValues("handler_test", "async").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tinycl_kernel_launches_total")
}

func BenchmarkMetricsObservation(b *testing.B) {
	b.Run("ObserveKernelTime", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			KernelTimedMicroseconds.WithLabelValues("bench").Observe(float64(i % 1000))
		}
	})

	b.Run("IncLaunches", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			KernelLaunches.WithLabelValues("bench", "async").Inc()
		}
	})
}
