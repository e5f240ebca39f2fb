// Package selftest runs the embedded matmul kernel on one device and checks
// the result against a gonum reference product.
package selftest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/clwrap"
	"github.com/fxnlabs/tinycl/internal/config"
	"github.com/fxnlabs/tinycl/internal/timing"
	"github.com/fxnlabs/tinycl/kernels"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoDevice is returned when the configured device index is not present.
	ErrNoDevice = errors.New("no device at configured index")

	// ErrMismatch is returned when the device result disagrees with the
	// reference product.
	ErrMismatch = errors.New("device result does not match reference")
)

// Options sizes the multiplication C[M x N] = A[M x K] * B[K x N].
type Options struct {
	M, N, K int
	Seed    int64
	// Tolerance is the largest accepted error relative to max(1, |ref|).
	Tolerance float64
}

// DefaultOptions multiplies two 64x64 matrices.
func DefaultOptions() Options {
	return Options{M: 64, N: 64, K: 64, Seed: 1, Tolerance: 1e-3}
}

// Result describes a completed self-test.
type Result struct {
	Device      string
	M, N, K     int
	GlobalSize  int
	Micros      uint64
	Flops       int64
	MaxRelError float64
}

// Runner executes the self-test through a Wrapper.
type Runner struct {
	w   *clwrap.Wrapper
	cfg *config.Config
	log *zap.Logger
}

// New returns a Runner selecting devices per cfg.Device.
func New(w *clwrap.Wrapper, cfg *config.Config, log *zap.Logger) *Runner {
	return &Runner{w: w, cfg: cfg, log: log.Named("selftest")}
}

// Run multiplies random matrices on the configured device. Every resource
// it creates is released before it returns.
func (r *Runner) Run(opts Options) (res *Result, err error) {
	if opts.M <= 0 || opts.N <= 0 || opts.K <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%dx%d", opts.M, opts.N, opts.K)
	}

	index := r.cfg.Device.Index
	ids, err := r.w.ListDeviceIDs(!r.cfg.Device.AllTypes, index+1)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if index < 0 || index >= len(ids) {
		r.log.Error("No device at configured index", zap.Int("index", index), zap.Int("found", len(ids)))
		return nil, fmt.Errorf("%w: index %d, %d found", ErrNoDevice, index, len(ids))
	}
	device := ids[index]
	desc, err := r.w.DescribeDevice(device)
	if err != nil {
		return nil, err
	}
	r.log.Info("Starting matmul self-test",
		zap.String("device", desc),
		zap.Int("m", opts.M),
		zap.Int("n", opts.N),
		zap.Int("k", opts.K))

	scope := r.w.NewScope()
	defer func() {
		err = multierr.Append(err, scope.Close())
	}()

	ctx, err := scope.CreateContext(device)
	if err != nil {
		return nil, err
	}
	q, err := scope.CreateQueue(device, ctx)
	if err != nil {
		return nil, err
	}
	program, err := scope.CompileSource(device, ctx, "matmul.cl", kernels.MatMulSource, "")
	if err != nil {
		return nil, err
	}
	kernel, err := scope.CreateKernel(program, kernels.MatMulKernel)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	a := randomMatrix(rng, opts.M*opts.K)
	b := randomMatrix(rng, opts.K*opts.N)
	c := make([]float32, opts.M*opts.N)

	bufA, err := scope.CreateBuffer(ctx, cl.MemReadOnly, len(a)*4, clwrap.AsBytes(a))
	if err != nil {
		return nil, err
	}
	bufB, err := scope.CreateBuffer(ctx, cl.MemReadOnly, len(b)*4, clwrap.AsBytes(b))
	if err != nil {
		return nil, err
	}
	bufC, err := scope.CreateBuffer(ctx, cl.MemWriteOnly, len(c)*4, nil)
	if err != nil {
		return nil, err
	}

	err = r.w.SetArgs(kernel,
		clwrap.BufferArg(bufA),
		clwrap.BufferArg(bufB),
		clwrap.BufferArg(bufC),
		clwrap.ArgOf(uint32(opts.M)),
		clwrap.ArgOf(uint32(opts.N)),
		clwrap.ArgOf(uint32(opts.K)),
	)
	if err != nil {
		return nil, err
	}

	global := roundUp(opts.M*opts.N, r.w.GroupSize())
	counter := timing.NewTimeCounter(timing.NewMicroTimer())
	if err := r.w.Launch(q, kernel, global, counter); err != nil {
		return nil, err
	}
	if err := clwrap.ReadSlice(r.w, q, true, bufC, c, 0); err != nil {
		return nil, err
	}

	maxErr := compare(a, b, c, opts)
	res = &Result{
		Device:      desc,
		M:           opts.M,
		N:           opts.N,
		K:           opts.K,
		GlobalSize:  global,
		Micros:      counter.Get(),
		Flops:       2 * int64(opts.M) * int64(opts.N) * int64(opts.K),
		MaxRelError: maxErr,
	}
	if maxErr > opts.Tolerance {
		r.log.Error("Self-test result mismatch",
			zap.Float64("max_rel_error", maxErr),
			zap.Float64("tolerance", opts.Tolerance))
		return res, fmt.Errorf("%w: max relative error %g exceeds %g", ErrMismatch, maxErr, opts.Tolerance)
	}

	r.log.Info("Self-test passed",
		zap.Uint64("kernel_us", res.Micros),
		zap.Int64("flops", res.Flops),
		zap.Float64("max_rel_error", maxErr))
	return res, nil
}

func randomMatrix(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()
	}
	return out
}

func roundUp(n, multiple int) int {
	if multiple <= 0 {
		return n
	}
	return (n + multiple - 1) / multiple * multiple
}

// compare returns the largest error of c against A*B computed in float64.
func compare(a, b, c []float32, opts Options) float64 {
	ref := mat.NewDense(opts.M, opts.N, nil)
	ref.Mul(mat.NewDense(opts.M, opts.K, widen(a)), mat.NewDense(opts.K, opts.N, widen(b)))

	var maxErr float64
	for i := 0; i < opts.M; i++ {
		for j := 0; j < opts.N; j++ {
			want := ref.At(i, j)
			diff := math.Abs(float64(c[i*opts.N+j])-want) / math.Max(1, math.Abs(want))
			if math.IsNaN(diff) {
				return math.Inf(1)
			}
			maxErr = math.Max(maxErr, diff)
		}
	}
	return maxErr
}

func widen(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}
