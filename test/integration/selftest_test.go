// +build integration

package integration

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/cl/cltest"
	"github.com/fxnlabs/tinycl/internal/clwrap"
	"github.com/fxnlabs/tinycl/internal/config"
	"github.com/fxnlabs/tinycl/internal/logger"
	"github.com/fxnlabs/tinycl/internal/metrics"
	"github.com/fxnlabs/tinycl/internal/selftest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func newGraph(t *testing.T, cfg *config.Config, targets ...interface{}) *fxtest.App {
	return fxtest.New(t,
		fx.Provide(
			func() *config.Config { return cfg },
			func(cfg *config.Config) (*zap.Logger, error) {
				return logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
			},
			cltest.Simulated,
			func(rt *cltest.Runtime) cl.Runtime { return rt },
			func(rt cl.Runtime, cfg *config.Config, log *zap.Logger) *clwrap.Wrapper {
				return clwrap.New(rt, clwrap.FromConfig(cfg), clwrap.WithLogger(log), clwrap.ReturnErrors())
			},
			selftest.New,
		),
		fx.Populate(targets...),
	)
}

func TestSelftestEndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Logger.Verbosity = "warn"

	var runner *selftest.Runner
	var rt *cltest.Runtime
	app := newGraph(t, cfg, &runner, &rt)
	app.RequireStart()
	defer app.RequireStop()

	fallbacks := testutil.ToFloat64(metrics.CompileFallbacks)
	res, err := runner.Run(selftest.Options{M: 33, N: 17, K: 9, Seed: 5, Tolerance: 1e-4})
	require.NoError(t, err)
	assert.Equal(t, 33*17, res.M*res.N)
	assert.Equal(t, cltest.Counts{}, rt.Live())
	assert.Equal(t, fallbacks, testutil.ToFloat64(metrics.CompileFallbacks))

	// The run shows up on the metrics endpoint.
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tinycl_kernel_launches_total{kernel="matmul",mode="timed"}`)
}

func TestSelftestEndToEnd_Fallback(t *testing.T) {
	cfg := config.Default()
	cfg.Logger.Verbosity = "error"
	cfg.Launch.GroupSize = 64

	var runner *selftest.Runner
	var rt *cltest.Runtime
	app := newGraph(t, cfg, &runner, &rt)
	app.RequireStart()
	defer app.RequireStop()

	rt.SetBuilder(func(_, options string) (string, cl.Status) {
		if options != cfg.Compiler.BaseOptions {
			return "CL2.0 not supported", cl.InvalidBuildOptions
		}
		return "", cl.Success
	})

	before := testutil.ToFloat64(metrics.CompileFallbacks)
	res, err := runner.Run(selftest.DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, res.GlobalSize%64)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CompileFallbacks))
	builds := rt.Builds()
	require.Len(t, builds, 2)
	assert.Equal(t, cfg.Compiler.BaseOptions, builds[1].Options)
}
