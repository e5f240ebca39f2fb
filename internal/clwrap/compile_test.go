package clwrap

import (
	"errors"
	"strings"
	"testing"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const scaleKernelPath = "../../fixtures/tests/kernels/scale.cl"

func TestCompileProgram_FromFile(t *testing.T) {
	rt := singleGPU()
	defineScale(rt)
	w, logs := newTestWrapper(t, rt)
	device, ctx, _ := open(t, w, rt)

	p, err := w.CompileProgram(device, ctx, scaleKernelPath, "")
	require.NoError(t, err)
	assert.True(t, p.Valid())

	builds := rt.Builds()
	require.Len(t, builds, 1)
	assert.Equal(t, "-cl-fast-relaxed-math -cl-std=CL2.0 -cl-uniform-work-group-size", builds[0].Options)
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	_, err = w.CreateKernel(p, "scale")
	assert.NoError(t, err)
}

func TestCompileProgram_MissingFile(t *testing.T) {
	rt := singleGPU()
	handled := 0
	w, logs := newTestWrapper(t, rt, WithFailureHandler(func(error) { handled++ }))
	device, ctx, _ := open(t, w, rt)

	p, err := w.CompileProgram(device, ctx, "does/not/exist.cl", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceNotFound))
	assert.False(t, p.Valid())
	assert.Zero(t, handled, "a missing source must not reach the failure handler")
	assert.Equal(t, 1, logs.FilterMessage("Could not open cl source file").Len())
	assert.Empty(t, rt.Builds())
}

func TestCompileSource_Fallback(t *testing.T) {
	rt := singleGPU()
	defineScale(rt)
	rt.SetBuilder(func(_, options string) (string, cl.Status) {
		if strings.Contains(options, "-cl-std=CL2.0") {
			return "unsupported standard", cl.InvalidBuildOptions
		}
		return "", cl.Success
	})
	w, logs := newTestWrapper(t, rt)
	device, ctx, _ := open(t, w, rt)

	p, err := w.CompileSource(device, ctx, "scale.cl", []byte(scaleSource), "-DN=4")
	require.NoError(t, err)
	assert.True(t, p.Valid())

	builds := rt.Builds()
	require.Len(t, builds, 2)
	assert.Equal(t, "-cl-fast-relaxed-math -cl-std=CL2.0 -cl-uniform-work-group-size -DN=4", builds[0].Options)
	assert.Equal(t, "-cl-fast-relaxed-math -DN=4", builds[1].Options)

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Falling back to CL1.x compilation (error -43)", warnings[0].Message)

	_, err = w.CreateKernel(p, "scale")
	assert.NoError(t, err)
}

func TestCompileSource_BothAttemptsFail(t *testing.T) {
	rt := singleGPU()
	rt.SetBuilder(func(string, string) (string, cl.Status) {
		return "error: expected ';' at line 3", cl.BuildProgramFailure
	})
	handled := 0
	w, logs := newTestWrapper(t, rt, WithFailureHandler(func(error) { handled++ }))
	device, ctx, _ := open(t, w, rt)

	p, err := w.CompileSource(device, ctx, "broken.cl", []byte("__kernel void broken() { x }"), "")
	require.Error(t, err)
	assert.False(t, p.Valid())
	assert.True(t, errors.Is(err, ErrBuildFailed))
	assert.Zero(t, handled)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "broken.cl", buildErr.Source)
	require.Len(t, buildErr.Attempts, 2)
	assert.Equal(t, cl.BuildProgramFailure, buildErr.Attempts[0].Code)
	assert.Equal(t, cl.BuildProgramFailure, buildErr.Attempts[1].Code)
	assert.Equal(t, "error: expected ';' at line 3", buildErr.Log)

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Message, "OpenCL compilation error -11, log:\n"))
	assert.Contains(t, entries[0].Message, "expected ';'")

	// The failed program is not leaked.
	assert.Zero(t, rt.Live().Programs)
}

func TestCompileSource_LogTruncated(t *testing.T) {
	rt := singleGPU()
	rt.SetBuilder(func(string, string) (string, cl.Status) {
		return strings.Repeat("x", 100), cl.BuildProgramFailure
	})
	cfg := config.Default()
	cfg.Compiler.MaxLogBytes = 10
	w, _ := newTestWrapper(t, rt, FromConfig(cfg))
	device, ctx, _ := open(t, w, rt)

	_, err := w.CompileSource(device, ctx, "k.cl", []byte("__kernel void k() {}"), "")
	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, strings.Repeat("x", 10), buildErr.Log)
}

func TestCompileSource_LogUnavailable(t *testing.T) {
	rt := singleGPU()
	rt.SetBuilder(func(string, string) (string, cl.Status) {
		return "never read", cl.BuildProgramFailure
	})
	w, _ := newTestWrapper(t, rt)
	device, ctx, _ := open(t, w, rt)
	rt.Fail("GetProgramBuildInfo", cl.OutOfResources)

	_, err := w.CompileSource(device, ctx, "k.cl", []byte("__kernel void k() {}"), "")
	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Empty(t, buildErr.Log)
}

func TestCompileSource_ConfiguredExtra(t *testing.T) {
	rt := singleGPU()
	cfg := config.Default()
	cfg.Compiler.ExtraOptions = "-DWIDTH=64"
	w, _ := newTestWrapper(t, rt, FromConfig(cfg))
	device, ctx, _ := open(t, w, rt)

	_, err := w.CompileSource(device, ctx, "k.cl", []byte("__kernel void k() {}"), "  -DHEIGHT=2  ")
	require.NoError(t, err)
	builds := rt.Builds()
	require.Len(t, builds, 1)
	assert.Equal(t, "-cl-fast-relaxed-math -cl-std=CL2.0 -cl-uniform-work-group-size -DWIDTH=64 -DHEIGHT=2", builds[0].Options)
}

func TestCompileSource_TooLarge(t *testing.T) {
	rt := singleGPU()
	var handled error
	w, _ := newTestWrapper(t, rt, WithFailureHandler(func(err error) { handled = err }))
	device, ctx, _ := open(t, w, rt)

	src := make([]byte, config.DefaultMaxSourceBytes)
	_, err := w.CompileSource(device, ctx, "big.cl", src, "")
	require.Error(t, err)
	assert.Same(t, err, handled)
	code, _ := Code(err)
	assert.Equal(t, cl.InvalidValue, code)
	assert.Empty(t, rt.Builds())
	assert.Zero(t, rt.Live().Programs)
}

func TestJoinOptions(t *testing.T) {
	assert.Equal(t, "", joinOptions())
	assert.Equal(t, "", joinOptions("", "  "))
	assert.Equal(t, "-a -b -c", joinOptions("-a", " -b  ", "", "-c"))
}
