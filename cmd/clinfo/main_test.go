package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/tinycl/fixtures"
	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/clwrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// run executes clinfo with args and returns its stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	e := &env{log: zap.NewNop(), opts: []clwrap.Option{clwrap.ReturnErrors()}}
	app := newApp(e)
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"clinfo"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestDevicesCommand(t *testing.T) {
	out, _, err := run(t, "--simulate", "devices")
	require.NoError(t, err)
	assert.Equal(t, "*[0] tinycl simulated GPU; OpenCL 1.2 simulated\n", out)

	out, _, err = run(t, "--simulate", "devices", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "[0] tinycl simulated GPU")
}

func TestDevicesCommand_ConfigFile(t *testing.T) {
	// The fixture selects index 1, which the simulated runtime does not have.
	out, _, err := run(t, "--config", "../../fixtures/tests/config/valid_config.yaml", "--simulate", "devices")
	require.NoError(t, err)
	assert.Equal(t, " [0] tinycl simulated GPU; OpenCL 1.2 simulated\n", out)
}

func TestDevicesCommand_BadConfig(t *testing.T) {
	_, _, err := run(t, "--config", "../../fixtures/tests/invalid_config/config.yaml", "--simulate", "devices")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestNativeUnavailable(t *testing.T) {
	if _, err := cl.NewNative(); err == nil {
		t.Skip("built with OpenCL support")
	}
	_, _, err := run(t, "devices")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--simulate")
}

func TestCompileCommand(t *testing.T) {
	out, _, err := run(t, "--simulate", "compile", "--kernel", "matmul", "../../kernels/matmul.cl")
	require.NoError(t, err)
	assert.Equal(t, "../../kernels/matmul.cl: OK\n", out)

	_, _, err = run(t, "--simulate", "compile", "--kernel", "missing", "../../kernels/matmul.cl")
	code, ok := clwrap.Code(err)
	require.True(t, ok)
	assert.Equal(t, cl.InvalidKernelName, code)

	_, _, err = run(t, "--simulate", "compile", "does-not-exist.cl")
	assert.ErrorIs(t, err, clwrap.ErrSourceNotFound)

	_, _, err = run(t, "--simulate", "compile")
	assert.Error(t, err)
}

func TestSelftestCommand(t *testing.T) {
	out, _, err := run(t, "--simulate", "selftest", "--quiet", "--size", "8", "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Device:     tinycl simulated GPU; OpenCL 1.2 simulated")
	assert.Contains(t, out, "Problem:    8x8x8 (256 work-items)")
	assert.Contains(t, out, "Self-test PASSED")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, _, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, data)

	_, _, err = run(t, "config", "init", path)
	assert.Error(t, err, "existing file needs --force")

	_, _, err = run(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}
