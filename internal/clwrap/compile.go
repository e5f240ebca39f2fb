package clwrap

import (
	"fmt"
	"os"
	"strings"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/metrics"
	"go.uber.org/zap"
)

// CompileProgram reads the kernel source at path and builds it for device
// with CompileSource. An unreadable file is logged and returned as
// ErrSourceNotFound without invoking the failure handler.
func (w *Wrapper) CompileProgram(device cl.DeviceID, ctx Context, path, extra string) (Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		w.log.Error("Could not open cl source file", zap.String("path", path), zap.Error(err))
		return Program{}, fmt.Errorf("%w: %w", ErrSourceNotFound, err)
	}
	return w.CompileSource(device, ctx, path, src, extra)
}

// CompileSource builds src for device. The first attempt adds the
// preferred (newer dialect) options; if it fails the build is retried
// with the base options only. When both fail the build log is logged, the
// program is released and a *BuildError is returned without invoking the
// failure handler. name labels diagnostics.
func (w *Wrapper) CompileSource(device cl.DeviceID, ctx Context, name string, src []byte, extra string) (Program, error) {
	if len(src) >= w.compiler.MaxSourceBytes {
		return Program{}, w.fail(&Error{
			Op:    "clCreateProgramWithSource",
			Code:  cl.InvalidValue,
			Label: fmt.Sprintf("%s is %d bytes, limit is %d", name, len(src), w.compiler.MaxSourceBytes),
		})
	}

	id, st := w.rt.CreateProgramWithSource(ctx.id, [][]byte{src})
	if err := w.checkLabel("clCreateProgramWithSource", st, name); err != nil {
		return Program{}, err
	}

	attempts := []string{
		joinOptions(w.compiler.Base, w.compiler.Preferred, w.compiler.Extra, extra),
		joinOptions(w.compiler.Base, w.compiler.Extra, extra),
	}
	buildErr := &BuildError{Source: name}
	devices := []cl.DeviceID{device}
	for i, opts := range attempts {
		st = w.rt.BuildProgram(id, devices, opts)
		buildErr.Attempts = append(buildErr.Attempts, BuildAttempt{Options: opts, Code: st})
		if st == cl.Success {
			w.log.Debug("program built", zap.String("source", name), zap.String("options", opts))
			created("program")
			return Program{id: id}, nil
		}
		if i == 0 {
			metrics.CompileFallbacks.Inc()
			w.log.Warn(fmt.Sprintf("Falling back to CL1.x compilation (error %d)", int32(st)), zap.String("source", name))
		}
	}

	metrics.CompileFailures.Inc()
	buildErr.Log = w.buildLog(id, device)
	w.log.Error(fmt.Sprintf("OpenCL compilation error %d, log:\n%s", int32(st), buildErr.Log),
		zap.String("source", name))
	if rst := w.rt.ReleaseProgram(id); rst != cl.Success {
		w.log.Warn("releasing failed program", zap.Stringer("status", rst))
	}
	return Program{}, buildErr
}

// buildLog fetches the device build log, truncated to MaxLogBytes. A
// failed query yields an empty log.
func (w *Wrapper) buildLog(program cl.Program, device cl.DeviceID) string {
	size, st := w.rt.GetProgramBuildInfo(program, device, cl.ProgramBuildLog, nil)
	if st != cl.Success || size == 0 {
		w.log.Warn("build log unavailable", zap.Stringer("status", st))
		return ""
	}
	buf := make([]byte, size)
	n, st := w.rt.GetProgramBuildInfo(program, device, cl.ProgramBuildLog, buf)
	if st != cl.Success {
		w.log.Warn("build log unavailable", zap.Stringer("status", st))
		return ""
	}
	if n > len(buf) {
		n = len(buf)
	}
	log := strings.TrimRight(string(buf[:n]), "\x00")
	if w.compiler.MaxLogBytes > 0 && len(log) > w.compiler.MaxLogBytes {
		log = log[:w.compiler.MaxLogBytes]
	}
	return log
}

// joinOptions flattens option groups into one space-separated string.
func joinOptions(groups ...string) string {
	var fields []string
	for _, g := range groups {
		fields = append(fields, strings.Fields(g)...)
	}
	return strings.Join(fields, " ")
}
