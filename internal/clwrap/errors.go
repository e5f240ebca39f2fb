package clwrap

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrSourceNotFound is returned by CompileProgram when the kernel
	// source file cannot be read.
	ErrSourceNotFound = errors.New("kernel source not found")

	// ErrBuildFailed matches every *BuildError.
	ErrBuildFailed = errors.New("program build failed")
)

// Error is a native call that returned a failure status.
type Error struct {
	Op    string
	Code  cl.Status
	Label string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: error %d %s", e.Op, int32(e.Code), e.Code)
	if e.Label != "" {
		msg += " (" + e.Label + ")"
	}
	return msg
}

// Code extracts the native status from err, if it carries one.
func Code(err error) (cl.Status, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return cl.Success, false
}

// BuildAttempt is one clBuildProgram call made while compiling.
type BuildAttempt struct {
	Options string
	Code    cl.Status
}

// BuildError reports a program that failed every build attempt. Log holds
// the device build log of the last attempt.
type BuildError struct {
	Source   string
	Attempts []BuildAttempt
	Log      string
}

func (e *BuildError) Error() string {
	code := cl.Success
	if n := len(e.Attempts); n > 0 {
		code = e.Attempts[n-1].Code
	}
	return fmt.Sprintf("build %s: error %d %s after %d attempts", e.Source, int32(code), code, len(e.Attempts))
}

func (e *BuildError) Is(target error) bool {
	return target == ErrBuildFailed
}

// FailureHandler is invoked with every fatal-tier error before the
// operation returns it. A handler that returns lets the caller see the
// error; Abort never returns.
type FailureHandler func(err error)

// Abort logs err at fatal level, which exits the process.
func Abort(log *zap.Logger) FailureHandler {
	return func(err error) {
		log.Fatal("aborting on native failure", zap.Error(err))
	}
}

// Panic panics with err.
func Panic() FailureHandler {
	return func(err error) {
		panic(err)
	}
}

func (w *Wrapper) check(op string, st cl.Status) error {
	return w.checkLabel(op, st, "")
}

func (w *Wrapper) checkLabel(op string, st cl.Status, label string) error {
	if st == cl.Success {
		return nil
	}
	return w.fail(&Error{Op: op, Code: st, Label: label})
}

func (w *Wrapper) fail(err *Error) error {
	metrics.NativeErrors.WithLabelValues(err.Op, strconv.Itoa(int(err.Code))).Inc()
	fields := []zap.Field{zap.String("op", err.Op), zap.Int32("code", int32(err.Code)), zap.Stringer("status", err.Code)}
	if err.Label != "" {
		fields = append(fields, zap.String("label", err.Label))
	}
	w.log.Error(fmt.Sprintf("error %d", int32(err.Code)), fields...)
	if w.onFailure != nil {
		w.onFailure(err)
	}
	return err
}
