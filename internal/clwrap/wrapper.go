// Package clwrap is the error-checked convenience layer over cl.Runtime.
//
// Every native call is checked against cl.Success. A failure is logged,
// counted, wrapped in *Error and passed to the wrapper's FailureHandler
// before being returned. The default handler is Abort, so by default the
// process stops at the first native failure; ReturnErrors leaves the
// decision to the caller.
//
// Program compilation is the exception: a missing source file and a
// program that fails both build attempts are returned as ErrSourceNotFound
// and *BuildError without invoking the handler.
//
// A Wrapper is meant to be driven from one goroutine against one device.
package clwrap

import (
	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/config"
	"github.com/fxnlabs/tinycl/internal/logger"
	"go.uber.org/zap"
)

// CompilerOptions control CompileProgram and CompileSource.
type CompilerOptions struct {
	// Base options are part of every build attempt.
	Base string
	// Preferred options are added to the first attempt only.
	Preferred string
	// Extra options are added to every attempt, ahead of the caller's own.
	Extra string
	// Sources must be strictly smaller than MaxSourceBytes.
	MaxSourceBytes int
	// Build logs are truncated to MaxLogBytes.
	MaxLogBytes int
}

// Wrapper binds the helpers to one native runtime.
type Wrapper struct {
	rt           cl.Runtime
	log          *zap.Logger
	onFailure    FailureHandler
	handlerSet   bool
	maxPlatforms int
	groupSize    int
	compiler     CompilerOptions
}

type Option func(*Wrapper)

// WithLogger sets the diagnostics logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *Wrapper) {
		w.log = log
	}
}

// WithFailureHandler replaces the default Abort handler. A nil handler
// is equivalent to ReturnErrors.
func WithFailureHandler(h FailureHandler) Option {
	return func(w *Wrapper) {
		w.onFailure = h
		w.handlerSet = true
	}
}

// ReturnErrors makes fatal-tier failures plain error returns.
func ReturnErrors() Option {
	return WithFailureHandler(nil)
}

// WithGroupSize sets the work-group size used by Launch.
func WithGroupSize(n int) Option {
	return func(w *Wrapper) {
		w.groupSize = n
	}
}

// WithMaxPlatforms caps how many platforms enumeration visits.
func WithMaxPlatforms(n int) Option {
	return func(w *Wrapper) {
		w.maxPlatforms = n
	}
}

// WithCompilerOptions replaces the build option sets and size limits.
func WithCompilerOptions(opts CompilerOptions) Option {
	return func(w *Wrapper) {
		w.compiler = opts
	}
}

// FromConfig applies the device, compiler and launch sections of cfg.
func FromConfig(cfg *config.Config) Option {
	return func(w *Wrapper) {
		w.maxPlatforms = cfg.Device.MaxPlatforms
		w.groupSize = cfg.Launch.GroupSize
		w.compiler = CompilerOptions{
			Base:           cfg.Compiler.BaseOptions,
			Preferred:      cfg.Compiler.PreferredOptions,
			Extra:          cfg.Compiler.ExtraOptions,
			MaxSourceBytes: cfg.Compiler.MaxSourceBytes,
			MaxLogBytes:    cfg.Compiler.MaxLogBytes,
		}
	}
}

// New returns a Wrapper over rt. Unset options take the config defaults.
func New(rt cl.Runtime, opts ...Option) *Wrapper {
	w := &Wrapper{rt: rt}
	FromConfig(config.Default())(w)
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		log, err := logger.New(config.DefaultVerbosity, config.DefaultEncoding)
		if err != nil {
			log = zap.NewNop()
		}
		w.log = log
	}
	w.log = w.log.Named("cl")
	if !w.handlerSet {
		w.onFailure = Abort(w.log)
	}
	return w
}

// Runtime returns the underlying native runtime.
func (w *Wrapper) Runtime() cl.Runtime {
	return w.rt
}

// GroupSize returns the work-group size used by Launch.
func (w *Wrapper) GroupSize() int {
	return w.groupSize
}
