package clwrap

import (
	"fmt"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Resource is a native handle created by a Wrapper. Each one must be
// passed to Release exactly once; using or releasing it afterwards is
// undefined, as it is for the native API.
type Resource interface {
	Kind() string
	release(rt cl.Runtime) (op string, st cl.Status)
}

// Context groups one device for resource allocation.
type Context struct{ id cl.Context }

// Queue is an in-order command queue bound to one device and context.
type Queue struct{ id cl.CommandQueue }

// Program is a built program. The zero Program is absent.
type Program struct{ id cl.Program }

// Kernel is a named entry point of a Program.
type Kernel struct {
	id   cl.Kernel
	name string
}

// Buffer is device memory of a fixed byte size.
type Buffer struct {
	id   cl.Mem
	size int
}

func (c Context) ID() cl.Context { return c.id }
func (q Queue) ID() cl.CommandQueue { return q.id }
func (p Program) ID() cl.Program { return p.id }
func (k Kernel) ID() cl.Kernel { return k.id }
func (b Buffer) ID() cl.Mem { return b.id }
func (k Kernel) Name() string { return k.name }
func (b Buffer) Size() int { return b.size }
func (p Program) Valid() bool { return p.id != 0 }
func (Context) Kind() string { return "context" }
func (Queue) Kind() string { return "queue" }
func (Program) Kind() string { return "program" }
func (Kernel) Kind() string { return "kernel" }
func (Buffer) Kind() string { return "buffer" }

func (c Context) release(rt cl.Runtime) (string, cl.Status) {
	return "clReleaseContext", rt.ReleaseContext(c.id)
}

func (q Queue) release(rt cl.Runtime) (string, cl.Status) {
	return "clReleaseCommandQueue", rt.ReleaseCommandQueue(q.id)
}

func (p Program) release(rt cl.Runtime) (string, cl.Status) {
	return "clReleaseProgram", rt.ReleaseProgram(p.id)
}

func (k Kernel) release(rt cl.Runtime) (string, cl.Status) {
	return "clReleaseKernel", rt.ReleaseKernel(k.id)
}

func (b Buffer) release(rt cl.Runtime) (string, cl.Status) {
	return "clReleaseMemObject", rt.ReleaseMemObject(b.id)
}

func created(kind string) { metrics.LiveResources.WithLabelValues(kind).Inc() }
func released(kind string) { metrics.LiveResources.WithLabelValues(kind).Dec() }

// CreateContext creates a single-device context.
func (w *Wrapper) CreateContext(device cl.DeviceID) (Context, error) {
	id, st := w.rt.CreateContext([]cl.DeviceID{device})
	if err := w.check("clCreateContext", st); err != nil {
		return Context{}, err
	}
	created("context")
	return Context{id: id}, nil
}

// CreateQueue creates an in-order queue without profiling.
func (w *Wrapper) CreateQueue(device cl.DeviceID, ctx Context) (Queue, error) {
	id, st := w.rt.CreateCommandQueue(ctx.id, device, 0)
	if err := w.check("clCreateCommandQueue", st); err != nil {
		return Queue{}, err
	}
	created("queue")
	return Queue{id: id}, nil
}

// CreateKernel extracts the entry point name from a built program.
func (w *Wrapper) CreateKernel(program Program, name string) (Kernel, error) {
	id, st := w.rt.CreateKernel(program.id, name)
	if err := w.checkLabel("clCreateKernel", st, name); err != nil {
		return Kernel{}, err
	}
	created("kernel")
	return Kernel{id: id, name: name}, nil
}

// CreateBuffer allocates size bytes of device memory. When init is
// non-nil the buffer is seeded from its first size bytes.
func (w *Wrapper) CreateBuffer(ctx Context, flags cl.MemFlags, size int, init []byte) (Buffer, error) {
	if init != nil {
		if len(init) < size {
			return Buffer{}, w.fail(&Error{
				Op:    "clCreateBuffer",
				Code:  cl.InvalidHostPtr,
				Label: fmt.Sprintf("initial data is %d bytes, buffer is %d", len(init), size),
			})
		}
		flags |= cl.MemCopyHostPtr
	}
	id, st := w.rt.CreateBuffer(ctx.id, flags, size, init)
	if err := w.check("clCreateBuffer", st); err != nil {
		return Buffer{}, err
	}
	created("buffer")
	return Buffer{id: id, size: size}, nil
}

// Release releases any resource created by the wrapper.
func (w *Wrapper) Release(r Resource) error {
	op, st := r.release(w.rt)
	if err := w.checkLabel(op, st, r.Kind()); err != nil {
		return err
	}
	released(r.Kind())
	return nil
}

// Scope records resources as they are created and releases them in
// reverse order on Close. It only pairs creation with release; nothing is
// cached or reused.
type Scope struct {
	w         *Wrapper
	resources []Resource
}

// NewScope returns an empty Scope bound to w.
func (w *Wrapper) NewScope() *Scope {
	return &Scope{w: w}
}

// Track adds r to the scope.
func (s *Scope) Track(r Resource) {
	s.resources = append(s.resources, r)
}

func (s *Scope) CreateContext(device cl.DeviceID) (Context, error) {
	c, err := s.w.CreateContext(device)
	if err == nil {
		s.Track(c)
	}
	return c, err
}

func (s *Scope) CreateQueue(device cl.DeviceID, ctx Context) (Queue, error) {
	q, err := s.w.CreateQueue(device, ctx)
	if err == nil {
		s.Track(q)
	}
	return q, err
}

func (s *Scope) CompileProgram(device cl.DeviceID, ctx Context, path, extra string) (Program, error) {
	p, err := s.w.CompileProgram(device, ctx, path, extra)
	if err == nil {
		s.Track(p)
	}
	return p, err
}

func (s *Scope) CompileSource(device cl.DeviceID, ctx Context, name string, src []byte, extra string) (Program, error) {
	p, err := s.w.CompileSource(device, ctx, name, src, extra)
	if err == nil {
		s.Track(p)
	}
	return p, err
}

func (s *Scope) CreateKernel(program Program, name string) (Kernel, error) {
	k, err := s.w.CreateKernel(program, name)
	if err == nil {
		s.Track(k)
	}
	return k, err
}

func (s *Scope) CreateBuffer(ctx Context, flags cl.MemFlags, size int, init []byte) (Buffer, error) {
	b, err := s.w.CreateBuffer(ctx, flags, size, init)
	if err == nil {
		s.Track(b)
	}
	return b, err
}

// Close releases every tracked resource, newest first, and returns the
// combined release errors. The scope is empty afterwards.
func (s *Scope) Close() error {
	var errs error
	for i := len(s.resources) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.w.Release(s.resources[i]))
	}
	if errs != nil {
		s.w.log.Warn("scope released with errors", zap.Int("resources", len(s.resources)), zap.Error(errs))
	}
	s.resources = nil
	return errs
}
