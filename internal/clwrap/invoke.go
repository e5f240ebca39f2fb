package clwrap

import (
	"fmt"
	"unsafe"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/metrics"
	"github.com/fxnlabs/tinycl/internal/timing"
)

// MaxArgs is the number of argument slots SetArgs and Run bind.
const MaxArgs = 6

// Arg is a kernel argument value. Its size is the byte size of the Go
// value it was made from and must equal the kernel's declared slot size.
type Arg struct {
	value []byte
}

// ArgOf captures v by value. T must be a fixed-size type without Go
// pointers (numbers, arrays and structs of them) laid out as the kernel
// expects, e.g. uint32 for a uint parameter.
func ArgOf[T any](v T) Arg {
	size := unsafe.Sizeof(v)
	b := make([]byte, size)
	if size > 0 {
		copy(b, unsafe.Slice((*byte)(unsafe.Pointer(&v)), size))
	}
	return Arg{value: b}
}

// BufferArg binds a device buffer, sized as a native memory handle.
func BufferArg(b Buffer) Arg {
	return ArgOf(uintptr(b.id))
}

// Size returns the argument's byte size.
func (a Arg) Size() int {
	return len(a.value)
}

// Bytes returns the raw argument bytes.
func (a Arg) Bytes() []byte {
	return a.value
}

// SetArg binds arg to slot pos of k.
func (w *Wrapper) SetArg(k Kernel, pos int, arg Arg) error {
	st := w.rt.SetKernelArg(k.id, uint32(pos), arg.value)
	return w.checkLabel("clSetKernelArg", st, fmt.Sprintf("%s arg %d", k.name, pos))
}

// SetArgs binds args to slots 0..len(args)-1 of k in order. At most
// MaxArgs arguments are accepted.
func (w *Wrapper) SetArgs(k Kernel, args ...Arg) error {
	if len(args) > MaxArgs {
		return w.fail(&Error{
			Op:    "clSetKernelArg",
			Code:  cl.InvalidArgIndex,
			Label: fmt.Sprintf("%s: %d arguments, at most %d", k.name, len(args), MaxArgs),
		})
	}
	for i, a := range args {
		if err := w.SetArg(k, i, a); err != nil {
			return err
		}
	}
	return nil
}

// Launch enqueues k over globalSize work-items in groups of GroupSize.
// globalSize must be a multiple of the group size; the runtime reports a
// violation as a native error. Without a counter the launch is
// asynchronous. With one, Launch waits for the queue to finish and adds
// the elapsed time to counter.
func (w *Wrapper) Launch(q Queue, k Kernel, globalSize int, counter *timing.TimeCounter) error {
	st := w.rt.EnqueueNDRangeKernel(q.id, k.id, []int{globalSize}, []int{w.groupSize})
	if err := w.checkLabel("clEnqueueNDRangeKernel", st, k.name); err != nil {
		return err
	}
	if counter == nil {
		metrics.KernelLaunches.WithLabelValues(k.name, "async").Inc()
		return nil
	}
	if err := w.Finish(q); err != nil {
		return err
	}
	us := counter.Tick()
	metrics.KernelLaunches.WithLabelValues(k.name, "timed").Inc()
	metrics.KernelTimedMicroseconds.WithLabelValues(k.name).Observe(float64(us))
	return nil
}

// Run binds args to the leading slots of k and launches it asynchronously.
func (w *Wrapper) Run(q Queue, k Kernel, globalSize int, args ...Arg) error {
	if err := w.SetArgs(k, args...); err != nil {
		return err
	}
	return w.Launch(q, k, globalSize, nil)
}

// Flush submits queued commands without waiting for them.
func (w *Wrapper) Flush(q Queue) error {
	return w.check("clFlush", w.rt.Flush(q.id))
}

// Finish blocks until every command submitted to q has completed.
func (w *Wrapper) Finish(q Queue) error {
	return w.check("clFinish", w.rt.Finish(q.id))
}

// Read copies len(dst) bytes starting at offset in b into dst. Unless
// blocking is set, dst must not be used until the queue is synchronised.
func (w *Wrapper) Read(q Queue, blocking bool, b Buffer, dst []byte, offset int) error {
	if err := w.bounds("clEnqueueReadBuffer", b, offset, len(dst)); err != nil {
		return err
	}
	if err := w.check("clEnqueueReadBuffer", w.rt.EnqueueReadBuffer(q.id, b.id, blocking, offset, dst)); err != nil {
		return err
	}
	metrics.TransferBytes.WithLabelValues("device_to_host").Add(float64(len(dst)))
	return nil
}

// Write copies src into b starting at offset. Unless blocking is set,
// src must not be modified until the queue is synchronised.
func (w *Wrapper) Write(q Queue, blocking bool, b Buffer, src []byte, offset int) error {
	if err := w.bounds("clEnqueueWriteBuffer", b, offset, len(src)); err != nil {
		return err
	}
	if err := w.check("clEnqueueWriteBuffer", w.rt.EnqueueWriteBuffer(q.id, b.id, blocking, offset, src)); err != nil {
		return err
	}
	metrics.TransferBytes.WithLabelValues("host_to_device").Add(float64(len(src)))
	return nil
}

func (w *Wrapper) bounds(op string, b Buffer, offset, size int) error {
	if offset < 0 || offset+size > b.size {
		return w.fail(&Error{
			Op:    op,
			Code:  cl.InvalidValue,
			Label: fmt.Sprintf("%d bytes at offset %d exceed buffer of %d", size, offset, b.size),
		})
	}
	return nil
}

// ReadSlice reads into a typed slice; offset is in bytes.
func ReadSlice[T any](w *Wrapper, q Queue, blocking bool, b Buffer, dst []T, offset int) error {
	return w.Read(q, blocking, b, AsBytes(dst), offset)
}

// WriteSlice writes a typed slice; offset is in bytes.
func WriteSlice[T any](w *Wrapper, q Queue, blocking bool, b Buffer, src []T, offset int) error {
	return w.Write(q, blocking, b, AsBytes(src), offset)
}

// AsBytes views s as its underlying bytes without copying.
func AsBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}
