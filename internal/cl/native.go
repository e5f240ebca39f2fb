//go:build opencl
// +build opencl

package cl

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo windows LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#define CL_TARGET_OPENCL_VERSION 120

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
*/
import "C"
import (
	"runtime"
	"sync"
	"unsafe"
)

type nativeRuntime struct {
	mu sync.Mutex
	// Host slices handed to non-blocking transfers stay pinned until the
	// queue is synchronised.
	pinned map[CommandQueue]*runtime.Pinner
}

// NewNative returns the Runtime backed by the system OpenCL ICD loader.
func NewNative() (Runtime, error) {
	return &nativeRuntime{pinned: make(map[CommandQueue]*runtime.Pinner)}, nil
}

func bytePtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func (r *nativeRuntime) GetPlatformIDs(platforms []PlatformID) (uint32, Status) {
	var n C.cl_uint
	if len(platforms) == 0 {
		return uint32(n), Status(C.clGetPlatformIDs(0, nil, &n))
	}
	ids := make([]C.cl_platform_id, len(platforms))
	st := Status(C.clGetPlatformIDs(C.cl_uint(len(ids)), &ids[0], &n))
	for i := 0; i < int(n) && i < len(ids); i++ {
		platforms[i] = PlatformID(unsafe.Pointer(ids[i]))
	}
	return uint32(n), st
}

func (r *nativeRuntime) GetDeviceIDs(platform PlatformID, deviceType DeviceType, devices []DeviceID) (uint32, Status) {
	var n C.cl_uint
	p := C.cl_platform_id(unsafe.Pointer(platform))
	if len(devices) == 0 {
		return uint32(n), Status(C.clGetDeviceIDs(p, C.cl_device_type(deviceType), 0, nil, &n))
	}
	ids := make([]C.cl_device_id, len(devices))
	st := Status(C.clGetDeviceIDs(p, C.cl_device_type(deviceType), C.cl_uint(len(ids)), &ids[0], &n))
	for i := 0; i < int(n) && i < len(ids); i++ {
		devices[i] = DeviceID(unsafe.Pointer(ids[i]))
	}
	return uint32(n), st
}

func (r *nativeRuntime) GetDeviceInfo(device DeviceID, param DeviceInfo, value []byte) (int, Status) {
	var size C.size_t
	st := C.clGetDeviceInfo(C.cl_device_id(unsafe.Pointer(device)), C.cl_device_info(param),
		C.size_t(len(value)), bytePtr(value), &size)
	return int(size), Status(st)
}

func (r *nativeRuntime) CreateContext(devices []DeviceID) (Context, Status) {
	if len(devices) == 0 {
		return 0, InvalidValue
	}
	ids := make([]C.cl_device_id, len(devices))
	for i, d := range devices {
		ids[i] = C.cl_device_id(unsafe.Pointer(d))
	}
	var err C.cl_int
	ctx := C.clCreateContext(nil, C.cl_uint(len(ids)), &ids[0], nil, nil, &err)
	return Context(unsafe.Pointer(ctx)), Status(err)
}

func (r *nativeRuntime) CreateCommandQueue(context Context, device DeviceID, properties uint64) (CommandQueue, Status) {
	var err C.cl_int
	q := C.clCreateCommandQueue(C.cl_context(unsafe.Pointer(context)), C.cl_device_id(unsafe.Pointer(device)),
		C.cl_command_queue_properties(properties), &err)
	return CommandQueue(unsafe.Pointer(q)), Status(err)
}

func (r *nativeRuntime) CreateProgramWithSource(context Context, sources [][]byte) (Program, Status) {
	if len(sources) == 0 {
		return 0, InvalidValue
	}
	strs := make([]*C.char, len(sources))
	lens := make([]C.size_t, len(sources))
	for i, src := range sources {
		strs[i] = (*C.char)(C.CBytes(src))
		lens[i] = C.size_t(len(src))
	}
	defer func() {
		for _, s := range strs {
			C.free(unsafe.Pointer(s))
		}
	}()
	var err C.cl_int
	p := C.clCreateProgramWithSource(C.cl_context(unsafe.Pointer(context)), C.cl_uint(len(strs)), &strs[0], &lens[0], &err)
	return Program(unsafe.Pointer(p)), Status(err)
}

func (r *nativeRuntime) BuildProgram(program Program, devices []DeviceID, options string) Status {
	ids := make([]C.cl_device_id, len(devices))
	for i, d := range devices {
		ids[i] = C.cl_device_id(unsafe.Pointer(d))
	}
	var idsPtr *C.cl_device_id
	if len(ids) > 0 {
		idsPtr = &ids[0]
	}
	cOptions := C.CString(options)
	defer C.free(unsafe.Pointer(cOptions))
	return Status(C.clBuildProgram(C.cl_program(unsafe.Pointer(program)), C.cl_uint(len(ids)), idsPtr, cOptions, nil, nil))
}

func (r *nativeRuntime) GetProgramBuildInfo(program Program, device DeviceID, param ProgramBuildInfo, value []byte) (int, Status) {
	var size C.size_t
	st := C.clGetProgramBuildInfo(C.cl_program(unsafe.Pointer(program)), C.cl_device_id(unsafe.Pointer(device)),
		C.cl_program_build_info(param), C.size_t(len(value)), bytePtr(value), &size)
	return int(size), Status(st)
}

func (r *nativeRuntime) CreateKernel(program Program, name string) (Kernel, Status) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	var err C.cl_int
	k := C.clCreateKernel(C.cl_program(unsafe.Pointer(program)), cName, &err)
	return Kernel(unsafe.Pointer(k)), Status(err)
}

func (r *nativeRuntime) SetKernelArg(kernel Kernel, index uint32, value []byte) Status {
	return Status(C.clSetKernelArg(C.cl_kernel(unsafe.Pointer(kernel)), C.cl_uint(index), C.size_t(len(value)), bytePtr(value)))
}

func (r *nativeRuntime) CreateBuffer(context Context, flags MemFlags, size int, host []byte) (Mem, Status) {
	// The runtime may keep a MemUseHostPtr pointer for the buffer's whole
	// life, which Go memory cannot guarantee.
	if flags&MemUseHostPtr != 0 {
		return 0, InvalidHostPtr
	}
	var err C.cl_int
	m := C.clCreateBuffer(C.cl_context(unsafe.Pointer(context)), C.cl_mem_flags(flags), C.size_t(size), bytePtr(host), &err)
	return Mem(unsafe.Pointer(m)), Status(err)
}

func (r *nativeRuntime) EnqueueNDRangeKernel(queue CommandQueue, kernel Kernel, globalSize, localSize []int) Status {
	if len(globalSize) == 0 || (localSize != nil && len(localSize) != len(globalSize)) {
		return InvalidWorkDimension
	}
	global := make([]C.size_t, len(globalSize))
	for i, g := range globalSize {
		global[i] = C.size_t(g)
	}
	var localPtr *C.size_t
	if localSize != nil {
		local := make([]C.size_t, len(localSize))
		for i, l := range localSize {
			local[i] = C.size_t(l)
		}
		localPtr = &local[0]
	}
	return Status(C.clEnqueueNDRangeKernel(C.cl_command_queue(unsafe.Pointer(queue)), C.cl_kernel(unsafe.Pointer(kernel)),
		C.cl_uint(len(global)), nil, &global[0], localPtr, 0, nil, nil))
}

func (r *nativeRuntime) pin(queue CommandQueue, b []byte) {
	if len(b) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pinned[queue]
	if !ok {
		p = &runtime.Pinner{}
		r.pinned[queue] = p
	}
	p.Pin(&b[0])
}

func (r *nativeRuntime) unpin(queue CommandQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pinned[queue]; ok {
		p.Unpin()
		delete(r.pinned, queue)
	}
}

func (r *nativeRuntime) EnqueueReadBuffer(queue CommandQueue, buffer Mem, blocking bool, offset int, dst []byte) Status {
	if !blocking {
		r.pin(queue, dst)
	}
	st := Status(C.clEnqueueReadBuffer(C.cl_command_queue(unsafe.Pointer(queue)), C.cl_mem(unsafe.Pointer(buffer)),
		clBool(blocking), C.size_t(offset), C.size_t(len(dst)), bytePtr(dst), 0, nil, nil))
	if blocking && st == Success {
		r.unpin(queue)
	}
	return st
}

func (r *nativeRuntime) EnqueueWriteBuffer(queue CommandQueue, buffer Mem, blocking bool, offset int, src []byte) Status {
	if !blocking {
		r.pin(queue, src)
	}
	st := Status(C.clEnqueueWriteBuffer(C.cl_command_queue(unsafe.Pointer(queue)), C.cl_mem(unsafe.Pointer(buffer)),
		clBool(blocking), C.size_t(offset), C.size_t(len(src)), bytePtr(src), 0, nil, nil))
	if blocking && st == Success {
		r.unpin(queue)
	}
	return st
}

func (r *nativeRuntime) Flush(queue CommandQueue) Status {
	return Status(C.clFlush(C.cl_command_queue(unsafe.Pointer(queue))))
}

func (r *nativeRuntime) Finish(queue CommandQueue) Status {
	st := Status(C.clFinish(C.cl_command_queue(unsafe.Pointer(queue))))
	if st == Success {
		r.unpin(queue)
	}
	return st
}

func (r *nativeRuntime) ReleaseContext(context Context) Status {
	return Status(C.clReleaseContext(C.cl_context(unsafe.Pointer(context))))
}

func (r *nativeRuntime) ReleaseCommandQueue(queue CommandQueue) Status {
	// clReleaseCommandQueue flushes but does not wait.
	st := Status(C.clFinish(C.cl_command_queue(unsafe.Pointer(queue))))
	if st == Success {
		r.unpin(queue)
	}
	return Status(C.clReleaseCommandQueue(C.cl_command_queue(unsafe.Pointer(queue))))
}

func (r *nativeRuntime) ReleaseProgram(program Program) Status {
	return Status(C.clReleaseProgram(C.cl_program(unsafe.Pointer(program))))
}

func (r *nativeRuntime) ReleaseKernel(kernel Kernel) Status {
	return Status(C.clReleaseKernel(C.cl_kernel(unsafe.Pointer(kernel))))
}

func (r *nativeRuntime) ReleaseMemObject(buffer Mem) Status {
	return Status(C.clReleaseMemObject(C.cl_mem(unsafe.Pointer(buffer))))
}

func clBool(b bool) C.cl_bool {
	if b {
		return C.CL_TRUE
	}
	return C.CL_FALSE
}
