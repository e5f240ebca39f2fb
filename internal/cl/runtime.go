// Package cl declares the subset of the OpenCL C API used by tinycl.
//
// Runtime mirrors the native entry points one-to-one: arguments keep the
// native order, pointer+length pairs become Go slices, and every call
// reports the raw native Status. Nothing in this package interprets a
// status; policy lives in the clwrap package.
//
// The cgo implementation is compiled with the "opencl" build tag:
//
//	go build -tags opencl ./...
//
// Without the tag NewNative returns ErrUnavailable.
package cl

import "errors"

// ErrUnavailable is returned by NewNative when the binary was built
// without OpenCL support.
var ErrUnavailable = errors.New("cl: OpenCL support not compiled in (build with -tags opencl)")

// Opaque native handles. The zero value is the absent handle.
type (
	PlatformID   uintptr
	DeviceID     uintptr
	Context      uintptr
	CommandQueue uintptr
	Program      uintptr
	Kernel       uintptr
	Mem          uintptr
)

// DeviceType is a cl_device_type bitfield.
type DeviceType uint64

const (
	DeviceTypeDefault     DeviceType = 1 << 0
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeAll         DeviceType = 0xFFFFFFFF
)

// DeviceInfo is a cl_device_info query parameter.
type DeviceInfo uint32

const (
	DeviceErrorCorrectionSupport DeviceInfo = 0x1024
	DeviceName                   DeviceInfo = 0x102B
	DeviceVendor                 DeviceInfo = 0x102C
	DeviceVersion                DeviceInfo = 0x102F
)

// ProgramBuildInfo is a cl_program_build_info query parameter.
type ProgramBuildInfo uint32

const (
	ProgramBuildStatus  ProgramBuildInfo = 0x1181
	ProgramBuildOptions ProgramBuildInfo = 0x1182
	ProgramBuildLog     ProgramBuildInfo = 0x1183
)

// MemFlags is a cl_mem_flags bitfield.
type MemFlags uint64

const (
	MemReadWrite    MemFlags = 1 << 0
	MemWriteOnly    MemFlags = 1 << 1
	MemReadOnly     MemFlags = 1 << 2
	MemUseHostPtr   MemFlags = 1 << 3
	MemAllocHostPtr MemFlags = 1 << 4
	MemCopyHostPtr  MemFlags = 1 << 5
)

// Size of a cl_bool device info value.
const BoolSize = 4

// Runtime is the native OpenCL entry-point table.
//
// Info queries follow the native two-call protocol: a nil value slice
// returns only the required size, a value slice shorter than the result
// yields InvalidValue. String results include the trailing NUL.
type Runtime interface {
	GetPlatformIDs(platforms []PlatformID) (uint32, Status)
	GetDeviceIDs(platform PlatformID, deviceType DeviceType, devices []DeviceID) (uint32, Status)
	GetDeviceInfo(device DeviceID, param DeviceInfo, value []byte) (int, Status)

	CreateContext(devices []DeviceID) (Context, Status)
	CreateCommandQueue(context Context, device DeviceID, properties uint64) (CommandQueue, Status)

	CreateProgramWithSource(context Context, sources [][]byte) (Program, Status)
	BuildProgram(program Program, devices []DeviceID, options string) Status
	GetProgramBuildInfo(program Program, device DeviceID, param ProgramBuildInfo, value []byte) (int, Status)

	CreateKernel(program Program, name string) (Kernel, Status)
	SetKernelArg(kernel Kernel, index uint32, value []byte) Status

	CreateBuffer(context Context, flags MemFlags, size int, host []byte) (Mem, Status)

	// EnqueueNDRangeKernel launches kernel over globalSize work-items split
	// into groups of localSize. Both slices have one entry per dimension.
	EnqueueNDRangeKernel(queue CommandQueue, kernel Kernel, globalSize, localSize []int) Status
	EnqueueReadBuffer(queue CommandQueue, buffer Mem, blocking bool, offset int, dst []byte) Status
	EnqueueWriteBuffer(queue CommandQueue, buffer Mem, blocking bool, offset int, src []byte) Status
	Flush(queue CommandQueue) Status
	Finish(queue CommandQueue) Status

	ReleaseContext(context Context) Status
	ReleaseCommandQueue(queue CommandQueue) Status
	ReleaseProgram(program Program) Status
	ReleaseKernel(kernel Kernel) Status
	ReleaseMemObject(buffer Mem) Status
}
