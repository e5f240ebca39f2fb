// Package cltest provides an in-process cl.Runtime for tests.
//
// The simulated runtime keeps the native contract where tinycl depends on
// it: status codes for bad handles and argument sizes, the two-call info
// protocol, in-order queues whose non-blocking commands only run when the
// queue is synchronised, and per-handle release bookkeeping. Kernels are
// Go functions registered with DefineKernel.
package cltest

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"unsafe"

	"github.com/fxnlabs/tinycl/internal/cl"
)

// Device describes one simulated device.
type Device struct {
	Name    string
	Version string
	ECC     bool
	Type    cl.DeviceType
}

// Platform groups simulated devices.
type Platform struct {
	Devices []Device
}

// Builder decides whether a program builds with the given options.
// A non-Success status fails the build; log becomes the build log.
type Builder func(source, options string) (log string, st cl.Status)

// KernelDef declares a kernel entry point: its argument slot sizes in
// bytes and the body executed once per launch.
type KernelDef struct {
	Name     string
	ArgSizes []int
	Body     func(inv *Invocation)
}

// BuildRecord is one BuildProgram call.
type BuildRecord struct {
	Program cl.Program
	Options string
	Status  cl.Status
}

// LaunchRecord is one executed kernel launch.
type LaunchRecord struct {
	Kernel     string
	GlobalSize []int
	LocalSize  []int
	Args       [][]byte
}

// Counts reports live (created and not yet released) handles.
type Counts struct {
	Contexts int
	Queues   int
	Programs int
	Kernels  int
	Buffers  int
}

type platformState struct {
	id      cl.PlatformID
	devices []cl.DeviceID
}

type programState struct {
	context cl.Context
	source  string
	built   bool
	log     map[cl.DeviceID]string
}

type kernelState struct {
	def  KernelDef
	args [][]byte
	set  []bool
}

type bufferState struct {
	flags cl.MemFlags
	data  []byte
}

type queueState struct {
	context cl.Context
	device  cl.DeviceID
	pending []func()
}

// Runtime is a simulated cl.Runtime. It is safe for concurrent use;
// kernel bodies run with the runtime lock held and must not call back
// into it.
type Runtime struct {
	mu sync.Mutex

	next      uintptr
	platforms []platformState
	devices   map[cl.DeviceID]Device

	contexts map[cl.Context]bool
	queues   map[cl.CommandQueue]*queueState
	programs map[cl.Program]*programState
	kernels  map[cl.Kernel]*kernelState
	buffers  map[cl.Mem]*bufferState

	defs     map[string]KernelDef
	builder  Builder
	failures map[string]cl.Status

	builds   []BuildRecord
	launches []LaunchRecord
}

var _ cl.Runtime = (*Runtime)(nil)

// New creates a simulated runtime exposing the given platforms.
func New(platforms ...Platform) *Runtime {
	r := &Runtime{
		next:     0x1000,
		devices:  make(map[cl.DeviceID]Device),
		contexts: make(map[cl.Context]bool),
		queues:   make(map[cl.CommandQueue]*queueState),
		programs: make(map[cl.Program]*programState),
		kernels:  make(map[cl.Kernel]*kernelState),
		buffers:  make(map[cl.Mem]*bufferState),
		defs:     make(map[string]KernelDef),
		failures: make(map[string]cl.Status),
		builder: func(string, string) (string, cl.Status) {
			return "", cl.Success
		},
	}
	for _, p := range platforms {
		ps := platformState{id: cl.PlatformID(r.handle())}
		for _, d := range p.Devices {
			id := cl.DeviceID(r.handle())
			r.devices[id] = d
			ps.devices = append(ps.devices, id)
		}
		r.platforms = append(r.platforms, ps)
	}
	return r
}

// GPU is a shorthand for a GPU-class device.
func GPU(name, version string, ecc bool) Device {
	return Device{Name: name, Version: version, ECC: ecc, Type: cl.DeviceTypeGPU}
}

// CPU is a shorthand for a CPU-class device.
func CPU(name, version string) Device {
	return Device{Name: name, Version: version, Type: cl.DeviceTypeCPU}
}

func (r *Runtime) handle() uintptr {
	r.next += 0x10
	return r.next
}

// SetBuilder replaces the program build policy.
func (r *Runtime) SetBuilder(b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builder = b
}

// DefineKernel registers a kernel entry point available to any program
// whose source mentions its name.
func (r *Runtime) DefineKernel(def KernelDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Fail forces every later call of the named Runtime method to return st.
func (r *Runtime) Fail(method string, st cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[method] = st
}

// ClearFailures removes all forced failures.
func (r *Runtime) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = make(map[string]cl.Status)
}

// Devices returns every simulated device handle in platform order.
func (r *Runtime) Devices() []cl.DeviceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cl.DeviceID
	for _, p := range r.platforms {
		out = append(out, p.devices...)
	}
	return out
}

// Live reports the handles created and not yet released.
func (r *Runtime) Live() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counts{
		Contexts: len(r.contexts),
		Queues:   len(r.queues),
		Programs: len(r.programs),
		Kernels:  len(r.kernels),
		Buffers:  len(r.buffers),
	}
}

// Builds returns every BuildProgram call in order.
func (r *Runtime) Builds() []BuildRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BuildRecord(nil), r.builds...)
}

// Launches returns every executed kernel launch in order.
func (r *Runtime) Launches() []LaunchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LaunchRecord(nil), r.launches...)
}

// BufferContents returns a copy of a live buffer's bytes.
func (r *Runtime) BufferContents(m cl.Mem) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[m]
	if !ok {
		return nil
	}
	return append([]byte(nil), b.data...)
}

func (r *Runtime) forced(method string) (cl.Status, bool) {
	st, ok := r.failures[method]
	return st, ok
}

func (r *Runtime) GetPlatformIDs(platforms []cl.PlatformID) (uint32, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("GetPlatformIDs"); ok {
		return 0, st
	}
	if len(r.platforms) == 0 {
		return 0, cl.PlatformNotFoundKHR
	}
	for i := 0; i < len(platforms) && i < len(r.platforms); i++ {
		platforms[i] = r.platforms[i].id
	}
	return uint32(len(r.platforms)), cl.Success
}

func (r *Runtime) GetDeviceIDs(platform cl.PlatformID, deviceType cl.DeviceType, devices []cl.DeviceID) (uint32, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("GetDeviceIDs"); ok {
		return 0, st
	}
	var ps *platformState
	for i := range r.platforms {
		if r.platforms[i].id == platform {
			ps = &r.platforms[i]
		}
	}
	if ps == nil {
		return 0, cl.InvalidPlatform
	}
	var matched []cl.DeviceID
	for _, id := range ps.devices {
		if deviceType == cl.DeviceTypeAll || r.devices[id].Type&deviceType != 0 {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		return 0, cl.DeviceNotFound
	}
	copy(devices, matched)
	return uint32(len(matched)), cl.Success
}

func (r *Runtime) GetDeviceInfo(device cl.DeviceID, param cl.DeviceInfo, value []byte) (int, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("GetDeviceInfo"); ok {
		return 0, st
	}
	d, ok := r.devices[device]
	if !ok {
		return 0, cl.InvalidDevice
	}
	var result []byte
	switch param {
	case cl.DeviceName:
		result = append([]byte(d.Name), 0)
	case cl.DeviceVersion:
		result = append([]byte(d.Version), 0)
	case cl.DeviceVendor:
		result = append([]byte("tinycl simulated"), 0)
	case cl.DeviceErrorCorrectionSupport:
		result = make([]byte, cl.BoolSize)
		if d.ECC {
			binary.NativeEndian.PutUint32(result, 1)
		}
	default:
		return 0, cl.InvalidValue
	}
	return putInfo(result, value)
}

func putInfo(result, value []byte) (int, cl.Status) {
	if value == nil {
		return len(result), cl.Success
	}
	if len(value) < len(result) {
		return 0, cl.InvalidValue
	}
	copy(value, result)
	return len(result), cl.Success
}

func (r *Runtime) CreateContext(devices []cl.DeviceID) (cl.Context, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("CreateContext"); ok {
		return 0, st
	}
	if len(devices) == 0 {
		return 0, cl.InvalidValue
	}
	for _, d := range devices {
		if _, ok := r.devices[d]; !ok {
			return 0, cl.InvalidDevice
		}
	}
	c := cl.Context(r.handle())
	r.contexts[c] = true
	return c, cl.Success
}

func (r *Runtime) CreateCommandQueue(context cl.Context, device cl.DeviceID, properties uint64) (cl.CommandQueue, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("CreateCommandQueue"); ok {
		return 0, st
	}
	if !r.contexts[context] {
		return 0, cl.InvalidContext
	}
	if _, ok := r.devices[device]; !ok {
		return 0, cl.InvalidDevice
	}
	if properties != 0 {
		return 0, cl.InvalidQueueProperties
	}
	q := cl.CommandQueue(r.handle())
	r.queues[q] = &queueState{context: context, device: device}
	return q, cl.Success
}

func (r *Runtime) CreateProgramWithSource(context cl.Context, sources [][]byte) (cl.Program, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("CreateProgramWithSource"); ok {
		return 0, st
	}
	if !r.contexts[context] {
		return 0, cl.InvalidContext
	}
	if len(sources) == 0 {
		return 0, cl.InvalidValue
	}
	var sb strings.Builder
	for _, s := range sources {
		sb.Write(s)
	}
	p := cl.Program(r.handle())
	r.programs[p] = &programState{context: context, source: sb.String(), log: make(map[cl.DeviceID]string)}
	return p, cl.Success
}

func (r *Runtime) BuildProgram(program cl.Program, devices []cl.DeviceID, options string) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.programs[program]
	if !ok {
		return cl.InvalidProgram
	}
	st, forced := r.forced("BuildProgram")
	log := ""
	if !forced {
		log, st = r.builder(ps.source, options)
	}
	r.builds = append(r.builds, BuildRecord{Program: program, Options: options, Status: st})
	targets := devices
	if len(targets) == 0 {
		targets = r.allDevices()
	}
	for _, d := range targets {
		ps.log[d] = log
	}
	ps.built = st == cl.Success
	return st
}

func (r *Runtime) allDevices() []cl.DeviceID {
	var out []cl.DeviceID
	for _, p := range r.platforms {
		out = append(out, p.devices...)
	}
	return out
}

func (r *Runtime) GetProgramBuildInfo(program cl.Program, device cl.DeviceID, param cl.ProgramBuildInfo, value []byte) (int, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("GetProgramBuildInfo"); ok {
		return 0, st
	}
	ps, ok := r.programs[program]
	if !ok {
		return 0, cl.InvalidProgram
	}
	if _, ok := r.devices[device]; !ok {
		return 0, cl.InvalidDevice
	}
	if param != cl.ProgramBuildLog {
		return 0, cl.InvalidValue
	}
	return putInfo(append([]byte(ps.log[device]), 0), value)
}

func (r *Runtime) CreateKernel(program cl.Program, name string) (cl.Kernel, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("CreateKernel"); ok {
		return 0, st
	}
	ps, ok := r.programs[program]
	if !ok {
		return 0, cl.InvalidProgram
	}
	if !ps.built {
		return 0, cl.InvalidProgramExecutable
	}
	def, ok := r.defs[name]
	if !ok || !strings.Contains(ps.source, name) {
		return 0, cl.InvalidKernelName
	}
	k := cl.Kernel(r.handle())
	r.kernels[k] = &kernelState{
		def:  def,
		args: make([][]byte, len(def.ArgSizes)),
		set:  make([]bool, len(def.ArgSizes)),
	}
	return k, cl.Success
}

func (r *Runtime) SetKernelArg(kernel cl.Kernel, index uint32, value []byte) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("SetKernelArg"); ok {
		return st
	}
	ks, ok := r.kernels[kernel]
	if !ok {
		return cl.InvalidKernel
	}
	if int(index) >= len(ks.def.ArgSizes) {
		return cl.InvalidArgIndex
	}
	if len(value) != ks.def.ArgSizes[index] {
		return cl.InvalidArgSize
	}
	ks.args[index] = append([]byte(nil), value...)
	ks.set[index] = true
	return cl.Success
}

func (r *Runtime) CreateBuffer(context cl.Context, flags cl.MemFlags, size int, host []byte) (cl.Mem, cl.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("CreateBuffer"); ok {
		return 0, st
	}
	if !r.contexts[context] {
		return 0, cl.InvalidContext
	}
	if size <= 0 {
		return 0, cl.InvalidBufferSize
	}
	hostFlags := flags & (cl.MemCopyHostPtr | cl.MemUseHostPtr)
	if (host == nil) != (hostFlags == 0) || (host != nil && len(host) < size) {
		return 0, cl.InvalidHostPtr
	}
	data := make([]byte, size)
	copy(data, host)
	m := cl.Mem(r.handle())
	r.buffers[m] = &bufferState{flags: flags, data: data}
	return m, cl.Success
}

func (r *Runtime) EnqueueNDRangeKernel(queue cl.CommandQueue, kernel cl.Kernel, globalSize, localSize []int) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("EnqueueNDRangeKernel"); ok {
		return st
	}
	qs, ok := r.queues[queue]
	if !ok {
		return cl.InvalidCommandQueue
	}
	ks, ok := r.kernels[kernel]
	if !ok {
		return cl.InvalidKernel
	}
	if len(globalSize) < 1 || len(globalSize) > 3 || (localSize != nil && len(localSize) != len(globalSize)) {
		return cl.InvalidWorkDimension
	}
	for i, g := range globalSize {
		if g <= 0 {
			return cl.InvalidGlobalWorkSize
		}
		if localSize != nil && (localSize[i] <= 0 || g%localSize[i] != 0) {
			return cl.InvalidWorkGroupSize
		}
	}
	for _, set := range ks.set {
		if !set {
			return cl.InvalidKernelArgs
		}
	}
	args := make([][]byte, len(ks.args))
	for i, a := range ks.args {
		args[i] = append([]byte(nil), a...)
	}
	rec := LaunchRecord{
		Kernel:     ks.def.Name,
		GlobalSize: append([]int(nil), globalSize...),
		LocalSize:  append([]int(nil), localSize...),
		Args:       args,
	}
	body := ks.def.Body
	qs.pending = append(qs.pending, func() {
		r.launches = append(r.launches, rec)
		if body != nil {
			body(&Invocation{rt: r, args: args, GlobalSize: rec.GlobalSize[0]})
		}
	})
	return cl.Success
}

func (r *Runtime) transfer(method string, queue cl.CommandQueue, buffer cl.Mem, blocking bool, offset, size int, op func(b *bufferState)) cl.Status {
	if st, ok := r.forced(method); ok {
		return st
	}
	qs, ok := r.queues[queue]
	if !ok {
		return cl.InvalidCommandQueue
	}
	bs, ok := r.buffers[buffer]
	if !ok {
		return cl.InvalidMemObject
	}
	if offset < 0 || offset+size > len(bs.data) {
		return cl.InvalidValue
	}
	qs.pending = append(qs.pending, func() { op(bs) })
	if blocking {
		drain(qs)
	}
	return cl.Success
}

func (r *Runtime) EnqueueReadBuffer(queue cl.CommandQueue, buffer cl.Mem, blocking bool, offset int, dst []byte) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfer("EnqueueReadBuffer", queue, buffer, blocking, offset, len(dst), func(b *bufferState) {
		copy(dst, b.data[offset:offset+len(dst)])
	})
}

func (r *Runtime) EnqueueWriteBuffer(queue cl.CommandQueue, buffer cl.Mem, blocking bool, offset int, src []byte) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	// The host slice is read when the command runs, as with a native
	// non-blocking write.
	return r.transfer("EnqueueWriteBuffer", queue, buffer, blocking, offset, len(src), func(b *bufferState) {
		copy(b.data[offset:offset+len(src)], src)
	})
}

func drain(qs *queueState) {
	for len(qs.pending) > 0 {
		cmd := qs.pending[0]
		qs.pending = qs.pending[1:]
		cmd()
	}
}

func (r *Runtime) syncQueue(method string, queue cl.CommandQueue) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced(method); ok {
		return st
	}
	qs, ok := r.queues[queue]
	if !ok {
		return cl.InvalidCommandQueue
	}
	drain(qs)
	return cl.Success
}

// Flush runs every pending command; the simulated device has no
// asynchronous execution to start.
func (r *Runtime) Flush(queue cl.CommandQueue) cl.Status {
	return r.syncQueue("Flush", queue)
}

func (r *Runtime) Finish(queue cl.CommandQueue) cl.Status {
	return r.syncQueue("Finish", queue)
}

// Pending reports the number of queued, not yet executed commands.
func (r *Runtime) Pending(queue cl.CommandQueue) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if qs, ok := r.queues[queue]; ok {
		return len(qs.pending)
	}
	return 0
}

func (r *Runtime) ReleaseContext(context cl.Context) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("ReleaseContext"); ok {
		return st
	}
	if !r.contexts[context] {
		return cl.InvalidContext
	}
	delete(r.contexts, context)
	return cl.Success
}

func (r *Runtime) ReleaseCommandQueue(queue cl.CommandQueue) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("ReleaseCommandQueue"); ok {
		return st
	}
	qs, ok := r.queues[queue]
	if !ok {
		return cl.InvalidCommandQueue
	}
	drain(qs)
	delete(r.queues, queue)
	return cl.Success
}

func (r *Runtime) ReleaseProgram(program cl.Program) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("ReleaseProgram"); ok {
		return st
	}
	if _, ok := r.programs[program]; !ok {
		return cl.InvalidProgram
	}
	delete(r.programs, program)
	return cl.Success
}

func (r *Runtime) ReleaseKernel(kernel cl.Kernel) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("ReleaseKernel"); ok {
		return st
	}
	if _, ok := r.kernels[kernel]; !ok {
		return cl.InvalidKernel
	}
	delete(r.kernels, kernel)
	return cl.Success
}

func (r *Runtime) ReleaseMemObject(buffer cl.Mem) cl.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.forced("ReleaseMemObject"); ok {
		return st
	}
	if _, ok := r.buffers[buffer]; !ok {
		return cl.InvalidMemObject
	}
	delete(r.buffers, buffer)
	return cl.Success
}

// Invocation is the view a kernel body has of one launch.
type Invocation struct {
	rt         *Runtime
	args       [][]byte
	GlobalSize int
}

// Arg returns the raw bytes bound to slot i.
func (inv *Invocation) Arg(i int) []byte {
	return inv.args[i]
}

// Uint32 decodes slot i as a cl_uint.
func (inv *Invocation) Uint32(i int) uint32 {
	return binary.NativeEndian.Uint32(inv.args[i])
}

// Float32 decodes slot i as a float.
func (inv *Invocation) Float32(i int) float32 {
	return math.Float32frombits(binary.NativeEndian.Uint32(inv.args[i]))
}

// Buffer resolves slot i as a memory object and returns its live
// contents. Writes through the slice update the device buffer.
func (inv *Invocation) Buffer(i int) []byte {
	var m cl.Mem
	if unsafe.Sizeof(uintptr(0)) == 8 {
		m = cl.Mem(binary.NativeEndian.Uint64(inv.args[i]))
	} else {
		m = cl.Mem(binary.NativeEndian.Uint32(inv.args[i]))
	}
	bs, ok := inv.rt.buffers[m]
	if !ok {
		return nil
	}
	return bs.data
}

// Float32s views slot i's buffer as float32 values.
func (inv *Invocation) Float32s(i int) []float32 {
	b := inv.Buffer(i)
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
