package cltest

import "unsafe"

var handleSize = int(unsafe.Sizeof(uintptr(0)))

// MatMul simulates the row-major matmul kernel: three buffer arguments
// (A, B, C) followed by the cl_uint dimensions M, N and K. Work-items past
// M*N do nothing.
func MatMul() KernelDef {
	return KernelDef{
		Name:     "matmul",
		ArgSizes: []int{handleSize, handleSize, handleSize, 4, 4, 4},
		Body: func(inv *Invocation) {
			a, b, c := inv.Float32s(0), inv.Float32s(1), inv.Float32s(2)
			m, n, k := int(inv.Uint32(3)), int(inv.Uint32(4)), int(inv.Uint32(5))
			for idx := 0; idx < inv.GlobalSize && idx < m*n; idx++ {
				row, col := idx/n, idx%n
				var acc float32
				for i := 0; i < k; i++ {
					acc += a[row*k+i] * b[i*n+col]
				}
				c[idx] = acc
			}
		},
	}
}

// Simulated returns a runtime with one GPU and the MatMul kernel defined.
func Simulated() *Runtime {
	rt := New(Platform{Devices: []Device{GPU("tinycl simulated GPU", "OpenCL 1.2 simulated", false)}})
	rt.DefineKernel(MatMul())
	return rt
}
