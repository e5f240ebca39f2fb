// Package kernels provides the OpenCL C sources built into tinycl.
package kernels

import _ "embed"

// MatMulSource is the row-major single-precision matrix multiply used by
// the self-test.
//
//go:embed matmul.cl
var MatMulSource []byte

// MatMulKernel is the entry point name in MatMulSource.
const MatMulKernel = "matmul"
