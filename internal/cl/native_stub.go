//go:build !opencl
// +build !opencl

package cl

// NewNative reports that OpenCL support was not compiled in.
func NewNative() (Runtime, error) {
	return nil, ErrUnavailable
}
