//go:build opencl

package cl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstDevice skips the test on hosts without an OpenCL platform.
func firstDevice(t *testing.T, rt Runtime) DeviceID {
	t.Helper()
	platforms := make([]PlatformID, 4)
	n, st := rt.GetPlatformIDs(platforms)
	if st == PlatformNotFoundKHR || n == 0 {
		t.Skip("no OpenCL platform installed")
	}
	require.Equal(t, Success, st)

	for _, p := range platforms[:min(int(n), len(platforms))] {
		devices := make([]DeviceID, 1)
		if _, st := rt.GetDeviceIDs(p, DeviceTypeAll, devices); st == Success {
			return devices[0]
		}
	}
	t.Skip("no OpenCL device available")
	return 0
}

func TestNative_DeviceInfoSizeQuery(t *testing.T) {
	rt, err := NewNative()
	require.NoError(t, err)
	device := firstDevice(t, rt)

	size, st := rt.GetDeviceInfo(device, DeviceName, nil)
	require.Equal(t, Success, st)
	require.Greater(t, size, 0)

	_, st = rt.GetDeviceInfo(device, DeviceName, make([]byte, 1))
	assert.Equal(t, InvalidValue, st, "a short buffer is rejected")

	buf := make([]byte, size)
	n, st := rt.GetDeviceInfo(device, DeviceName, buf)
	require.Equal(t, Success, st)
	assert.Equal(t, size, n)
}

func TestNative_BufferRoundTrip(t *testing.T) {
	rt, err := NewNative()
	require.NoError(t, err)
	device := firstDevice(t, rt)

	ctx, st := rt.CreateContext([]DeviceID{device})
	require.Equal(t, Success, st)
	defer rt.ReleaseContext(ctx)
	q, st := rt.CreateCommandQueue(ctx, device, 0)
	require.Equal(t, Success, st)
	defer rt.ReleaseCommandQueue(q)

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	m, st := rt.CreateBuffer(ctx, MemReadWrite|MemCopyHostPtr, len(src), src)
	require.Equal(t, Success, st)
	defer rt.ReleaseMemObject(m)

	require.Equal(t, Success, rt.EnqueueWriteBuffer(q, m, false, 0, []byte{9, 9}))
	dst := make([]byte, len(src))
	require.Equal(t, Success, rt.EnqueueReadBuffer(q, m, false, 0, dst))
	require.Equal(t, Success, rt.Finish(q))
	assert.Equal(t, []byte{9, 9, 3, 4, 5, 6, 7, 8}, dst)
}
