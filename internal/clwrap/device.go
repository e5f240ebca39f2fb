package clwrap

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/fxnlabs/tinycl/internal/cl"
)

// DeviceDescription is the human-readable identity of a device.
type DeviceDescription struct {
	Name    string
	Version string
	ECC     bool
}

// String formats the description as "<name>; <version>[ (ECC)]".
func (d DeviceDescription) String() string {
	s := d.Name + "; " + d.Version
	if d.ECC {
		s += " (ECC)"
	}
	return s
}

func deviceType(onlyGPU bool) cl.DeviceType {
	if onlyGPU {
		return cl.DeviceTypeGPU
	}
	return cl.DeviceTypeAll
}

// platforms returns at most maxPlatforms platform handles. A loader that
// reports no platform installed yields an empty list.
func (w *Wrapper) platforms() ([]cl.PlatformID, error) {
	ids := make([]cl.PlatformID, w.maxPlatforms)
	n, st := w.rt.GetPlatformIDs(ids)
	if st == cl.PlatformNotFoundKHR {
		return nil, nil
	}
	if err := w.check("clGetPlatformIDs", st); err != nil {
		return nil, err
	}
	// n is the number installed, which may exceed the slots we passed.
	if int(n) < len(ids) {
		ids = ids[:n]
	}
	return ids, nil
}

// CountDevices returns the number of GPU-class devices across all
// platforms.
func (w *Wrapper) CountDevices() (int, error) {
	return w.countDevices(cl.DeviceTypeGPU)
}

// CountAllDevices returns the number of devices of any type across all
// platforms.
func (w *Wrapper) CountAllDevices() (int, error) {
	return w.countDevices(cl.DeviceTypeAll)
}

func (w *Wrapper) countDevices(t cl.DeviceType) (int, error) {
	platforms, err := w.platforms()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range platforms {
		n, st := w.rt.GetDeviceIDs(p, t, nil)
		if st == cl.DeviceNotFound {
			continue
		}
		if err := w.check("clGetDeviceIDs", st); err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// ListDeviceIDs returns up to capacity device handles in platform order,
// GPU-class only when onlyGPU is set.
func (w *Wrapper) ListDeviceIDs(onlyGPU bool, capacity int) ([]cl.DeviceID, error) {
	if capacity < 0 {
		capacity = 0
	}
	platforms, err := w.platforms()
	if err != nil {
		return nil, err
	}
	out := make([]cl.DeviceID, 0, capacity)
	for _, p := range platforms {
		if len(out) >= capacity {
			break
		}
		buf := make([]cl.DeviceID, capacity-len(out))
		n, st := w.rt.GetDeviceIDs(p, deviceType(onlyGPU), buf)
		if st == cl.DeviceNotFound {
			continue
		}
		if err := w.check("clGetDeviceIDs", st); err != nil {
			return out, err
		}
		if int(n) < len(buf) {
			buf = buf[:n]
		}
		out = append(out, buf...)
	}
	return out, nil
}

// DescribeDevice returns "<name>; <version>" with " (ECC)" appended when
// the device supports error correction.
func (w *Wrapper) DescribeDevice(device cl.DeviceID) (string, error) {
	d, err := w.DeviceDetails(device)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// DeviceDetails queries the device name, version and ECC support.
func (w *Wrapper) DeviceDetails(device cl.DeviceID) (DeviceDescription, error) {
	var d DeviceDescription
	var err error
	if d.Name, err = w.deviceString(device, cl.DeviceName, "CL_DEVICE_NAME"); err != nil {
		return d, err
	}
	if d.Version, err = w.deviceString(device, cl.DeviceVersion, "CL_DEVICE_VERSION"); err != nil {
		return d, err
	}
	ecc := make([]byte, cl.BoolSize)
	_, st := w.rt.GetDeviceInfo(device, cl.DeviceErrorCorrectionSupport, ecc)
	if err := w.checkLabel("clGetDeviceInfo", st, "CL_DEVICE_ERROR_CORRECTION_SUPPORT"); err != nil {
		return d, err
	}
	d.ECC = binary.NativeEndian.Uint32(ecc) != 0
	return d, nil
}

// deviceString reads a string property sized by a preliminary query.
func (w *Wrapper) deviceString(device cl.DeviceID, param cl.DeviceInfo, name string) (string, error) {
	size, st := w.rt.GetDeviceInfo(device, param, nil)
	if err := w.checkLabel("clGetDeviceInfo", st, name); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	n, st := w.rt.GetDeviceInfo(device, param, buf)
	if err := w.checkLabel("clGetDeviceInfo", st, name); err != nil {
		return "", err
	}
	if n > len(buf) {
		return "", w.fail(&Error{Op: "clGetDeviceInfo", Code: cl.InvalidValue, Label: fmt.Sprintf("%s grew from %d to %d bytes", name, size, n)})
	}
	return strings.TrimRight(string(buf[:n]), "\x00"), nil
}
