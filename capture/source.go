package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

// Source is a capture driver. Acquire is only called from the capture loop,
// between a successful Open and the matching Close.
type Source interface {
	Open() error
	Acquire() (*Frame, error)
	Close() error
}

var ErrDeviceUnavailable = errors.New("device unavailable")

// DeviceError reports a Source that could not be acquired. It matches
// ErrDeviceUnavailable with errors.Is.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s unavailable: %v", e.Device, e.Err)
}

func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceUnavailable
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Cause() error { return e.Err }
