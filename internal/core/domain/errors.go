package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable = errors.New("media device not found")
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceBusy        = errors.New("media device busy")
	ErrUnsupported       = errors.New("media capture not supported")
	ErrAcquireInProgress = errors.New("media acquisition already in progress")
	ErrNoLocalMedia      = errors.New("no local media")

	ErrNoConnectedPeers = errors.New("no connected peers")
	ErrNotRegistered    = errors.New("not registered with broker")
	ErrNoPendingCall    = errors.New("no pending incoming call")
	ErrSessionStopped   = errors.New("session stopped")
	ErrInvalidInvite    = errors.New("invite does not carry a room id")
)

type DeviceErrorKind string

const (
	DevicePermission DeviceErrorKind = "permission"
	DeviceMissing    DeviceErrorKind = "missing"
	DeviceBusy       DeviceErrorKind = "busy"
)

// DeviceError is returned when local capture fails. Kind only selects the
// user-facing message; callers treat every kind the same way.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error (%s): %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError classifies err by the sentinel it wraps.
func NewDeviceError(err error) *DeviceError {
	kind := DeviceMissing
	switch {
	case errors.Is(err, ErrPermissionDenied):
		kind = DevicePermission
	case errors.Is(err, ErrDeviceBusy):
		kind = DeviceBusy
	}
	return &DeviceError{Kind: kind, Err: err}
}

func (e *DeviceError) UserMessage() string {
	switch e.Kind {
	case DevicePermission:
		return "Camera/microphone permission denied."
	case DeviceBusy:
		return "Camera or microphone is in use by another application."
	default:
		return "No camera or microphone found."
	}
}
