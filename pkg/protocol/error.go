package protocol

import (
	"errors"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// Temporary returns true if the Error might be the result of a transient condition. For
	// example, a connection request is rejected while the adapter is still turning on.
	Temporary() bool
}

var (
	// ErrPolicyForbidden indicates the connection policy for the device and profile is Forbidden.
	ErrPolicyForbidden = NewError("connection policy forbids this profile", false)
	// ErrNotBonded indicates the device is not bonded with the local adapter.
	ErrNotBonded = NewError("device is not bonded", false)
	// ErrMissingUUID indicates the device did not advertise the UUID of the requested profile.
	ErrMissingUUID = NewError("device does not support the profile", false)
	// ErrUnknownDevice indicates no state exists for the device.
	ErrUnknownDevice = NewError("unknown device", false)
	// ErrAdapterNotReady indicates the local adapter is not turned on.
	ErrAdapterNotReady = NewError("adapter is not on", true)
	// ErrStackRejected indicates the native stack refused to start the operation.
	ErrStackRejected = NewError("native stack rejected the request", true)
	// ErrNotConnected indicates the device has no connection for the profile.
	ErrNotConnected = NewError("device is not connected", false)
	// ErrServiceStopped indicates the profile service is not running.
	ErrServiceStopped = NewError("profile service is not running", true)
	// ErrNoActiveSlots indicates the profile does not keep active devices.
	ErrNoActiveSlots  = errors.New("profile does not support active devices")
	ErrInvalidAddress = errors.New("invalid device address")
	ErrUnknownProfile = errors.New("unknown profile")
)

// RejectionError is returned when a request is refused at the API boundary. Refused requests
// never create connection state and never produce a notification.
type RejectionError struct {
	Err               error
	PossibleTemporary bool
}

func NewError(message string, temporary bool) error {
	return &RejectionError{Err: errors.New(message), PossibleTemporary: temporary}
}

func (e *RejectionError) Error() string {
	return e.Err.Error()
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

func (e *RejectionError) Temporary() bool {
	return e.PossibleTemporary
}

// Temporary returns true if err is an Error that indicates the request failed due to possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var e Error
	if errors.As(err, &e) && e.Temporary() {
		return true
	}
	return false
}

// IsRejection returns true if err (or an error it wraps) is a RejectionError.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	var rErr *RejectionError
	return errors.As(err, &rErr)
}
