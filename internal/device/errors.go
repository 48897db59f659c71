package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrInvalidDeviceID) {
//	    // reject the registration request
//	}
var (
	// ErrInvalidDeviceID is returned when a device ID is empty, too long or
	// contains characters that are not safe in an MQTT topic level.
	ErrInvalidDeviceID = errors.New("device: invalid device id")

	// ErrEmptyKey is returned when registering a device without a key.
	ErrEmptyKey = errors.New("device: api key cannot be empty")
)
