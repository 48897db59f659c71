package mqtt

import "errors"

// Sentinel errors for broker operations. Check with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrInvalidQoS        = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic      = errors.New("mqtt: topic cannot be empty")
	ErrPayloadTooLarge   = errors.New("mqtt: payload too large")

	// ErrTimeout is wrapped when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
