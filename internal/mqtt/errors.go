package mqtt

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when the broker stays unreachable for every connectivity check.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
