package mqtt

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a live broker connection.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed wraps broker connection failures.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps publish failures.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscribe failures.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrInvalidQoS   = errors.New("mqtt: invalid qos")
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrDisabled is returned by Connect when MQTT is not enabled.
	ErrDisabled = errors.New("mqtt: disabled")
)
