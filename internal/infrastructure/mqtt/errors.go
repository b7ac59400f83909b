package mqtt

import "errors"

// Sentinels returned by the broker client. Match with errors.Is.
var (
	// ErrNotConnected means the broker link is down (or was never up).
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed means Connect gave up before the broker answered.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a reading or poll-outcome publish that the
	// broker rejected or did not acknowledge in time.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a rejected or timed-out subscription,
	// including the poll command subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects anything above QoS 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
