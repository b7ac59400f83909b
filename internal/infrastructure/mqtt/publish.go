package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/meterlog/internal/measurement"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "meterlog/poll/meter-a")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishJSON marshals v and publishes it with the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), retained)
}

// Reading is the payload published on meterlog/reading/{device}/{channel}.
type Reading struct {
	DeviceID      string  `json:"device_id"`
	Channel       int     `json:"channel"`
	MeasuredValue float64 `json:"measured_value"`
	RecordedTime  int64   `json:"recorded_time"`
	RecordedAt    string  `json:"recorded_at"`
}

// NewReading builds the published form of a stored measurement.
func NewReading(device string, m measurement.Measurement) Reading {
	return Reading{
		DeviceID:      device,
		Channel:       m.Channel,
		MeasuredValue: m.MeasuredValue,
		RecordedTime:  m.RecordedTime,
		RecordedAt:    m.Time().Format(time.RFC3339),
	}
}

// PublishReadings publishes one retained message per stored row.
//
// Every row is attempted; the returned error joins the individual failures.
func (c *Client) PublishReadings(ctx context.Context, device string, rows []measurement.Measurement) error {
	var errs []error
	for _, m := range rows {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := c.PublishJSON(Topics{}.Reading(device, m.Channel), NewReading(device, m), true); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", m.Channel, err))
		}
	}
	return errors.Join(errs...)
}

// PollOutcome is the payload published on meterlog/poll/{device}.
type PollOutcome struct {
	DeviceID   string  `json:"device_id"`
	Result     string  `json:"result"`
	Stored     int     `json:"stored"`
	Failed     int     `json:"failed"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// PublishPollOutcome publishes the outcome of one poll cycle (not retained).
func (c *Client) PublishPollOutcome(outcome PollOutcome) error {
	if outcome.Timestamp == "" {
		outcome.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return c.PublishJSON(Topics{}.Poll(outcome.DeviceID), outcome, false)
}
