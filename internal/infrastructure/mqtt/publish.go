package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize caps outgoing messages at 1MB, matching typical broker limits.
const maxPayloadSize = 1 << 20

// Publish sends a message to topic, waiting for the broker acknowledgement
// until ctx ends or defaultOperationTimeout elapses.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or wrapping ErrPublishFailed
//
// Example:
//
//	topic := mqtt.Topics{}.Command("knx", "light-kitchen-main")
//	err := client.Publish(ctx, topic, []byte(`{"verb":"on"}`), 1, false)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()
	if err := waitToken(ctx, c.client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
