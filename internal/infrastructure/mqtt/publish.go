package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize caps a single message (1MB). Lock firmware buffers are far
// smaller; anything near this is a bug upstream.
const maxPayloadSize = 1 << 20

// PublishContext sends a message and waits for the broker acknowledgement
// (QoS 1/2) until ctx is done or the publish timeout elapses.
//
// ErrInvalidTopic, ErrInvalidQoS, ErrPayloadTooLarge and ErrNotConnected
// are returned before anything is queued. ErrPublishFailed means the message
// was handed to the client and was not acknowledged; after a timeout or
// cancellation it may still be delivered.
//
//	topic := mqtt.Topics{}.DeviceCommand("esp32-001")
//	err := client.PublishContext(ctx, topic, envelope, 1, false)
func (c *Client) PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Publish is PublishContext without a caller deadline.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return c.PublishContext(context.Background(), topic, payload, qos, retained)
}
