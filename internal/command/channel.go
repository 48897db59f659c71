package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/biolock-core/internal/infrastructure/mqtt"
)

// DefaultBufferSize is the inbound stream capacity.
const DefaultBufferSize = 256

// Transport is the subset of the MQTT client the channel needs.
type Transport interface {
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Validator checks a device's presented key.
type Validator interface {
	Validate(deviceID, presentedKey string) bool
}

// Logger defines the logging interface used by the Channel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Channel publishes commands to locks and funnels their responses and
// access events into a single inbound stream.
//
// Send never returns an error: an unknown device, a bad key or a failed
// publish resolve to false and are logged. Dispatch tells those apart.
type Channel struct {
	transport Transport
	devices   Validator
	qos       byte
	now       func() time.Time
	logger    Logger

	inbound chan Message
	done    chan struct{}

	// mu guards delivery against Close: senders hold it for reading while
	// they push into inbound, Close takes it for writing before closing it.
	mu         sync.RWMutex
	closed     bool
	subscribed []string
	startOnce  sync.Once
	closeOnce  sync.Once
}

// NewChannel creates a command channel. bufferSize <= 0 uses DefaultBufferSize.
func NewChannel(transport Transport, devices Validator, qos byte, bufferSize int) *Channel {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Channel{
		transport: transport,
		devices:   devices,
		qos:       qos,
		now:       time.Now,
		logger:    noopLogger{},
		inbound:   make(chan Message, bufferSize),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	c.logger = logger
}

// Send publishes a command envelope on devices/{deviceID}/command and
// reports whether the broker acknowledged it.
func (c *Channel) Send(ctx context.Context, deviceID, apiKey, cmd string, payload any) bool {
	return c.Dispatch(ctx, deviceID, apiKey, cmd, payload) == Sent
}

// Dispatch is Send with the full outcome. Callers that undo work on failure
// must only do so for NotSent: an Unconfirmed command can still reach the
// lock.
//
// The key is checked before anything is built. The publish waits for the
// broker acknowledgement until ctx is done or the transport's publish
// timeout elapses.
func (c *Channel) Dispatch(ctx context.Context, deviceID, apiKey, cmd string, payload any) Outcome {
	if !c.devices.Validate(deviceID, apiKey) {
		c.logger.Error("invalid API key for device", "device_id", deviceID, "command", cmd)
		return NotSent
	}

	data, err := json.Marshal(Envelope{
		Command:   cmd,
		Payload:   payload,
		Timestamp: c.now().UTC().Format(TimestampLayout),
	})
	if err != nil {
		c.logger.Error("encoding command envelope failed", "device_id", deviceID, "command", cmd, "error", err)
		return NotSent
	}

	if err := ctx.Err(); err != nil {
		c.logger.Warn("command not sent", "device_id", deviceID, "command", cmd, "error", err)
		return NotSent
	}

	topic := mqtt.Topics{}.DeviceCommand(deviceID)
	if err := c.transport.PublishContext(ctx, topic, data, c.qos, false); err != nil {
		outcome := classify(err)
		c.logger.Error("failed to send command",
			"device_id", deviceID,
			"command", cmd,
			"outcome", outcome.String(),
			"error", err,
		)
		return outcome
	}

	c.logger.Info("command sent", "device_id", deviceID, "command", cmd)
	return Sent
}

// classify maps a transport error to an outcome. Only errors the transport
// returns before queueing count as NotSent.
func classify(err error) Outcome {
	switch {
	case errors.Is(err, mqtt.ErrNotConnected),
		errors.Is(err, mqtt.ErrInvalidTopic),
		errors.Is(err, mqtt.ErrInvalidQoS),
		errors.Is(err, mqtt.ErrPayloadTooLarge):
		return NotSent
	default:
		return Unconfirmed
	}
}

// Start subscribes to lock responses and access events. Calling it more
// than once is a no-op.
func (c *Channel) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		err = c.subscribe(ctx)
	})
	return err
}

func (c *Channel) subscribe(ctx context.Context) error {
	topics := mqtt.Topics{}
	subs := []struct {
		topic string
		kind  Kind
	}{
		{topics.AllDeviceResponses(), KindResponse},
		{topics.AccessEvents(), KindAccess},
		{topics.DeniedEvents(), KindDenied},
	}

	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.transport.Subscribe(s.topic, c.qos, c.handler(s.kind)); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
		c.mu.Lock()
		c.subscribed = append(c.subscribed, s.topic)
		c.mu.Unlock()
		c.logger.Info("subscribed", "topic", s.topic)
	}
	return nil
}

func (c *Channel) handler(kind Kind) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		msg := Message{
			Kind:       kind,
			Topic:      topic,
			Payload:    append([]byte(nil), payload...),
			ReceivedAt: c.now().UTC(),
		}
		if kind == KindResponse {
			id, ok := mqtt.DeviceIDFromTopic(topic)
			if !ok {
				c.logger.Warn("dropping response on unexpected topic", "topic", topic)
				return nil
			}
			msg.DeviceID = id
		}
		return c.deliver(msg)
	}
}

var errChannelClosed = errors.New("command: channel closed")

// deliver blocks until the consumer accepts msg or the channel is closed.
// Blocking holds back the MQTT client rather than dropping a response that
// may carry a compensation.
func (c *Channel) deliver(msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errChannelClosed
	}

	select {
	case c.inbound <- msg:
		return nil
	case <-c.done:
		return errChannelClosed
	}
}

// Inbound returns the receive side of the stream. It is closed by Close.
func (c *Channel) Inbound() <-chan Message {
	return c.inbound
}

// Close unsubscribes and closes the inbound stream. Safe to call twice.
func (c *Channel) Close() error {
	var topics []string
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.closed = true
		topics = c.subscribed
		c.subscribed = nil
		close(c.inbound)
		c.mu.Unlock()
	})

	var errs []error
	for _, t := range topics {
		if err := c.transport.Unsubscribe(t); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing from %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}
