package saga

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/biolock-core/internal/command"
	"github.com/nerrad567/biolock-core/internal/slot"
)

// Logger defines the logging interface used by the Coordinator.
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

// Coordinator consumes the inbound command stream. ERROR responses to
// ENROLL release the slot that was claimed for them; access events go to
// the registered sinks.
//
// There is exactly one Run loop per process, so messages are handled in
// arrival order.
type Coordinator struct {
	compensator Compensator
	logger      Logger

	sinks   []EventSink
	sinksMu sync.RWMutex
}

// NewCoordinator creates a coordinator that compensates through c.
func NewCoordinator(c Compensator) *Coordinator {
	return &Coordinator{
		compensator: c,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// AddSink registers a consumer of access events.
func (c *Coordinator) AddSink(s EventSink) {
	c.sinksMu.Lock()
	c.sinks = append(c.sinks, s)
	c.sinksMu.Unlock()
}

// Run handles messages until ctx is cancelled or inbound is closed. It
// always returns nil; the error return fits errgroup.
func (c *Coordinator) Run(ctx context.Context, inbound <-chan command.Message) error {
	c.logger.Info("saga coordinator started")
	defer c.logger.Info("saga coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, msg command.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling device message",
				"topic", msg.Topic,
				"panic", r,
			)
		}
	}()

	switch msg.Kind {
	case command.KindResponse:
		c.handleResponse(ctx, msg)
	case command.KindAccess, command.KindDenied:
		c.handleAccessEvent(ctx, msg)
	default:
		c.logger.Debug("ignoring message of unknown kind", "kind", msg.Kind, "topic", msg.Topic)
	}
}

func (c *Coordinator) handleResponse(ctx context.Context, msg command.Message) {
	resp, err := DecodeResponse(msg.Payload)
	if err != nil {
		c.logger.Warn("dropping malformed device response",
			"device_id", msg.DeviceID,
			"error", err,
		)
		return
	}

	if !resp.compensates() {
		c.logger.Debug("device response",
			"device_id", msg.DeviceID,
			"status", resp.Status,
			"command", resp.Command,
		)
		return
	}

	n := *resp.SlotNumber
	c.logger.Warn("device reported failure, releasing slot",
		"device_id", msg.DeviceID,
		"slot", n,
		"message", resp.Message,
	)
	if err := c.compensator.ReleaseOnCompensation(ctx, n); err != nil {
		if errors.Is(err, slot.ErrInvalidSlot) {
			c.logger.Warn("device reported an out-of-range slot", "device_id", msg.DeviceID, "slot", n)
			return
		}
		c.logger.Error("compensation failed",
			"device_id", msg.DeviceID,
			"slot", n,
			"error", err,
		)
	}
}

func (c *Coordinator) handleAccessEvent(ctx context.Context, msg command.Message) {
	ev, err := DecodeAccessEvent(msg.Payload)
	if err != nil {
		c.logger.Warn("dropping malformed access event", "topic", msg.Topic, "error", err)
		return
	}
	ev.Kind = msg.Kind
	ev.Topic = msg.Topic
	ev.ReceivedAt = msg.ReceivedAt

	c.logger.Debug("access event",
		"kind", ev.Kind,
		"device_id", ev.DeviceID,
		"status", ev.Status,
	)

	c.sinksMu.RLock()
	sinks := c.sinks
	c.sinksMu.RUnlock()

	for _, s := range sinks {
		c.notify(ctx, s, ev)
	}
}

func (c *Coordinator) notify(ctx context.Context, s EventSink, ev AccessEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("access event sink panic recovered", "kind", ev.Kind, "panic", r)
		}
	}()
	s.AccessEvent(ctx, ev)
}
