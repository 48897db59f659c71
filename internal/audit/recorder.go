package audit

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/biolock-core/internal/command"
	"github.com/nerrad567/biolock-core/internal/saga"
	"github.com/nerrad567/biolock-core/internal/slot"
)

// writeTimeout bounds a single audit write so a slow store cannot stall
// the caller for long.
const writeTimeout = 2 * time.Second

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder turns slot events, access events and administrative actions
// into audit entries. A failed write is logged and otherwise ignored.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record writes one entry.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("audit write failed", "action", e.Action, "error", err)
	}
}

// SlotEvent implements slot.Observer. Collisions are not recorded; they
// are routine and already counted in metrics.
func (r *Recorder) SlotEvent(ctx context.Context, ev slot.Event) {
	if ev.Kind == slot.EventCollision {
		return
	}

	n := ev.Slot
	e := Entry{
		Action:     "slot." + string(ev.Kind),
		SlotNumber: &n,
		OwnerID:    ev.OwnerID,
		CreatedAt:  ev.At,
	}
	if ev.Detail != "" {
		e.Details = map[string]any{"detail": ev.Detail}
	}
	r.Record(ctx, e)
}

// AccessEvent implements saga.EventSink.
func (r *Recorder) AccessEvent(ctx context.Context, ev saga.AccessEvent) {
	action := "access.granted"
	if ev.Kind == command.KindDenied {
		action = "access.denied"
	}
	e := Entry{
		Action:    action,
		DeviceID:  ev.DeviceID,
		CreatedAt: ev.ReceivedAt,
	}
	if ev.SlotNumber != nil {
		n := *ev.SlotNumber
		e.SlotNumber = &n
	}
	if ev.Status != "" {
		e.Details = map[string]any{"status": strings.ToUpper(ev.Status)}
	}
	r.Record(ctx, e)
}

var (
	_ slot.Observer  = (*Recorder)(nil)
	_ saga.EventSink = (*Recorder)(nil)
)
