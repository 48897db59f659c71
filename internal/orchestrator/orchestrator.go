package orchestrator

import (
	"context"
	"strings"

	"github.com/nerrad567/biolock-core/internal/command"
)

// Allocator is the slot lifecycle the orchestrator drives.
type Allocator interface {
	Claim(ctx context.Context, ownerID string) (int, error)
	Release(ctx context.Context, ownerID string, number int) error
	ReleaseAllForOwner(ctx context.Context, ownerID string) ([]int, error)
}

// Sender publishes a command to a lock and reports what the publish
// proved. Only command.NotSent guarantees the lock will never see it.
type Sender interface {
	Dispatch(ctx context.Context, deviceID, apiKey, cmd string, payload any) command.Outcome
}

// Validator checks a device's presented key.
type Validator interface {
	Validate(deviceID, presentedKey string) bool
}

// OwnerRemover deletes a user from the directory. A missing user wraps
// auth.ErrUserNotFound.
type OwnerRemover interface {
	Delete(ctx context.Context, id string) error
}

// Logger defines the logging interface used by the Orchestrator.
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

// Caller is the authenticated principal behind a request.
type Caller struct {
	ID      string
	IsAdmin bool
}

// Target names a lock and the key presented for it.
type Target struct {
	DeviceID string
	APIKey   string
}

// Orchestrator is the request-facing entry to slot and command operations.
// Every operation returns a Result; none returns an error or panics.
//
// All public methods are safe for concurrent use.
type Orchestrator struct {
	slots   Allocator
	sender  Sender
	devices Validator
	owners  OwnerRemover
	logger  Logger
}

// New creates an orchestrator.
func New(slots Allocator, sender Sender, devices Validator, owners OwnerRemover) *Orchestrator {
	return &Orchestrator{
		slots:   slots,
		sender:  sender,
		devices: devices,
		owners:  owners,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// reserved commands carry slot or safety semantics and have dedicated
// operations.
var reserved = []string{command.Enroll, command.Delete, command.EmergencyLock}

// Send forwards a generic command to a lock.
func (o *Orchestrator) Send(ctx context.Context, t Target, cmd string, payload any) (res Result) {
	defer o.recoverInto(&res, "send")

	if err := command.ValidateName(cmd); err != nil {
		return fail(CodeInvalidInput, "invalid command name")
	}
	for _, r := range reserved {
		if strings.EqualFold(cmd, r) {
			return fail(CodeInvalidInput, "command "+r+" has a dedicated endpoint")
		}
	}
	if !o.devices.Validate(t.DeviceID, t.APIKey) {
		return fail(CodeUnauthorized, "invalid device credentials")
	}

	if o.sender.Dispatch(ctx, t.DeviceID, t.APIKey, cmd, payload) != command.Sent {
		return fail(CodeInternal, "Failed to send command")
	}
	return ok("Command sent successfully")
}

// Enroll claims a slot for the owner and tells the lock to enroll into it.
//
// The credential is checked before anything is claimed. The claim is only
// rolled back when the ENROLL provably never left. An unacknowledged
// publish keeps the claim and is reported as Partial: the lock may still
// enroll into the slot, and an ERROR response releases it through the saga.
func (o *Orchestrator) Enroll(ctx context.Context, t Target, ownerID string) (res Result) {
	defer o.recoverInto(&res, "enroll")

	if !o.devices.Validate(t.DeviceID, t.APIKey) {
		return fail(CodeUnauthorized, "invalid device credentials")
	}

	n, err := o.slots.Claim(ctx, ownerID)
	if err != nil {
		o.logger.Warn("enrollment claim failed", "owner_id", ownerID, "device_id", t.DeviceID, "error", err)
		return failFromError(err)
	}

	switch o.sender.Dispatch(ctx, t.DeviceID, t.APIKey, command.Enroll, command.SlotPayload{SlotNumber: n}) {
	case command.Sent:
		o.logger.Info("enrollment requested", "slot", n, "owner_id", ownerID, "device_id", t.DeviceID)
		return withSlot(ok("Enrollment command sent"), n)

	case command.NotSent:
		if err := o.slots.Release(context.WithoutCancel(ctx), ownerID, n); err != nil {
			o.logger.Error("releasing slot after unsent enrollment",
				"slot", n,
				"owner_id", ownerID,
				"error", err,
			)
		}
		return fail(CodeInternal, "Failed to send enrollment command")

	default:
		o.logger.Warn("enrollment command unconfirmed; slot kept",
			"slot", n,
			"owner_id", ownerID,
			"device_id", t.DeviceID,
		)
		r := ok("enrollment command not confirmed by the broker; slot held until the device reports")
		r.Partial = true
		return withSlot(r, n)
	}
}

// DeleteSlot releases one of the owner's slots and tells the lock to
// delete the template. The directory is authoritative: a failed publish
// still leaves the slot released and is reported as Partial.
func (o *Orchestrator) DeleteSlot(ctx context.Context, t Target, ownerID string, number int) (res Result) {
	defer o.recoverInto(&res, "delete slot")

	if !o.devices.Validate(t.DeviceID, t.APIKey) {
		return fail(CodeUnauthorized, "invalid device credentials")
	}

	if err := o.slots.Release(ctx, ownerID, number); err != nil {
		return withSlot(failFromError(err), number)
	}

	if o.sender.Dispatch(ctx, t.DeviceID, t.APIKey, command.Delete, command.SlotPayload{SlotNumber: number}) != command.Sent {
		o.logger.Warn("slot released but device not notified", "slot", number, "device_id", t.DeviceID)
		r := ok("slot deletion recorded, but device notification failed")
		r.Partial = true
		return withSlot(r, number)
	}
	return withSlot(ok("Delete command sent"), number)
}

// EmergencyLock tells a lock to lock down. Only admins may call it.
func (o *Orchestrator) EmergencyLock(ctx context.Context, caller Caller, t Target) (res Result) {
	defer o.recoverInto(&res, "emergency lock")

	if !caller.IsAdmin {
		return fail(CodeForbidden, "admin privileges required")
	}
	if !o.devices.Validate(t.DeviceID, t.APIKey) {
		return fail(CodeUnauthorized, "invalid device credentials")
	}

	if o.sender.Dispatch(ctx, t.DeviceID, t.APIKey, command.EmergencyLock, nil) != command.Sent {
		return fail(CodeInternal, "Failed to send lock command")
	}
	o.logger.Warn("emergency lock sent", "device_id", t.DeviceID, "caller", caller.ID)
	return ok("Emergency lock command sent")
}

// DeleteOwner removes an owner and frees every slot it held. With a target
// lock, one DELETE is published per released slot; numbers whose publish
// failed are listed in FailedNotifications.
//
// The directory entry goes first so a concurrent enrollment for the same
// owner cannot claim a slot that would survive the cascade.
func (o *Orchestrator) DeleteOwner(ctx context.Context, ownerID string, t *Target) (res Result) {
	defer o.recoverInto(&res, "delete owner")

	if t != nil && !o.devices.Validate(t.DeviceID, t.APIKey) {
		return fail(CodeUnauthorized, "invalid device credentials")
	}

	if err := o.owners.Delete(ctx, ownerID); err != nil {
		o.logger.Warn("deleting owner failed", "owner_id", ownerID, "error", err)
		return failFromError(err)
	}

	released, err := o.slots.ReleaseAllForOwner(ctx, ownerID)
	if err != nil {
		o.logger.Error("releasing owner slots failed; reconciliation will finish it",
			"owner_id", ownerID,
			"released", released,
			"error", err,
		)
		r := fail(CodeInternal, "owner deleted, but releasing slots failed")
		r.ReleasedSlots = released
		return r
	}

	r := ok("owner deleted")
	r.ReleasedSlots = released
	if t == nil {
		return r
	}

	for _, n := range released {
		if o.sender.Dispatch(ctx, t.DeviceID, t.APIKey, command.Delete, command.SlotPayload{SlotNumber: n}) != command.Sent {
			r.FailedNotifications = append(r.FailedNotifications, n)
		}
	}
	if len(r.FailedNotifications) > 0 {
		r.Partial = true
		r.Message = "owner deleted, but some device notifications failed"
		o.logger.Warn("owner cascade left device templates behind",
			"owner_id", ownerID,
			"device_id", t.DeviceID,
			"slots", r.FailedNotifications,
		)
	}
	return r
}

func (o *Orchestrator) recoverInto(res *Result, op string) {
	if r := recover(); r != nil {
		o.logger.Error("panic in orchestrator", "operation", op, "panic", r)
		*res = fail(CodeInternal, "internal error")
	}
}
