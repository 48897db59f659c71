package command

import (
	"errors"
	"regexp"
	"time"
)

// Command names understood by the lock firmware. Any other name that passes
// ValidateName is forwarded as a generic command.
const (
	Enroll        = "ENROLL"
	Delete        = "DELETE"
	EmergencyLock = "EMERGENCY_LOCK"
)

// TimestampLayout is UTC RFC 3339 with millisecond precision, the format the
// firmware parses.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrInvalidName is returned by ValidateName.
var ErrInvalidName = errors.New("command: invalid command name")

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// ValidateName checks that a command name is safe to put on the wire.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// Envelope is the JSON document published on devices/{id}/command.
type Envelope struct {
	Command   string `json:"command"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SlotPayload is the payload of ENROLL and DELETE.
type SlotPayload struct {
	SlotNumber int `json:"slotNumber"`
}

// Kind classifies an inbound message by the topic it arrived on.
type Kind string

const (
	KindResponse Kind = "response"
	KindAccess   Kind = "access"
	KindDenied   Kind = "denied"
)

// Message is one inbound delivery. Payload is the raw bytes; decoding is
// the consumer's job.
type Message struct {
	Kind       Kind
	DeviceID   string // set for responses only
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Outcome is what a publish attempt proves about a command.
type Outcome int

const (
	// NotSent means the command never reached the MQTT client: the key was
	// rejected, the envelope did not encode, or the transport refused it
	// before queueing.
	NotSent Outcome = iota

	// Unconfirmed means the command was queued but the broker did not
	// acknowledge it before the wait ended. It may still be delivered.
	Unconfirmed

	// Sent means the broker acknowledged the command.
	Sent
)

func (o Outcome) String() string {
	switch o {
	case NotSent:
		return "not_sent"
	case Unconfirmed:
		return "unconfirmed"
	case Sent:
		return "sent"
	default:
		return "unknown"
	}
}
