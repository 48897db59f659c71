package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/biolock-core/internal/command"
	"github.com/nerrad567/biolock-core/internal/slot"
)

type fakeCompensator struct {
	mu       sync.Mutex
	released []int
	err      error
}

func (f *fakeCompensator) ReleaseOnCompensation(_ context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, n)
	return f.err
}

func (f *fakeCompensator) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.released...)
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	return b
}

func response(payload []byte) command.Message {
	return command.Message{
		Kind:       command.KindResponse,
		DeviceID:   "esp32-001",
		Topic:      "devices/esp32-001/response",
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
}

// runAll feeds msgs through a fresh coordinator and waits for Run to drain them.
func runAll(t *testing.T, c *Coordinator, msgs ...command.Message) {
	t.Helper()
	in := make(chan command.Message, len(msgs))
	for _, m := range msgs {
		in <- m
	}
	close(in)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), in) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}
}

func TestCoordinator_Compensation(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
		want    []int
	}{
		{
			name:    "JSON error with slot",
			payload: func(*testing.T) []byte { return []byte(`{"status":"ERROR","slotNumber":42,"message":"sensor timeout"}`) },
			want:    []int{42},
		},
		{
			name:    "status is case-insensitive",
			payload: func(*testing.T) []byte { return []byte(`{"status":"error","slotNumber":7,"command":"enroll"}`) },
			want:    []int{7},
		},
		{
			name: "CBOR error with slot",
			payload: func(t *testing.T) []byte {
				return mustCBOR(t, map[string]any{"status": "ERROR", "slotNumber": 13, "command": "ENROLL"})
			},
			want: []int{13},
		},
		{
			name:    "slot zero",
			payload: func(*testing.T) []byte { return []byte(`{"status":"ERROR","slotNumber":0}`) },
			want:    []int{0},
		},
		{
			name:    "failed DELETE does not compensate",
			payload: func(*testing.T) []byte { return []byte(`{"status":"ERROR","slotNumber":42,"command":"DELETE"}`) },
		},
		{
			name:    "error without slot",
			payload: func(*testing.T) []byte { return []byte(`{"status":"ERROR","message":"busy"}`) },
		},
		{
			name:    "success",
			payload: func(*testing.T) []byte { return []byte(`{"status":"OK","slotNumber":42}`) },
		},
		{
			name:    "malformed JSON",
			payload: func(*testing.T) []byte { return []byte(`{"status":`) },
		},
		{
			name:    "garbage bytes",
			payload: func(*testing.T) []byte { return []byte{0xff, 0x00, 0x13} },
		},
		{
			name:    "empty",
			payload: func(*testing.T) []byte { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := &fakeCompensator{}
			runAll(t, NewCoordinator(comp), response(tt.payload(t)))

			got := comp.calls()
			if len(got) != len(tt.want) {
				t.Fatalf("compensated %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("compensated %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestCoordinator_ContinuesAfterFailures(t *testing.T) {
	comp := &fakeCompensator{err: slot.ErrInternal}
	runAll(t, NewCoordinator(comp),
		response([]byte(`not json`)),
		response([]byte(`{"status":"ERROR","slotNumber":1}`)),
		response([]byte(`{"status":"ERROR","slotNumber":2}`)),
	)

	if got := comp.calls(); len(got) != 2 {
		t.Errorf("compensated %v, want both slots attempted", got)
	}
}

type panickingCompensator struct{ calls int }

func (p *panickingCompensator) ReleaseOnCompensation(context.Context, int) error {
	p.calls++
	if p.calls == 1 {
		panic("boom")
	}
	return nil
}

func TestCoordinator_RecoversFromPanic(t *testing.T) {
	comp := &panickingCompensator{}
	runAll(t, NewCoordinator(comp),
		response([]byte(`{"status":"ERROR","slotNumber":1}`)),
		response([]byte(`{"status":"ERROR","slotNumber":2}`)),
	)
	if comp.calls != 2 {
		t.Errorf("calls = %d, want 2 (loop survived the panic)", comp.calls)
	}
}

func TestCoordinator_AccessEvents(t *testing.T) {
	comp := &fakeCompensator{}
	c := NewCoordinator(comp)

	var (
		mu     sync.Mutex
		events []AccessEvent
	)
	c.AddSink(EventSinkFunc(func(_ context.Context, ev AccessEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	c.AddSink(EventSinkFunc(func(context.Context, AccessEvent) { panic("sink down") }))

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	runAll(t, c,
		command.Message{
			Kind:       command.KindAccess,
			Topic:      "events/access",
			Payload:    []byte(`{"deviceId":"esp32-001","slotNumber":5,"status":"GRANTED","confidence":87}`),
			ReceivedAt: at,
		},
		command.Message{
			Kind:       command.KindDenied,
			Topic:      "events/denied",
			Payload:    mustCBOR(t, map[string]any{"deviceId": "esp32-002", "status": "ERROR", "slotNumber": 9}),
			ReceivedAt: at,
		},
		command.Message{Kind: command.KindAccess, Topic: "events/access", Payload: []byte(`{{`)},
	)

	if len(comp.calls()) != 0 {
		t.Errorf("access events triggered compensation: %v", comp.calls())
	}
	if len(events) != 2 {
		t.Fatalf("sink received %d events, want 2", len(events))
	}

	granted := events[0]
	if granted.Kind != command.KindAccess || granted.DeviceID != "esp32-001" || granted.Status != "GRANTED" {
		t.Errorf("first event = %+v", granted)
	}
	if granted.SlotNumber == nil || *granted.SlotNumber != 5 {
		t.Errorf("first event slot = %v, want 5", granted.SlotNumber)
	}
	if granted.Fields["confidence"] != float64(87) {
		t.Errorf("extra field lost: %v", granted.Fields)
	}
	if !granted.ReceivedAt.Equal(at) {
		t.Errorf("ReceivedAt = %v", granted.ReceivedAt)
	}

	denied := events[1]
	if denied.Kind != command.KindDenied || denied.DeviceID != "esp32-002" {
		t.Errorf("second event = %+v", denied)
	}
}

func TestCoordinator_StopsOnCancel(t *testing.T) {
	c := NewCoordinator(&fakeCompensator{})
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan command.Message)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, in) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestDecodeResponse(t *testing.T) {
	r, err := DecodeResponse([]byte("  \n{\"status\":\"OK\",\"command\":\"DELETE\",\"slotNumber\":3}"))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if r.Status != "OK" || r.Command != "DELETE" || r.SlotNumber == nil || *r.SlotNumber != 3 {
		t.Errorf("DecodeResponse() = %+v", r)
	}

	if _, err := DecodeResponse([]byte(`[1,2]`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeResponse(array) error = %v, want ErrMalformed", err)
	}
}

func TestDecodeAccessEvent_DeviceKeysDoNotOverrideServerFields(t *testing.T) {
	payloads := map[string][]byte{
		"json": []byte(`{"deviceId":"esp32-001","slotNumber":5,"status":"GRANTED","receivedAt":"yesterday","kind":7,"topic":3}`),
		"cbor": mustCBOR(t, map[string]any{
			"deviceId":   "esp32-001",
			"slotNumber": 5,
			"status":     "GRANTED",
			"receivedAt": "yesterday",
			"kind":       7,
			"topic":      3,
		}),
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			ev, err := DecodeAccessEvent(payload)
			if err != nil {
				t.Fatalf("DecodeAccessEvent() error = %v", err)
			}
			if ev.DeviceID != "esp32-001" || ev.Status != "GRANTED" || ev.SlotNumber == nil || *ev.SlotNumber != 5 {
				t.Errorf("DecodeAccessEvent() = %+v", ev)
			}
			if ev.Kind != "" || ev.Topic != "" || !ev.ReceivedAt.IsZero() {
				t.Errorf("device payload set server fields: %+v", ev)
			}
			if ev.Fields["receivedAt"] != "yesterday" {
				t.Errorf("Fields = %v, want the device's receivedAt kept", ev.Fields)
			}
		})
	}
}
