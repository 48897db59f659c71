package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/biolock-core/internal/command"
	"github.com/nerrad567/biolock-core/internal/saga"
	"github.com/nerrad567/biolock-core/internal/slot"
)

func TestWSClient_IsSubscribed(t *testing.T) {
	tests := []struct {
		name    string
		subs    []string
		channel string
		want    bool
	}{
		{"exact", []string{"slot.claimed"}, "slot.claimed", true},
		{"other exact", []string{"slot.claimed"}, "slot.released", false},
		{"prefix wildcard", []string{"slot.*"}, "slot.compensated", true},
		{"prefix wildcard other family", []string{"slot.*"}, "access.denied", false},
		{"everything", []string{"*"}, "access.granted", true},
		{"none", nil, "access.granted", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &WSClient{subscriptions: make(map[string]struct{})}
			for _, s := range tt.subs {
				c.subscriptions[s] = struct{}{}
			}
			if got := c.isSubscribed(tt.channel); got != tt.want {
				t.Errorf("isSubscribed(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestHub_Channels(t *testing.T) {
	if got := SlotChannel(slot.EventCompensated); got != "slot.compensated" {
		t.Errorf("SlotChannel() = %q", got)
	}

	env := newTestEnv(t)
	hub := env.srv.hub

	granted := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]struct{}{ChannelAccessGranted: {}}}
	denied := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]struct{}{ChannelAccessDenied: {}}}
	hub.Register(granted)
	hub.Register(denied)

	hub.AccessEvent(context.Background(), saga.AccessEvent{Kind: command.KindDenied, DeviceID: testDevice, Status: "denied"})

	if len(granted.send) != 0 {
		t.Error("denied event delivered to access.granted subscriber")
	}
	if len(denied.send) != 1 {
		t.Fatalf("access.denied subscriber got %d messages, want 1", len(denied.send))
	}

	var msg WSMessage
	if err := json.Unmarshal(<-denied.send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != ChannelAccessDenied {
		t.Errorf("message = %+v", msg)
	}

	hub.Unregister(granted)
	hub.Unregister(granted) // second call must not close twice
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestWebSocket_SlotEvents(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.seedUser(t, "admin", true)
	env.slots.AddObserver(env.srv.hub)

	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", nil, withToken(adminToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("ticket status = %d", rec.Code)
	}
	ticket := decode[map[string]any](t, rec)["ticket"].(string)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	readMsg := func() WSMessage {
		t.Helper()
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			t.Fatal(err)
		}
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	err = conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{"slot.*"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg := readMsg(); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	n := enrollSlot(t, env, adminToken)

	msg := readMsg()
	if msg.Type != WSTypeEvent || msg.EventType != "slot.claimed" {
		t.Fatalf("event = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["slot"] != float64(n) || payload["kind"] != "claimed" {
		t.Errorf("payload = %v, want slot %d", payload, n)
	}

	// Tickets are single use.
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second dial with the same ticket succeeded")
	}
	if resp != nil {
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("second dial status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	}
}
