package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/biolock-core/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration for the local test broker.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test unless a broker listens on 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	conn.Close()
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.DeviceCommand("esp32-001"), "devices/esp32-001/command"},
		{topics.DeviceResponse("esp32-001"), "devices/esp32-001/response"},
		{topics.AllDeviceResponses(), "devices/+/response"},
		{topics.AccessEvents(), "events/access"},
		{topics.DeniedEvents(), "events/denied"},
		{topics.SystemStatus(), "biolock/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"devices/esp32-001/response", "esp32-001", true},
		{"devices/lock_2/command", "lock_2", true},
		{"devices//response", "", false},
		{"devices/esp32-001/status", "", false},
		{"events/access", "", false},
		{"devices/a/b/response", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := DeviceIDFromTopic(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("DeviceIDFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Options and payloads
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("biolock-test")
	cfg.Auth.Username = "core"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "biolock-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "core" || opts.Password != "secret" {
		t.Errorf("credentials not applied")
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Errorf("CleanSession=%v AutoReconnect=%v, want both true", opts.CleanSession, opts.AutoReconnect)
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("TLS scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	if err := configureLWT(opts, "biolock-core"); err != nil {
		t.Fatalf("configureLWT() error = %v", err)
	}
	if !opts.WillEnabled || opts.WillTopic != "biolock/system/status" || !opts.WillRetained {
		t.Errorf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var msg statusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if msg.Status != statusOffline || msg.Reason != reasonUnexpected || msg.ClientID != "biolock-core" {
		t.Errorf("will payload = %+v", msg)
	}
}

// =============================================================================
// Token waiting
// =============================================================================

type fakeToken struct {
	done chan struct{}
	err  error
}

func (f *fakeToken) Wait() bool                     { <-f.done; return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f *fakeToken) Done() <-chan struct{}          { return f.done }
func (f *fakeToken) Error() error                   { return f.err }

func TestWaitToken(t *testing.T) {
	t.Run("completed with error", func(t *testing.T) {
		tok := &fakeToken{done: make(chan struct{}), err: errors.New("refused")}
		close(tok.done)
		if err := waitToken(context.Background(), tok, time.Second); err == nil || err.Error() != "refused" {
			t.Errorf("waitToken() = %v, want refused", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		tok := &fakeToken{done: make(chan struct{})}
		err := waitToken(context.Background(), tok, 10*time.Millisecond)
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("waitToken() = %v, want ErrTimeout", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		tok := &fakeToken{done: make(chan struct{})}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := waitToken(ctx, tok, time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("waitToken() = %v, want context.Canceled", err)
		}
	})
}

// =============================================================================
// Validation without a broker
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	ctx := context.Background()

	if err := c.PublishContext(ctx, "", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.PublishContext(ctx, "devices/a/command", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := c.PublishContext(ctx, "devices/a/command", big, 1, false); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload error = %v, want ErrPayloadTooLarge", err)
	}
	if err := c.PublishContext(ctx, "devices/a/command", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("events/access", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v", err)
	}
	if err := c.Subscribe("events/access", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("events/access", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("events/access") {
		t.Error("failed subscribe must not be tracked")
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled ctx = %v", err)
	}
}

// =============================================================================
// Handler wrapping
// =============================================================================

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func TestWrapHandler(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	msg := fakeMessage{topic: "devices/a/response", payload: []byte("{}")}

	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, msg)
	c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })(nil, msg)

	if len(logger.errors) != 1 {
		t.Errorf("panic not logged: %v", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("handler error not logged: %v", logger.warns)
	}
}

// =============================================================================
// Broker round trip
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, testConfig("biolock-test-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	if err := client.Subscribe(Topics{}.AllDeviceResponses(), 1, func(topic string, _ []byte) error {
		received <- topic
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription("devices/+/response") {
		t.Error("subscription not tracked")
	}

	if err := client.PublishContext(ctx, Topics{}.DeviceResponse("roundtrip-lock"), []byte(`{"status":"OK"}`), 1, false); err != nil {
		t.Fatalf("PublishContext() error = %v", err)
	}

	select {
	case topic := <-received:
		if topic != "devices/roundtrip-lock/response" {
			t.Errorf("received on %q", topic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(Topics{}.AllDeviceResponses()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe", client.SubscriptionCount())
	}
}
