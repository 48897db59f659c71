package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of CredentialRepository.
type MockRepository struct {
	mu        sync.Mutex
	creds     map[string]Credential
	upsertErr error
	listErr   error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{creds: make(map[string]Credential)}
}

func (m *MockRepository) Upsert(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if existing, ok := m.creds[cred.DeviceID]; ok {
		cred.CreatedAt = existing.CreatedAt
	}
	m.creds[cred.DeviceID] = cred
	return nil
}

func (m *MockRepository) List(_ context.Context) ([]Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Credential, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	return out, nil
}

func TestRegistry_Validate(t *testing.T) {
	reg := NewRegistry(map[string]string{"esp32-001": "secret-1"}, nil)

	tests := []struct {
		name     string
		deviceID string
		key      string
		want     bool
	}{
		{"matching key", "esp32-001", "secret-1", true},
		{"wrong key", "esp32-001", "secret-2", false},
		{"prefix of key", "esp32-001", "secret", false},
		{"empty key", "esp32-001", "", false},
		{"unknown device", "esp32-999", "secret-1", false},
		{"empty device", "", "secret-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.Validate(tt.deviceID, tt.key); got != tt.want {
				t.Errorf("Validate(%q, %q) = %v, want %v", tt.deviceID, tt.key, got, tt.want)
			}
		})
	}
}

func TestNewRegistry_SkipsInvalidEntries(t *testing.T) {
	reg := NewRegistry(map[string]string{
		"good":    "k",
		"bad/id":  "k",
		"nokey":   "",
		"also_ok": "k2",
	}, nil)

	got := reg.Devices()
	want := []string{"also_ok", "good"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Devices() = %v, want %v", got, want)
	}
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	reg := NewRegistry(nil, repo)

	if err := reg.Register(ctx, "esp32-002", "first"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !reg.Validate("esp32-002", "first") {
		t.Error("registered key does not validate")
	}

	// Rotation replaces the key.
	if err := reg.Register(ctx, "esp32-002", "second"); err != nil {
		t.Fatalf("Register() rotation error = %v", err)
	}
	if reg.Validate("esp32-002", "first") {
		t.Error("old key still validates after rotation")
	}
	if !reg.Validate("esp32-002", "second") {
		t.Error("rotated key does not validate")
	}

	stored := repo.creds["esp32-002"]
	if stored.KeyDigest == "" || stored.KeyDigest == "second" {
		t.Errorf("persisted digest = %q, want a hex digest", stored.KeyDigest)
	}
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, "devices/x", "k"); !errors.Is(err, ErrInvalidDeviceID) {
		t.Errorf("Register() slash id error = %v, want ErrInvalidDeviceID", err)
	}
	if err := reg.Register(ctx, "esp32-003", ""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Register() empty key error = %v, want ErrEmptyKey", err)
	}
	if reg.Has("esp32-003") {
		t.Error("failed registration left an entry")
	}
}

func TestRegistry_Register_PersistFailureKeepsOldKey(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(nil, repo)
	ctx := context.Background()

	if err := reg.Register(ctx, "esp32-004", "old"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	repo.upsertErr = errors.New("disk full")
	if err := reg.Register(ctx, "esp32-004", "new"); err == nil {
		t.Fatal("Register() expected error when persistence fails")
	}
	if !reg.Validate("esp32-004", "old") {
		t.Error("old key should remain valid after a failed rotation")
	}
}

func TestRegistry_Load(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	now := time.Now()

	repo.creds["esp32-001"] = Credential{DeviceID: "esp32-001", KeyDigest: digestKey("persisted").String(), CreatedAt: now, UpdatedAt: now}
	repo.creds["esp32-005"] = Credential{DeviceID: "esp32-005", KeyDigest: digestKey("dynamic").String(), CreatedAt: now, UpdatedAt: now}
	repo.creds["esp32-006"] = Credential{DeviceID: "esp32-006", KeyDigest: "not-hex", CreatedAt: now, UpdatedAt: now}

	reg := NewRegistry(map[string]string{"esp32-001": "configured"}, repo)
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !reg.Validate("esp32-001", "configured") {
		t.Error("configured key should win over persisted key")
	}
	if reg.Validate("esp32-001", "persisted") {
		t.Error("shadowed persisted key should not validate")
	}
	if !reg.Validate("esp32-005", "dynamic") {
		t.Error("persisted registration not loaded")
	}
	if reg.Has("esp32-006") {
		t.Error("corrupt digest should be skipped")
	}

	infos := reg.Describe()
	if len(infos) != 2 || infos[0].Source != SourceConfig || infos[1].Source != SourceRegistered {
		t.Errorf("Describe() = %+v", infos)
	}
}

func TestRegistry_Load_Error(t *testing.T) {
	repo := NewMockRepository()
	repo.listErr = errors.New("connection reset")
	reg := NewRegistry(nil, repo)

	if err := reg.Load(context.Background()); err == nil {
		t.Error("Load() expected error")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(map[string]string{"esp32-001": "k"}, NewMockRepository())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = reg.Register(ctx, fmt.Sprintf("lock-%d", i), "key")
		}(i)
		go func() {
			defer wg.Done()
			reg.Validate("esp32-001", "k")
			reg.Devices()
		}()
	}
	wg.Wait()

	if got := len(reg.Devices()); got != 21 {
		t.Errorf("len(Devices()) = %d, want 21", got)
	}
}

func TestValidateDeviceID(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		id   string
		want bool
	}{
		{"esp32-001", true},
		{"Lock_A", true},
		{"", false},
		{"a/b", false},
		{"a+b", false},
		{"a#", false},
		{"with space", false},
		{string(long), false},
		{string(long[:64]), true},
	}
	for _, tt := range tests {
		if got := ValidateDeviceID(tt.id) == nil; got != tt.want {
			t.Errorf("ValidateDeviceID(%q) ok = %v, want %v", tt.id, got, tt.want)
		}
	}
}
