package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

type entry struct {
	digest digest
	source Source
}

// Registry holds the shared secret of every lock the service may command.
//
// Keys live in memory as BLAKE3 digests. Keys from config.yaml are loaded
// at construction; keys registered at runtime are persisted through the
// optional CredentialRepository and merged back by Load on startup.
//
// All public methods are thread-safe.
type Registry struct {
	repo   CredentialRepository
	keys   map[string]entry
	mu     sync.RWMutex
	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry seeded with the configured device keys.
// repo may be nil, in which case registrations are memory-only.
// Entries with an invalid ID or empty key are skipped; config validation
// rejects them before this point.
func NewRegistry(configured map[string]string, repo CredentialRepository) *Registry {
	r := &Registry{
		repo:   repo,
		keys:   make(map[string]entry, len(configured)),
		logger: noopLogger{},
		now:    time.Now,
	}
	for id, key := range configured {
		if ValidateDeviceID(id) != nil || key == "" {
			continue
		}
		r.keys[id] = entry{digest: digestKey(key), source: SourceConfig}
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load merges persisted registrations into memory. A configured key for the
// same device wins over the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	creds, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading device credentials: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, c := range creds {
		if existing, ok := r.keys[c.DeviceID]; ok && existing.source == SourceConfig {
			r.logger.Warn("persisted device key shadowed by config", "device_id", c.DeviceID)
			continue
		}
		d, ok := parseDigest(c.KeyDigest)
		if !ok {
			r.logger.Warn("skipping corrupt device credential", "device_id", c.DeviceID)
			continue
		}
		r.keys[c.DeviceID] = entry{digest: d, source: SourceRegistered}
		loaded++
	}

	r.logger.Info("device credentials loaded", "registered", loaded, "total", len(r.keys))
	return nil
}

// Validate reports whether presentedKey is the registered key for deviceID.
// Unknown devices, empty keys and mismatches all return false.
func (r *Registry) Validate(deviceID, presentedKey string) bool {
	if presentedKey == "" {
		return false
	}

	r.mu.RLock()
	e, ok := r.keys[deviceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return e.digest.equal(digestKey(presentedKey))
}

// Register adds a device or rotates its key. The credential is persisted
// before the in-memory map changes, so a failed write leaves the old key
// in force.
func (r *Registry) Register(ctx context.Context, deviceID, key string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return fmt.Errorf("registering %q: %w", deviceID, err)
	}
	if key == "" {
		return ErrEmptyKey
	}

	d := digestKey(key)

	if r.repo != nil {
		now := r.now().UTC()
		if err := r.repo.Upsert(ctx, Credential{
			DeviceID:  deviceID,
			KeyDigest: d.String(),
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("persisting credential for %s: %w", deviceID, err)
		}
	}

	r.mu.Lock()
	prev, rotated := r.keys[deviceID]
	r.keys[deviceID] = entry{digest: d, source: SourceRegistered}
	r.mu.Unlock()

	if rotated && prev.source == SourceConfig {
		r.logger.Warn("configured device key replaced at runtime; config wins again on restart", "device_id", deviceID)
	}
	r.logger.Info("device registered", "device_id", deviceID, "rotated", rotated)
	return nil
}

// Has reports whether deviceID has a key.
func (r *Registry) Has(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[deviceID]
	return ok
}

// Devices lists the registered device IDs in ascending order.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Describe lists every device with the source of its key, sorted by ID.
func (r *Registry) Describe() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.keys))
	for id, e := range r.keys {
		infos = append(infos, Info{DeviceID: id, Source: e.source})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].DeviceID < infos[j].DeviceID })
	return infos
}
