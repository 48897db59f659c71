package device

import (
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/zeebo/blake3"
)

// Credential is the persisted form of a dynamically registered lock.
// Only the digest of the shared key is kept.
type Credential struct {
	DeviceID  string    `json:"device_id"`
	KeyDigest string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source says where a registered key came from.
type Source string

const (
	SourceConfig     Source = "config"
	SourceRegistered Source = "registered"
)

// Info describes a known device without exposing its key.
type Info struct {
	DeviceID string `json:"device_id"`
	Source   Source `json:"source"`
}

// deviceIDPattern keeps IDs safe to embed in devices/{id}/command.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateDeviceID returns ErrInvalidDeviceID for IDs that are not
// 1-64 characters of [A-Za-z0-9_-].
func ValidateDeviceID(id string) error {
	if !deviceIDPattern.MatchString(id) {
		return ErrInvalidDeviceID
	}
	return nil
}

type digest [32]byte

func digestKey(key string) digest {
	return blake3.Sum256([]byte(key))
}

func (d digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d digest) equal(other digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

func parseDigest(s string) (digest, bool) {
	var d digest
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(d) {
		return d, false
	}
	copy(d[:], b)
	return d, true
}
