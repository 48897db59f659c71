// Package device holds the credentials of the fingerprint locks.
//
// Every lock shares a secret API key with the service. A command for a lock
// is only published when the caller presents that lock's key, so a leaked
// user token alone cannot drive a door.
//
// Keys come from two places:
//   - devices.api_keys in config.yaml (or BIOLOCK_DEVICE_KEYS)
//   - runtime registration by an administrator, persisted as digests
//
// Usage:
//
//	reg := device.NewRegistry(cfg.Devices.APIKeys, device.NewSQLiteRepository(db.DB))
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//	if !reg.Validate("esp32-001", presented) {
//	    // reject
//	}
package device
