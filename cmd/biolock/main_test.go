package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/biolock-core/internal/auth"
	"github.com/nerrad567/biolock-core/internal/infrastructure/database"
)

func writeConfig(t *testing.T, dbPath, extra string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  driver: sqlite
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "biolock-test"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18080

security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
` + extra
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies config validation stops startup.
func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", configPath}); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

func TestRun_Version(t *testing.T) {
	if err := run(context.Background(), []string{"--version"}); err != nil {
		t.Errorf("run(--version) error = %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("BIOLOCK_CONFIG", "")

	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{"defaults", nil, options{configPath: defaultConfigPath}, false},
		{"config", []string{"--config", "/etc/biolock.yaml"}, options{configPath: "/etc/biolock.yaml"}, false},
		{"seed", []string{"--seed-admin"}, options{configPath: defaultConfigPath, seedAdmin: true}, false},
		{"unknown flag", []string{"--nope"}, options{}, true},
		{"positional", []string{"serve"}, options{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("BIOLOCK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("BIOLOCK_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

// TestRun_SeedAdmin creates the admin and exits before any broker is dialled.
func TestRun_SeedAdmin(t *testing.T) {
	t.Setenv("BIOLOCK_ADMIN_USERNAME", "")
	t.Setenv("BIOLOCK_ADMIN_PASSWORD", "")

	dbPath := filepath.Join(t.TempDir(), "biolock.db")
	configPath := writeConfig(t, dbPath, `
admin:
  username: root
  password: "correct-horse-battery"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := run(ctx, []string{"--config", configPath, "--seed-admin"}); err != nil {
			t.Fatalf("run(--seed-admin) #%d error = %v", i+1, err)
		}
	}

	db, err := database.Open(ctx, database.Config{Path: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	users := auth.NewUserRepository(db.DB)
	admin, err := users.GetByUsername(ctx, "root")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if !admin.IsAdmin {
		t.Error("seeded user is not an admin")
	}
	if n, _ := users.Count(ctx); n != 1 {
		t.Errorf("user count = %d, want 1", n)
	}
}

func TestRun_SeedAdminRejectsWeakPassword(t *testing.T) {
	t.Setenv("BIOLOCK_ADMIN_USERNAME", "")
	t.Setenv("BIOLOCK_ADMIN_PASSWORD", "")

	configPath := writeConfig(t, filepath.Join(t.TempDir(), "biolock.db"), `
admin:
  username: root
  password: "password"
`)

	if err := run(context.Background(), []string{"--config", configPath, "--seed-admin"}); err == nil {
		t.Fatal("run(--seed-admin) accepted a weak password")
	}
}

// TestRun_BrokerUnavailable verifies startup fails cleanly when the broker
// cannot be reached.
func TestRun_BrokerUnavailable(t *testing.T) {
	t.Setenv("BIOLOCK_ADMIN_USERNAME", "")
	t.Setenv("BIOLOCK_ADMIN_PASSWORD", "")

	configPath := writeConfig(t, filepath.Join(t.TempDir(), "biolock.db"), "")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", configPath}); err == nil {
		t.Fatal("run() succeeded without a broker")
	}
}
