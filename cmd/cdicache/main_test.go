package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/cdicache/internal/cdi"
	"github.com/nerrad567/cdicache/internal/infrastructure/config"
	"github.com/nerrad567/cdicache/internal/infrastructure/database"
	"github.com/nerrad567/cdicache/internal/infrastructure/logging"
	"github.com/nerrad567/cdicache/internal/specstore"
)

const gpuSpec = `cdiVersion: "0.6.0"
kind: vendor.com/gpu
devices:
  - name: "0"
    containerEdits:
      env:
        - GPU=0
`

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CDICACHE_CONFIG", path)
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CDICACHE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("CDICACHE_CONFIG", "/tmp/custom.yaml")
	if got := getConfigPath(); got != "/tmp/custom.yaml" {
		t.Errorf("getConfigPath() = %q, want /tmp/custom.yaml", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("CDICACHE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

func TestRun_InvalidConflictPolicy(t *testing.T) {
	writeTestConfig(t, fmt.Sprintf(`
cache:
  conflict_policy: newest-wins
api:
  port: %d
logging:
  level: error
  format: text
  output: stdout
`, freePort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with unknown conflict policy")
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	specDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(specDir, "gpu.yaml"), []byte(gpuSpec), 0600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "cdicache.db")

	writeTestConfig(t, fmt.Sprintf(`
cache:
  auto_refresh: false
  spec_dirs:
    - %q
  conflict_policy: reject
store:
  enabled: true
  source_id: sqlite
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
api:
  host: 127.0.0.1
  port: %d
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`, specDir, dbPath, freePort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	devices := cdi.ListDevices()
	if len(devices) != 1 || devices[0] != "vendor.com/gpu=0" {
		t.Errorf("ListDevices() = %v, want [vendor.com/gpu=0]", devices)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestCacheOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.SpecDirs = []string{"/a", "/b/"}
	cfg.Cache.AutoRefresh = false

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	tests := []struct {
		name  string
		store *specstore.Store
		want  []string
	}{
		{"dirs only", nil, []string{"/a", "/b"}},
		{"dirs then store", specstore.New(db.DB, "sqlite"), []string{"/a", "/b", "sqlite"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := cdi.NewCache(cacheOptions(cfg, cdi.ConflictReject, tt.store, nil, logging.Default())...)
			if err != nil {
				t.Fatalf("NewCache() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, c.Sources()); diff != "" {
				t.Errorf("Sources() mismatch (-want +got):\n%s", diff)
			}
			if c.Generation() != 0 {
				t.Errorf("Generation() = %d, want 0 with auto-refresh off", c.Generation())
			}
		})
	}
}
