package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rigado/blescard"
)

const sample = `
reader:
  address: "D4:F5:13:00:00:01"
  scan_timeout: 5s
security:
  key_index: admin
  key: "000102030405060708090a0b0c0d0e0f"
transport:
  chunk_size: 20
  response_timeout: 2s
cache:
  path: /tmp/readers.json
log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "blescard.yaml")
	if err := os.WriteFile(fn, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return fn
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := &Config{
		Reader:    ReaderConfig{Address: "D4:F5:13:00:00:01", ScanTimeout: 5 * time.Second},
		Security:  SecurityConfig{KeyIndex: "admin", Key: "000102030405060708090a0b0c0d0e0f"},
		Transport: TransportConfig{ChunkSize: 20, ResponseTimeout: 2 * time.Second},
		Cache:     CacheConfig{Path: "/tmp/readers.json"},
		Log:       LogConfig{Level: "debug", Format: "json"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if len(opts) != 5 {
		t.Fatalf("expected 5 options, got %d", len(opts))
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	// chunk size and timeout only
	if len(opts) != 2 {
		t.Fatalf("expected 2 options, got %d", len(opts))
	}
}

func TestConfigureLogging(t *testing.T) {
	prev := blescard.GetLogger()
	defer blescard.SetLogger(prev)

	var buf bytes.Buffer
	cfg := Default()
	if err := cfg.ConfigureLogging(&buf); err != nil {
		t.Fatalf("ConfigureLogging: %v", err)
	}
	blescard.GetLogger().Info("configured")
	if !strings.Contains(buf.String(), "configured") {
		t.Fatalf("expected the log line in the writer, got %q", buf.String())
	}

	cfg.Log.Format = "xml"
	if err := cfg.ConfigureLogging(&buf); err == nil {
		t.Fatalf("expected a format error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLESCARD_KEY", "ffffffffffffffffffffffffffffffff")
	t.Setenv("BLESCARD_LOG_LEVEL", "trace")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.Key != "ffffffffffffffffffffffffffffffff" || cfg.Log.Level != "trace" {
		t.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"short key":     "security:\n  key: \"0001\"\n",
		"non hex key":   "security:\n  key: \"zz0102030405060708090a0b0c0d0e0f\"\n",
		"bad key index": "security:\n  key_index: root\n",
		"bad yaml":      "reader: [\n",
		"negative size": "transport:\n  chunk_size: -1\n",
		"bad address":   "reader:\n  address: \"d4:f5:13\"\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
