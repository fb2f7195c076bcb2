package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
)

const sample = `
log_level: debug
state_file: /var/lib/podctl/pod.toml
generation: eros
insulin_type: fiasp
transport:
  url: wss://bridge.local/pod
  timeout_ms: 2500
  session_key: 5fe2a3c4b8d9e0f112233445566778ab
  nonce_prefix: "0102030405060708"
simulator:
  listen: 127.0.0.1:9000
  lot: 1234
  tid: 5678
  seed: 42
  reservoir: 150
basal:
  - start: "06:00"
    rate: 1.25
  - start: "00:00"
    rate: 0.8
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podctl.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &Config{
		LogLevel:    "debug",
		StateFile:   "/var/lib/podctl/pod.toml",
		Generation:  "eros",
		InsulinType: "fiasp",
		Transport: TransportConfig{
			URL:         "wss://bridge.local/pod",
			TimeoutMs:   2500,
			SessionKey:  "5fe2a3c4b8d9e0f112233445566778ab",
			NoncePrefix: "0102030405060708",
		},
		Simulator: SimulatorConfig{Listen: "127.0.0.1:9000", Lot: 1234, TID: 5678, Seed: 42, Reservoir: 150},
		Basal:     []BasalConfig{{Start: "06:00", Rate: 1.25}, {Start: "00:00", Rate: 0.8}},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	if lvl, _ := cfg.Level(); lvl != log.DebugLevel {
		t.Errorf("Level() = %v", lvl)
	}
	if g, _ := cfg.PodGeneration(); g != device.Eros {
		t.Errorf("PodGeneration() = %v", g)
	}
	if it, _ := cfg.Insulin(); it != insulin.Fiasp {
		t.Errorf("Insulin() = %v", it)
	}
	if cfg.Timeout() != 2500*time.Millisecond {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	if s, err := cfg.Sealer(); err != nil || s == nil {
		t.Errorf("Sealer() = %v, %v", s, err)
	}
	sched, err := cfg.Schedule()
	if err != nil {
		t.Fatal(err)
	}
	wantSched := []basal.Entry{{Start: 0, Rate: 0.8}, {Start: 6 * time.Hour, Rate: 1.25}}
	if diff := cmp.Diff(wantSched, sched.Entries); diff != "" {
		t.Errorf("Schedule() mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("log_level: warn\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.StateFile != DefaultStateFile || cfg.Transport.URL != DefaultURL {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Simulator.Reservoir != DefaultReservoir || cfg.Simulator.Seed == 0 {
		t.Errorf("simulator defaults not applied: %+v", cfg.Simulator)
	}
	if s, err := cfg.Sealer(); err != nil || s != nil {
		t.Errorf("Sealer() = %v, %v, want none", s, err)
	}
}

func TestUnknownKey(t *testing.T) {
	if _, err := Parse([]byte("log_levle: debug\n")); err == nil {
		t.Errorf("Parse() accepted a misspelt key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"generation", func(c *Config) { c.Generation = "omni" }, "generation"},
		{"insulin", func(c *Config) { c.InsulinType = "water" }, "insulin_type"},
		{"scheme", func(c *Config) { c.Transport.URL = "http://localhost/pod" }, "transport.url"},
		{"timeout", func(c *Config) { c.Transport.TimeoutMs = -1 }, "timeout_ms"},
		{"key alone", func(c *Config) { c.Transport.SessionKey = "00112233445566778899aabbccddeeff" }, "together"},
		{"short key", func(c *Config) {
			c.Transport.SessionKey = "0011"
			c.Transport.NoncePrefix = "0102030405060708"
		}, "session_key"},
		{"reservoir", func(c *Config) { c.Simulator.Reservoir = 250 }, "simulator.reservoir"},
		{"basal offset", func(c *Config) { c.Basal = []BasalConfig{{Start: "00:00", Rate: 1}, {Start: "01:15", Rate: 2}} }, "basal"},
		{"basal midnight", func(c *Config) { c.Basal = []BasalConfig{{Start: "02:00", Rate: 1}} }, "basal"},
		{"basal clock", func(c *Config) { c.Basal = []BasalConfig{{Start: "noon", Rate: 1}} }, "basal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			before := *cfg
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
			if diff := cmp.Diff(before, *cfg); diff != "" {
				t.Errorf("Validate() mutated the config (-want +got):\n%s", diff)
			}
		})
	}
}
