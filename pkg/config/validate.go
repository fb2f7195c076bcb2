package config

import (
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/avereha/podcomm/pkg/transport"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if _, err := cfg.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := cfg.PodGeneration(); err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	if _, err := cfg.Insulin(); err != nil {
		return fmt.Errorf("insulin_type: %w", err)
	}

	// ---- transport ----

	u, err := url.Parse(cfg.Transport.URL)
	if err != nil {
		return fmt.Errorf("transport.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("transport.url: scheme %q, want ws or wss", u.Scheme)
	}
	if cfg.Transport.TimeoutMs < 0 {
		return fmt.Errorf("transport.timeout_ms: %d is negative", cfg.Transport.TimeoutMs)
	}
	if (cfg.Transport.SessionKey == "") != (cfg.Transport.NoncePrefix == "") {
		return fmt.Errorf("transport: session_key and nonce_prefix must be set together")
	}
	if err := checkHex("transport.session_key", cfg.Transport.SessionKey, transport.KeySize); err != nil {
		return err
	}
	if err := checkHex("transport.nonce_prefix", cfg.Transport.NoncePrefix, transport.NoncePrefixSize); err != nil {
		return err
	}

	// ---- simulator ----

	if cfg.Simulator.Reservoir < 0 || cfg.Simulator.Reservoir > DefaultReservoir {
		return fmt.Errorf("simulator.reservoir: %.2f outside 0-%d U", cfg.Simulator.Reservoir, DefaultReservoir)
	}

	// ---- basal ----

	if _, err := cfg.Schedule(); err != nil {
		return fmt.Errorf("basal: %w", err)
	}
	return nil
}

func checkHex(name, s string, size int) error {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(b) != size {
		return fmt.Errorf("%s: %d bytes, want %d", name, len(b), size)
	}
	return nil
}
