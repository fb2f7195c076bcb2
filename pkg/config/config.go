// Package config loads the podctl YAML configuration.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/device"
	"github.com/avereha/podcomm/pkg/insulin"
	"github.com/avereha/podcomm/pkg/transport"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string `yaml:"log_level"`
	StateFile   string `yaml:"state_file"`
	Generation  string `yaml:"generation"`
	InsulinType string `yaml:"insulin_type"`

	Transport TransportConfig `yaml:"transport"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Basal     []BasalConfig   `yaml:"basal"`
}

// ---- TRANSPORT ----

type TransportConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`

	// Frame sealing (optional, both or neither, hex)
	SessionKey  string `yaml:"session_key"`
	NoncePrefix string `yaml:"nonce_prefix"`
}

// ---- SIMULATOR ----

type SimulatorConfig struct {
	Listen    string  `yaml:"listen"`
	Lot       uint32  `yaml:"lot"`
	TID       uint32  `yaml:"tid"`
	Seed      uint16  `yaml:"seed"`
	Reservoir float64 `yaml:"reservoir"`
}

// ---- BASAL ----

type BasalConfig struct {
	Start string  `yaml:"start"` // HH:MM
	Rate  float64 `yaml:"rate"`  // U/h
}

// Load reads path and fills in defaults. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default is the configuration used without a file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Level is the logrus level of LogLevel.
func (c *Config) Level() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}

func (c *Config) PodGeneration() (device.Generation, error) {
	return device.ParseGeneration(c.Generation)
}

func (c *Config) Insulin() (insulin.Type, error) {
	return insulin.ParseType(c.InsulinType)
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Transport.TimeoutMs) * time.Millisecond
}

// Sealer builds the frame sealer, or returns nil when no session key is set.
func (c *Config) Sealer() (*transport.Sealer, error) {
	if c.Transport.SessionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Transport.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("session_key: %w", err)
	}
	prefix, err := hex.DecodeString(c.Transport.NoncePrefix)
	if err != nil {
		return nil, fmt.Errorf("nonce_prefix: %w", err)
	}
	return transport.NewSealer(key, prefix)
}

// Schedule converts the basal section.
func (c *Config) Schedule() (basal.Schedule, error) {
	entries := make([]basal.Entry, 0, len(c.Basal))
	for _, b := range c.Basal {
		start, err := parseClock(b.Start)
		if err != nil {
			return basal.Schedule{}, err
		}
		entries = append(entries, basal.Entry{Start: start, Rate: b.Rate})
	}
	return basal.NewSchedule(entries)
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("basal start %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
