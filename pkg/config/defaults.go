package config

const (
	DefaultStateFile = "pod.toml"
	DefaultURL       = "ws://localhost:8080/pod"
	DefaultListen    = ":8080"
	DefaultTimeoutMs = 10000
	DefaultReservoir = 200

	defaultLot  = 0xa640
	defaultTID  = 0x97c27
	defaultSeed = 0x5a17
)

// applyDefaults fills the zero fields. It is allowed to mutate configuration.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile
	}
	if cfg.Generation == "" {
		cfg.Generation = "dash"
	}
	if cfg.InsulinType == "" {
		cfg.InsulinType = "novolog"
	}

	if cfg.Transport.URL == "" {
		cfg.Transport.URL = DefaultURL
	}
	if cfg.Transport.TimeoutMs == 0 {
		cfg.Transport.TimeoutMs = DefaultTimeoutMs
	}

	s := &cfg.Simulator
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.Lot == 0 {
		s.Lot = defaultLot
	}
	if s.TID == 0 {
		s.TID = defaultTID
	}
	if s.Seed == 0 {
		s.Seed = defaultSeed
	}
	if s.Reservoir == 0 {
		s.Reservoir = DefaultReservoir
	}

	if len(cfg.Basal) == 0 {
		cfg.Basal = []BasalConfig{{Start: "00:00", Rate: 1}}
	}
}
