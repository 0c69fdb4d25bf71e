package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the full simulator configuration.
type Config struct {
	Simulation  Simulation  `toml:"Simulation" yaml:"simulation"`
	Chain       Chain       `toml:"Chain" yaml:"chain"`
	Gossip      Gossip      `toml:"Gossip" yaml:"gossip"`
	Concurrency Concurrency `toml:"Concurrency" yaml:"concurrency"`
	Logging     Logging     `toml:"Logging" yaml:"logging"`
	Metrics     Metrics     `toml:"Metrics" yaml:"metrics"`
	Telemetry   Telemetry   `toml:"Telemetry" yaml:"telemetry"`
	Profiles    []Profile   `toml:"Profiles" yaml:"profiles"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Simulation: Simulation{
			Seed:                 1,
			NodeTickMs:           50,
			ToSelfDelay:          144,
			MinimumDepth:         3,
			FinalCLTVDelta:       18,
			ReserveFraction:      0.01,
			PathFinder:           "ucs-fee",
			MaxPaths:             10,
			QueueBatchSize:       64,
			AttemptTimeoutBlocks: 6,
		},
		Chain: Chain{
			BlockTimeMs:         500,
			BlockWeight:         1_000_000,
			FundingTxSize:       250,
			BackgroundLoadBytes: 200_000,
			BackgroundFeeRate:   2,
		},
		Gossip: Gossip{
			MaxHops:          6,
			MaxAge:           144,
			FlushSize:        32,
			FlushPeriodTicks: 1,
			SeenCacheSize:    8192,
		},
		Concurrency: Concurrency{
			BootstrapWorkers: 8,
			InvoiceWorkers:   8,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  64,
			MaxBackups: 3,
		},
		Profiles: []Profile{
			{
				Name:           "hub",
				Nodes:          2,
				Channels:       Range{Min: 6, Max: 10},
				ChannelSize:    Range{Min: 5_000_000, Max: 20_000_000},
				FundingFeeRate: Range{Min: 8, Max: 32},
				BaseFee:        Range{Min: 0, Max: 1000},
				FeePPM:         Range{Min: 1, Max: 500},
				CLTVDelta:      Range{Min: 40, Max: 144},
			},
			{
				Name:           "merchant",
				Nodes:          6,
				Channels:       Range{Min: 2, Max: 4},
				ChannelSize:    Range{Min: 1_000_000, Max: 5_000_000},
				FundingFeeRate: Range{Min: 2, Max: 16},
				BaseFee:        Range{Min: 0, Max: 1000},
				FeePPM:         Range{Min: 100, Max: 1000},
				CLTVDelta:      Range{Min: 18, Max: 80},
			},
			{
				Name:           "consumer",
				Nodes:          12,
				Channels:       Range{Min: 1, Max: 2},
				ChannelSize:    Range{Min: 200_000, Max: 1_000_000},
				FundingFeeRate: Range{Min: 1, Max: 8},
				BaseFee:        Range{Min: 1000, Max: 1000},
				FeePPM:         Range{Min: 1000, Max: 2000},
				CLTVDelta:      Range{Min: 18, Max: 40},
			},
		},
	}
}

// Load loads the configuration from the given path, writing the default
// configuration there first if the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	cfg.Profiles = nil
	if isYAML(path) {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = Default().Profiles
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	return persist(path, Default())
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
