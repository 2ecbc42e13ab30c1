package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisArchive/internal/adapters/facade"
	"github.com/ghalamif/AegisArchive/internal/adapters/opcua"
	"github.com/ghalamif/AegisArchive/internal/ports"
	"github.com/ghalamif/AegisArchive/internal/retry"
)

const (
	SourceOPCUA = "opcua"
	SourceSim   = "sim"
)

type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Policy   ports.Policy   `yaml:"policy"`
	Source   SourceConfig   `yaml:"source"`
	OPCUA    opcua.Config   `yaml:"opcua"`
	Database DatabaseConfig `yaml:"database"`
	Retry    retry.Config   `yaml:"retry"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	WAL      WALConfig      `yaml:"wal"`
	Log      LogConfig      `yaml:"log"`
	// Catalog replaces the database catalog tables when set.
	Catalog *Catalog `yaml:"catalog"`
}

type EngineConfig struct {
	Name string `yaml:"name"`
}

// SourceConfig selects the live data source. "sim" publishes random walks
// for every configured channel.
type SourceConfig struct {
	Kind      string        `yaml:"kind"`
	SimPeriod time.Duration `yaml:"sim_period"`
}

type DatabaseConfig struct {
	ConnString   string `yaml:"conn_string"`
	Schema       string `yaml:"schema"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// WALConfig enables the sample spool when Dir is set.
type WALConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults and validates it.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Policy.ApplyDefaults()
	if c.Source.Kind == "" {
		c.Source.Kind = SourceOPCUA
	}
	if c.Source.SimPeriod <= 0 {
		c.Source.SimPeriod = time.Second
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 8
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Catalog != nil {
		c.Catalog.assignIDs()
	}

	if c.Source.Kind == SourceOPCUA {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Engine.Name == "" {
		errs = append(errs, errors.New("engine.name is required"))
	}
	switch c.Source.Kind {
	case SourceOPCUA:
		if err := c.OPCUA.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("opcua config: %w", err))
		}
	case SourceSim:
	default:
		errs = append(errs, fmt.Errorf("source.kind %q is not one of %q, %q", c.Source.Kind, SourceOPCUA, SourceSim))
	}
	if c.Policy.MaxBatchSize > facade.MaxBatchSize {
		errs = append(errs, fmt.Errorf("policy.max_batch_size %d exceeds %d", c.Policy.MaxBatchSize, facade.MaxBatchSize))
	}
	if c.Database.ConnString == "" && c.Catalog == nil {
		errs = append(errs, errors.New("database.conn_string or catalog is required"))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Catalog != nil {
		if err := c.Catalog.validate(); err != nil {
			errs = append(errs, fmt.Errorf("catalog: %w", err))
		}
	}
	return errors.Join(errs...)
}
