package aegisarchive

import (
	"github.com/ghalamif/AegisArchive/internal/adapters/opcua"
	"github.com/ghalamif/AegisArchive/internal/app/config"
	"github.com/ghalamif/AegisArchive/internal/ports"
	"github.com/ghalamif/AegisArchive/internal/retry"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls buffering, write cadence and spool limits.
	Policy = ports.Policy
	// EngineSection names the catalog engine to run.
	EngineSection = config.EngineConfig
	// SourceConfig selects the live data source.
	SourceConfig = config.SourceConfig
	// OPCUAConfig holds connection + node alias details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps a channel name to an OPC UA node.
	OPCUANodeConfig = opcua.NodeConfig
	// DatabaseConfig configures the PostgreSQL facade.
	DatabaseConfig = config.DatabaseConfig
	// RetryConfig configures retries of unavailable backends.
	RetryConfig = retry.Config
	// MetricsConfig configures the HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures the on-disk sample spool.
	WALConfig = config.WALConfig
	// LogConfig configures the zap logger.
	LogConfig = config.LogConfig
	// CatalogConfig is an inline engine/group/channel catalog.
	CatalogConfig = config.Catalog
)

const (
	SourceOPCUA = config.SourceOPCUA
	SourceSim   = config.SourceSim
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes, defaults and validates a YAML document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
