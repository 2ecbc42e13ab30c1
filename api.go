package aegisarchive

import (
	base "github.com/ghalamif/AegisArchive/pkg/aegisarchive"
)

// Re-exported errors for convenience.
var (
	ErrBackendUnavailable = base.ErrBackendUnavailable
	ErrBackendError       = base.ErrBackendError
	ErrSpooled            = base.ErrSpooled
	ErrNotFound           = base.ErrNotFound
	ErrConfiguration      = base.ErrConfiguration
	ErrFilterAuthority    = base.ErrFilterAuthority
	ErrTapClosed          = base.ErrTapClosed
)

// Type aliases so consumers can import github.com/ghalamif/AegisArchive directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	EngineSection   = base.EngineSection
	SourceConfig    = base.SourceConfig
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	DatabaseConfig  = base.DatabaseConfig
	RetryConfig     = base.RetryConfig
	MetricsConfig   = base.MetricsConfig
	WALConfig       = base.WALConfig
	LogConfig       = base.LogConfig
	CatalogConfig   = base.CatalogConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Sample          = base.Sample
	Batch           = base.Batch
	SampleBatchFunc = base.SampleBatchFunc
	Facade          = base.Facade
	Catalog         = base.Catalog
	Subscriber      = base.Subscriber
	Update          = base.Update
	Mode            = base.Mode
	Handle          = base.Handle
	Observability   = base.Observability
	Field           = base.Field
	WAL             = base.WAL
	WALStats        = base.WALStats
	EngineConfig    = base.EngineConfig
	GroupConfig     = base.GroupConfig
	ChannelConfig   = base.ChannelConfig
	Engine          = base.Engine
	Channel         = base.Channel
	Group           = base.Group
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSubscriber(s Subscriber) StreamInOption {
	return base.StreamInSubscriber(s)
}

func StreamInFilterSubscriber(s Subscriber) StreamInOption {
	return base.StreamInFilterSubscriber(s)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutFacade(f Facade) StreamOutOption {
	return base.StreamOutFacade(f)
}

func StreamOutCatalog(c Catalog) StreamOutOption {
	return base.StreamOutCatalog(c)
}

func StreamOutWAL(w WAL) StreamOutOption {
	return base.StreamOutWAL(w)
}

func StreamOutCallback(fn SampleBatchFunc) StreamOutOption {
	return base.StreamOutCallback(fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithFacade(f Facade) RuntimeOption {
	return base.WithFacade(f)
}

func WithCatalog(c Catalog) RuntimeOption {
	return base.WithCatalog(c)
}

func WithSubscriber(s Subscriber) RuntimeOption {
	return base.WithSubscriber(s)
}

func WithFilterSubscriber(s Subscriber) RuntimeOption {
	return base.WithFilterSubscriber(s)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithSampleTap(fn SampleBatchFunc) RuntimeOption {
	return base.WithSampleTap(fn)
}

// Tap adapters.
func NewChannelTap(buffer int) (SampleBatchFunc, <-chan Batch, func()) {
	return base.NewChannelTap(buffer)
}
