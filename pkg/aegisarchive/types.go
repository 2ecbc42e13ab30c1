package aegisarchive

import (
	"github.com/ghalamif/AegisArchive/internal/app/engine"
	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// Facade persists samples and status records and serves the catalog.
type Facade = ports.Facade

// Catalog resolves the engine/group/channel configuration.
type Catalog = ports.Catalog

// Subscriber is the live data source (OPC UA, simulators, custom protocols).
type Subscriber = ports.Subscriber

// Update is one notification delivered by a Subscriber.
type Update = ports.Update

// Mode selects which source changes produce updates.
type Mode = ports.Mode

// Handle identifies an active subscription.
type Handle = ports.Handle

// Observability emits metrics and structured logs.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the write-ahead log used to spool samples while the backend is down.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

type (
	EngineConfig  = domain.EngineConfig
	GroupConfig   = domain.GroupConfig
	ChannelConfig = domain.ChannelConfig
	Severity      = domain.Severity
	Metadata      = domain.Metadata
)

type (
	// Engine owns the groups, channels and writer of one archive engine.
	Engine = engine.Engine
	// Channel is one archived source.
	Channel = engine.Channel
	// Group is a set of channels switched on and off together.
	Group = engine.Group
)

const (
	ModeAllUpdates = ports.ModeAllUpdates
	ModeAlarmOnly  = ports.ModeAlarmOnly
)

var (
	ErrBackendUnavailable = ports.ErrBackendUnavailable
	ErrBackendError       = ports.ErrBackendError
	ErrSpooled            = ports.ErrSpooled
	ErrNotFound           = ports.ErrNotFound
	ErrConfiguration      = engine.ErrConfiguration
	ErrFilterAuthority    = engine.ErrFilterAuthority
)
