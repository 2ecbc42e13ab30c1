package ports

import (
	"context"
	"errors"
	"time"

	"github.com/ghalamif/AegisArchive/internal/domain"
)

var (
	// ErrBackendUnavailable means the persistence backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendError means the backend was reached but rejected the write.
	ErrBackendError = errors.New("backend error")
	// ErrNotFound is returned by catalog lookups for unknown entities.
	ErrNotFound = errors.New("not found")
	// ErrSpooled means the batch is kept durably for a later replay but has
	// not reached the backend yet.
	ErrSpooled = errors.New("batch spooled")
)

// SampleWriter persists ordered batches of samples of one channel.
type SampleWriter interface {
	WriteSamples(ctx context.Context, id domain.ChannelID, batch []*domain.Sample) error
}

// StatusWriter persists channel bookkeeping records.
type StatusWriter interface {
	WriteConnectionInfo(ctx context.Context, id domain.ChannelID, connected bool, info string, ts time.Time) error
	WriteMonitorModeInfo(ctx context.Context, id domain.ChannelID, mode domain.MonitorMode, engine domain.EngineID, ts time.Time, reason string) error
	WriteDisplayRangeInfo(ctx context.Context, id domain.ChannelID, low, high float64) error
}

// Catalog resolves the engine/group/channel configuration.
type Catalog interface {
	FindEngineConfig(ctx context.Context, name string) (*domain.EngineConfig, error)
	GetGroupsForEngine(ctx context.Context, id domain.EngineID) ([]domain.GroupConfig, error)
	GetChannelsForGroup(ctx context.Context, id domain.GroupID) ([]domain.ChannelConfig, error)
}

// Facade is the complete persistence boundary of the engine.
type Facade interface {
	SampleWriter
	StatusWriter
	Catalog
}

// Replayer is implemented by facades that keep failed batches and retry them.
// The writer calls Replay once per period before draining channel buffers.
type Replayer interface {
	Replay(ctx context.Context) error
}
