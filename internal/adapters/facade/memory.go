package facade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// DisplayRange is the last display range written for a channel.
type DisplayRange struct {
	Low, High float64
}

// Memory keeps everything in process. It backs the simulate command and the
// tests; write failures can be injected per record kind.
type Memory struct {
	mu sync.Mutex

	engines  map[string]domain.EngineConfig
	groups   map[domain.EngineID][]domain.GroupConfig
	channels map[domain.GroupID][]domain.ChannelConfig

	samples    map[domain.ChannelID][]*domain.Sample
	conn       map[domain.ChannelID][]domain.StatusRecord
	monitor    map[domain.ChannelID][]domain.StatusRecord
	display    map[domain.ChannelID]DisplayRange
	sampleErr  error
	statusErr  error
	writeCalls int
}

func NewMemory() *Memory {
	return &Memory{
		engines:  make(map[string]domain.EngineConfig),
		groups:   make(map[domain.EngineID][]domain.GroupConfig),
		channels: make(map[domain.GroupID][]domain.ChannelConfig),
		samples:  make(map[domain.ChannelID][]*domain.Sample),
		conn:     make(map[domain.ChannelID][]domain.StatusRecord),
		monitor:  make(map[domain.ChannelID][]domain.StatusRecord),
		display:  make(map[domain.ChannelID]DisplayRange),
	}
}

func (m *Memory) Name() string { return "memory" }

// AddEngine registers an engine in the catalog.
func (m *Memory) AddEngine(cfg domain.EngineConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engines[cfg.Name] = cfg
}

// AddGroup registers a group under an engine.
func (m *Memory) AddGroup(engine domain.EngineID, cfg domain.GroupConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[engine] = append(m.groups[engine], cfg)
}

// AddChannel registers a channel under a group.
func (m *Memory) AddChannel(group domain.GroupID, cfg domain.ChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[group] = append(m.channels[group], cfg)
}

// FailSamples makes WriteSamples return err until called again with nil.
func (m *Memory) FailSamples(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleErr = err
}

// FailStatus makes the status writers return err until called again with nil.
func (m *Memory) FailStatus(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

func (m *Memory) WriteSamples(_ context.Context, id domain.ChannelID, batch []*domain.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.sampleErr != nil {
		return m.sampleErr
	}
	m.samples[id] = append(m.samples[id], batch...)
	return nil
}

func (m *Memory) WriteConnectionInfo(_ context.Context, id domain.ChannelID, connected bool, info string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	m.conn[id] = append(m.conn[id], domain.StatusRecord{ChannelID: id, Connected: connected, Info: info, Timestamp: ts})
	return nil
}

func (m *Memory) WriteMonitorModeInfo(_ context.Context, id domain.ChannelID, mode domain.MonitorMode, engine domain.EngineID, ts time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	m.monitor[id] = append(m.monitor[id], domain.StatusRecord{ChannelID: id, Mode: mode, EngineID: engine, Info: reason, Timestamp: ts})
	return nil
}

func (m *Memory) WriteDisplayRangeInfo(_ context.Context, id domain.ChannelID, low, high float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	m.display[id] = DisplayRange{Low: low, High: high}
	return nil
}

func (m *Memory) FindEngineConfig(_ context.Context, name string) (*domain.EngineConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q: %w", name, ports.ErrNotFound)
	}
	return &cfg, nil
}

func (m *Memory) GetGroupsForEngine(_ context.Context, id domain.EngineID) ([]domain.GroupConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GroupConfig(nil), m.groups[id]...), nil
}

func (m *Memory) GetChannelsForGroup(_ context.Context, id domain.GroupID) ([]domain.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChannelConfig(nil), m.channels[id]...), nil
}

// Samples returns the persisted samples of a channel in write order.
func (m *Memory) Samples(id domain.ChannelID) []*domain.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Sample(nil), m.samples[id]...)
}

// ConnectionRecords returns the connection records of a channel.
func (m *Memory) ConnectionRecords(id domain.ChannelID) []domain.StatusRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StatusRecord(nil), m.conn[id]...)
}

// MonitorRecords returns the monitor-mode records of a channel.
func (m *Memory) MonitorRecords(id domain.ChannelID) []domain.StatusRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StatusRecord(nil), m.monitor[id]...)
}

// DisplayRange returns the last display range written for a channel.
func (m *Memory) DisplayRange(id domain.ChannelID) (DisplayRange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.display[id]
	return r, ok
}

// WriteCalls counts WriteSamples invocations, failed ones included.
func (m *Memory) WriteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

var _ ports.Facade = (*Memory)(nil)
