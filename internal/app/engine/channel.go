package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisArchive/internal/adapters/queue"
	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// State is the acquisition state of a channel.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const mechanism = "MONITOR (on change)"

// ChannelDeps are the collaborators shared by all channels of an engine.
type ChannelDeps struct {
	EngineID   domain.EngineID
	Subscriber ports.Subscriber
	Status     ports.StatusWriter
	Obs        ports.Observability
	Policy     ports.Policy
}

// Channel acquires one live source into its sample buffer.
//
// Start and Stop are serialised by lifecycle. Subscription callbacks never
// take lifecycle; they check the generation captured at Start so updates of
// a cancelled subscription are ignored. Connection records and the monitor
// records are serialised by status, and callbacks re-check the generation
// once they hold it.
type Channel struct {
	cfg  domain.ChannelConfig
	deps ChannelDeps
	buf  *queue.SampleBuffer

	lifecycle sync.Mutex
	status    sync.Mutex

	mu            sync.Mutex
	state         State
	connected     bool
	generation    uint64
	handle        ports.Handle
	stateInfo     string
	metadata      *domain.Metadata
	mostRecent    *domain.Sample
	lastPersisted *domain.Sample
	seq           uint64
	lastTS        time.Time

	received       atomic.Uint64
	decodeFailures atomic.Uint64

	groups cowList[*Group]
}

func NewChannel(cfg domain.ChannelConfig, deps ChannelDeps) *Channel {
	deps.Policy.ApplyDefaults()
	capacity := cfg.BufferCapacity
	if capacity <= 0 {
		capacity = deps.Policy.BufferCapacity
	}
	return &Channel{
		cfg:  cfg,
		deps: deps,
		buf:  queue.NewSampleBuffer(capacity),
	}
}

func (c *Channel) ID() domain.ChannelID         { return c.cfg.ID }
func (c *Channel) Name() string                 { return c.cfg.Name }
func (c *Channel) Config() domain.ChannelConfig { return c.cfg }
func (c *Channel) Buffer() ports.SampleBuffer   { return c.buf }
func (c *Channel) Mechanism() string            { return mechanism }
func (c *Channel) Received() uint64             { return c.received.Load() }
func (c *Channel) DecodeFailures() uint64       { return c.decodeFailures.Load() }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsStarted() bool { return c.State() != StateStopped }

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// InternalState is the last state text reported by the source.
func (c *Channel) InternalState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateInfo
}

// Metadata is the last metadata reported by the source, nil if none.
func (c *Channel) Metadata() *domain.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// MostRecent returns the last decoded sample, nil before the first one.
func (c *Channel) MostRecent() *domain.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mostRecent
}

// LastPersisted returns the newest sample the writer handed to the backend.
func (c *Channel) LastPersisted() *domain.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPersisted
}

// MarkPersisted is called by the writer after a successful batch write.
func (c *Channel) MarkPersisted(s *domain.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPersisted == nil || s.Seq >= c.lastPersisted.Seq {
		c.lastPersisted = s
	}
}

func (c *Channel) CurrentValueString() string {
	return sampleString(c.MostRecent())
}

func (c *Channel) LastArchivedValueString() string {
	return sampleString(c.LastPersisted())
}

func sampleString(s *domain.Sample) string {
	if s == nil {
		return "null"
	}
	return s.Value.String()
}

// Groups returns a snapshot of the groups the channel belongs to.
func (c *Channel) Groups() []*Group { return c.groups.Load() }

// inOtherEnabledGroup reports whether a group other than g keeps the
// channel running.
func (c *Channel) inOtherEnabledGroup(g *Group) bool {
	for _, other := range c.groups.Load() {
		if other != g && other.IsEnabled() {
			return true
		}
	}
	return false
}

// release stops the channel on behalf of g unless another enabled group
// still holds it. The check and the stop both run under lifecycle, so a
// group enabled concurrently either is seen here or starts the channel
// again afterwards.
func (c *Channel) release(ctx context.Context, g *Group, reason string) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.inOtherEnabledGroup(g) {
		return nil
	}
	return c.stopLocked(ctx, reason)
}

// Reset zeroes the received counter and the buffer statistics.
func (c *Channel) Reset() {
	c.received.Store(0)
	c.buf.StatsReset()
}

// Start subscribes to the source and records that monitoring is on. It is
// a no-op when the channel is already started. A failed monitor record is
// returned but acquisition still proceeds.
func (c *Channel) Start(ctx context.Context, reason string) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	gen := c.generation
	c.state = StateStarting
	c.connected = false
	c.mu.Unlock()

	h, err := c.deps.Subscriber.Subscribe(ctx, c.cfg.Name, ports.ModeAllUpdates, c.callback(gen))
	if err != nil {
		c.mu.Lock()
		if c.generation == gen {
			c.state = StateStopped
		}
		c.mu.Unlock()
		c.deps.Obs.LogError("channel_subscribe_failed", err, c.field())
		return fmt.Errorf("subscribe %q: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()

	c.status.Lock()
	recErr := c.record(ctx, "channel_start_record_failed", func(ctx context.Context) error {
		return c.deps.Status.WriteMonitorModeInfo(ctx, c.cfg.ID, domain.MonitorOn, c.deps.EngineID, time.Now(), reason)
	})
	c.status.Unlock()
	c.deps.Obs.LogInfo("channel_started", c.field(), ports.Field{Key: "reason", Value: reason})
	if recErr != nil {
		return fmt.Errorf("channel %q start record: %w", c.cfg.Name, recErr)
	}
	return nil
}

// Stop cancels the subscription and records that monitoring is off. It is
// a no-op when the channel is already stopped. Callbacks of the cancelled
// subscription, spurious disconnects included, are ignored from here on.
func (c *Channel) Stop(ctx context.Context, reason string) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked(ctx, reason)
}

// stopLocked requires lifecycle. A connection record already in flight is
// written before the monitor-off record.
func (c *Channel) stopLocked(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	c.state = StateStopped
	c.connected = false
	h := c.handle
	c.handle = ""
	c.mu.Unlock()

	var unsubErr error
	if h != "" {
		if err := c.deps.Subscriber.Unsubscribe(ctx, h); err != nil {
			c.deps.Obs.LogWarn("channel_unsubscribe_failed", err, c.field())
			unsubErr = fmt.Errorf("unsubscribe %q: %w", c.cfg.Name, err)
		}
	}

	c.status.Lock()
	recErr := c.record(ctx, "channel_stop_record_failed", func(ctx context.Context) error {
		return c.deps.Status.WriteMonitorModeInfo(ctx, c.cfg.ID, domain.MonitorOff, c.deps.EngineID, time.Now(), reason)
	})
	c.status.Unlock()
	c.deps.Obs.LogInfo("channel_stopped", c.field(), ports.Field{Key: "reason", Value: reason})

	if recErr != nil {
		recErr = fmt.Errorf("channel %q stop record: %w", c.cfg.Name, recErr)
	}
	return errors.Join(unsubErr, recErr)
}

func (c *Channel) callback(gen uint64) ports.Callback {
	return func(u ports.Update) {
		defer func() {
			if r := recover(); r != nil {
				c.decodeFailures.Add(1)
				c.deps.Obs.LogCritical("channel_callback_panic", fmt.Errorf("%v", r), c.field())
			}
		}()
		if !u.Connected {
			c.onDisconnect(gen, u.StateInfo, u.Timestamp)
			return
		}
		c.onUpdate(gen, u)
	}
}

func (c *Channel) onUpdate(gen uint64, u ports.Update) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	firstConnect := !c.connected
	c.stateInfo = u.StateInfo
	if u.Metadata != nil {
		c.metadata = u.Metadata
	}
	meta := c.metadata
	c.mu.Unlock()

	if firstConnect {
		c.onConnect(gen, meta, u.StateInfo, u.Timestamp)
	}

	if u.Err != nil {
		c.decodeFailed(fmt.Errorf("%w: %w", ErrDecodeFailure, u.Err))
		return
	}
	val, err := domain.DecodeValue(u.Value)
	if err != nil {
		c.decodeFailed(fmt.Errorf("%w: %w", ErrDecodeFailure, err))
		return
	}

	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.seq++
	s := &domain.Sample{
		ChannelID: c.cfg.ID,
		Value:     val,
		Severity:  u.Severity,
		Status:    u.Status,
		Timestamp: ts,
		Seq:       c.seq,
	}
	if !c.lastTS.IsZero() && ts.Before(c.lastTS) {
		s.ClockRegression = true
	} else {
		c.lastTS = ts
	}
	c.mostRecent = s
	c.mu.Unlock()

	c.received.Add(1)
	c.deps.Obs.IncCounter(ports.MetricSamplesReceived, 1)

	before := c.buf.DroppedCount()
	c.buf.Add(s)
	if after := c.buf.DroppedCount(); after > before {
		c.deps.Obs.IncCounter(ports.MetricBufferDropped, float64(after-before))
	}
}

// onConnect persists the metadata and the connection record, then marks
// the channel connected. Nothing is written once the generation is stale.
// Failures are logged; acquisition continues.
func (c *Channel) onConnect(gen uint64, meta *domain.Metadata, info string, ts time.Time) {
	c.status.Lock()
	defer c.status.Unlock()
	if !c.current(gen, false) {
		return
	}

	ctx := context.Background()
	if ts.IsZero() {
		ts = time.Now()
	}
	if meta.HasDisplayRange() {
		_ = c.record(ctx, "channel_metadata_record_failed", func(ctx context.Context) error {
			return c.deps.Status.WriteDisplayRangeInfo(ctx, c.cfg.ID, meta.DisplayLow, meta.DisplayHigh)
		})
		if !c.current(gen, false) {
			return
		}
	}
	_ = c.record(ctx, "channel_connect_record_failed", func(ctx context.Context) error {
		return c.deps.Status.WriteConnectionInfo(ctx, c.cfg.ID, true, info, ts)
	})

	c.mu.Lock()
	if gen == c.generation {
		c.connected = true
		c.state = StateConnected
	}
	c.mu.Unlock()
}

// onDisconnect only acts on a connected channel of the current generation.
func (c *Channel) onDisconnect(gen uint64, info string, ts time.Time) {
	c.status.Lock()
	defer c.status.Unlock()

	c.mu.Lock()
	if gen != c.generation || !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.state = StateDisconnected
	c.stateInfo = info
	c.mu.Unlock()

	if ts.IsZero() {
		ts = time.Now()
	}
	_ = c.record(context.Background(), "channel_disconnect_record_failed", func(ctx context.Context) error {
		return c.deps.Status.WriteConnectionInfo(ctx, c.cfg.ID, false, info, ts)
	})
}

// current reports whether gen is still the live generation and the
// channel's connected flag equals connected.
func (c *Channel) current(gen uint64, connected bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation && c.connected == connected
}

func (c *Channel) decodeFailed(err error) {
	c.decodeFailures.Add(1)
	c.deps.Obs.IncCounter(ports.MetricDecodeFailures, 1)
	c.deps.Obs.LogWarn("channel_decode_failed", err, c.field())
}

// record runs one status write bounded by the facade timeout.
func (c *Channel) record(ctx context.Context, event string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.deps.Policy.FacadeTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil {
		c.deps.Obs.IncCounter(ports.MetricStatusFailures, 1)
		c.deps.Obs.LogError(event, err, c.field())
	}
	return err
}

func (c *Channel) field() ports.Field {
	return ports.Field{Key: "channel", Value: c.cfg.Name}
}
