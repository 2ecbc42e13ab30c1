package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisArchive/internal/app/pipeline"
	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// Deps wires an engine to its backends. Catalog defaults to Facade and
// FilterSubscriber to Subscriber.
type Deps struct {
	Facade           ports.Facade
	Catalog          ports.Catalog
	Subscriber       ports.Subscriber
	FilterSubscriber ports.Subscriber
	Obs              ports.Observability
	Policy           ports.Policy
}

// Engine owns the groups, channels and the writer of one archive engine.
type Engine struct {
	name  string
	runID string
	deps  Deps

	mu       sync.RWMutex
	cfg      *domain.EngineConfig
	channels map[domain.ChannelID]*Channel
	byName   map[string]*Channel
	groups   map[domain.GroupID]*Group

	writer  *pipeline.Writer
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(name string, deps Deps) *Engine {
	deps.Policy.ApplyDefaults()
	if deps.Catalog == nil {
		deps.Catalog = deps.Facade
	}
	if deps.FilterSubscriber == nil {
		deps.FilterSubscriber = deps.Subscriber
	}
	e := &Engine{
		name:     name,
		runID:    uuid.NewString(),
		deps:     deps,
		channels: make(map[domain.ChannelID]*Channel),
		byName:   make(map[string]*Channel),
		groups:   make(map[domain.GroupID]*Group),
	}
	e.writer = pipeline.NewWriter(deps.Facade, e.sources, deps.Policy, deps.Obs)
	return e
}

func (e *Engine) Name() string  { return e.name }
func (e *Engine) RunID() string { return e.runID }

// Config returns the catalog entry found by Load, nil before.
func (e *Engine) Config() *domain.EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) Writer() *pipeline.Writer { return e.writer }

// Load reads the engine, its groups and their channels from the catalog.
// A missing engine entry or an unreachable catalog fails the whole load.
// A group or channel that cannot be built is skipped; those errors wrap
// ErrConfiguration and are returned joined once everything valid is loaded.
func (e *Engine) Load(ctx context.Context) error {
	cat := e.deps.Catalog
	cfg, err := cat.FindEngineConfig(ctx, e.name)
	if err != nil {
		return fmt.Errorf("find engine %q: %w", e.name, err)
	}
	groups, err := cat.GetGroupsForEngine(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("groups of engine %q: %w", e.name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg

	var errs []error
	for _, gc := range groups {
		if _, dup := e.groups[gc.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate group id %d", ErrConfiguration, gc.ID))
			continue
		}
		chans, err := cat.GetChannelsForGroup(ctx, gc.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: channels of group %q: %w", ErrConfiguration, gc.Name, err))
			continue
		}
		g, err := NewGroup(gc, e.deps.FilterSubscriber, e.deps.Obs, FilterOptions{SuppressUnchanged: e.deps.Policy.SuppressUnchangedFilter})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.groups[gc.ID] = g

		for _, cc := range chans {
			ch, err := e.channelLocked(cc)
			if err != nil {
				errs = append(errs, fmt.Errorf("group %q: %w", gc.Name, err))
				continue
			}
			if err := g.AddChannel(ctx, ch); err != nil {
				errs = append(errs, err)
			}
		}
	}

	e.deps.Obs.LogInfo("engine_loaded",
		ports.Field{Key: "engine", Value: e.name},
		ports.Field{Key: "run_id", Value: e.runID},
		ports.Field{Key: "groups", Value: len(e.groups)},
		ports.Field{Key: "channels", Value: len(e.channels)},
	)
	return errors.Join(errs...)
}

// channelLocked returns the channel with cc's id, creating it on first use.
func (e *Engine) channelLocked(cc domain.ChannelConfig) (*Channel, error) {
	if cc.Name == "" {
		return nil, fmt.Errorf("%w: channel %d has no name", ErrConfiguration, cc.ID)
	}
	if ch, ok := e.channels[cc.ID]; ok {
		if ch.Name() != cc.Name {
			return nil, fmt.Errorf("%w: channel %d named both %q and %q", ErrConfiguration, cc.ID, ch.Name(), cc.Name)
		}
		return ch, nil
	}
	if other, ok := e.byName[cc.Name]; ok {
		return nil, fmt.Errorf("%w: channel %q used by ids %d and %d", ErrConfiguration, cc.Name, other.ID(), cc.ID)
	}
	ch := NewChannel(cc, ChannelDeps{
		EngineID:   e.engineIDLocked(),
		Subscriber: e.deps.Subscriber,
		Status:     e.deps.Facade,
		Obs:        e.deps.Obs,
		Policy:     e.deps.Policy,
	})
	e.channels[cc.ID] = ch
	e.byName[cc.Name] = ch
	return ch, nil
}

func (e *Engine) engineIDLocked() domain.EngineID {
	if e.cfg == nil {
		return 0
	}
	return e.cfg.ID
}

// Start launches the writer and activates every group.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true
	done := e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.writer.Run(runCtx)
	}()

	var errs []error
	for _, g := range e.Groups() {
		if err := g.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("start group %q: %w", g.Name(), err))
		}
	}
	e.deps.Obs.LogInfo("engine_started", ports.Field{Key: "engine", Value: e.name}, ports.Field{Key: "run_id", Value: e.runID})
	return errors.Join(errs...)
}

// Shutdown stops the filters, then every channel, then the writer, which
// writes whatever is still buffered. Groups are left disabled so a later
// Start enables them again. Channel failures do not stop the
// sequence; they are returned joined.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	var errs []error
	for _, g := range e.Groups() {
		if err := g.StopFilter(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop filter of group %q: %w", g.Name(), err))
		}
	}
	for _, ch := range e.Channels() {
		if err := ch.Stop(ctx, "engine shutdown"); err != nil {
			errs = append(errs, err)
		}
	}
	for _, g := range e.Groups() {
		g.reset()
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("writer flush: %w", ctx.Err()))
	}

	err := errors.Join(errs...)
	if err != nil {
		e.deps.Obs.LogError("engine_shutdown_incomplete", err, ports.Field{Key: "engine", Value: e.name})
	} else {
		e.deps.Obs.LogInfo("engine_stopped", ports.Field{Key: "engine", Value: e.name})
	}
	return err
}

// AddChannel adds a channel to a group at runtime, creating it if the
// engine does not know it yet.
func (e *Engine) AddChannel(ctx context.Context, group domain.GroupID, cc domain.ChannelConfig) (*Channel, error) {
	e.mu.Lock()
	g, ok := e.groups[group]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("group %d: %w", group, ErrUnknownGroup)
	}
	ch, err := e.channelLocked(cc)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return ch, g.AddChannel(ctx, ch)
}

// RemoveChannel removes a channel from a group. The channel stays known to
// the engine so its buffer is still written.
func (e *Engine) RemoveChannel(ctx context.Context, group domain.GroupID, id domain.ChannelID) error {
	e.mu.RLock()
	g, gok := e.groups[group]
	ch, cok := e.channels[id]
	e.mu.RUnlock()
	if !gok {
		return fmt.Errorf("group %d: %w", group, ErrUnknownGroup)
	}
	if !cok {
		return fmt.Errorf("channel %d: %w", id, ErrUnknownChannel)
	}
	return g.RemoveChannel(ctx, ch)
}

func (e *Engine) Channel(name string) (*Channel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ch, ok := e.byName[name]
	return ch, ok
}

func (e *Engine) Group(id domain.GroupID) (*Group, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.groups[id]
	return g, ok
}

// Channels returns all channels ordered by id.
func (e *Engine) Channels() []*Channel {
	e.mu.RLock()
	out := make([]*Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		out = append(out, ch)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Groups returns all groups ordered by id.
func (e *Engine) Groups() []*Group {
	e.mu.RLock()
	out := make([]*Group, 0, len(e.groups))
	for _, g := range e.groups {
		out = append(out, g)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (e *Engine) sources() []pipeline.Source {
	chans := e.Channels()
	out := make([]pipeline.Source, len(chans))
	for i, ch := range chans {
		out[i] = ch
	}
	return out
}
