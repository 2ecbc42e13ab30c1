package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// Group starts and stops its member channels together. A group with a
// filter is enabled whenever the filter result is positive; the filter is
// then the only writer of the enabled flag.
type Group struct {
	cfg    domain.GroupConfig
	filter *Filter
	obs    ports.Observability

	mu       sync.Mutex
	enabled  atomic.Bool
	channels cowList[*Channel]
}

// NewGroup builds a group. With a filter expression the filter subscribes
// through sub once the group is started.
func NewGroup(cfg domain.GroupConfig, sub ports.Subscriber, obs ports.Observability, opts FilterOptions) (*Group, error) {
	g := &Group{cfg: cfg, obs: obs}
	if cfg.Filter == "" {
		return g, nil
	}
	f, err := NewFilter(cfg.Filter, sub, obs, opts, g.onFilterResult)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", cfg.Name, err)
	}
	g.filter = f
	return g, nil
}

func (g *Group) ID() domain.GroupID         { return g.cfg.ID }
func (g *Group) Name() string               { return g.cfg.Name }
func (g *Group) Config() domain.GroupConfig { return g.cfg }
func (g *Group) Filter() *Filter            { return g.filter }
func (g *Group) IsEnabled() bool            { return g.enabled.Load() }

// Channels returns a snapshot of the members.
func (g *Group) Channels() []*Channel { return g.channels.Load() }

// Start activates the group: filter-governed groups start their filter,
// the others are enabled directly.
func (g *Group) Start(ctx context.Context) error {
	if g.filter != nil {
		return g.filter.Start(ctx)
	}
	return g.setEnabled(ctx, true, "group "+g.cfg.Name+" started")
}

// StopFilter stops the filter of a filter-governed group and leaves the
// channels as they are.
func (g *Group) StopFilter(ctx context.Context) error {
	if g.filter == nil {
		return nil
	}
	return g.filter.Stop(ctx)
}

func (g *Group) Enable(ctx context.Context) error {
	if g.filter != nil {
		return fmt.Errorf("group %q: %w", g.cfg.Name, ErrFilterAuthority)
	}
	return g.setEnabled(ctx, true, "group "+g.cfg.Name+" enabled")
}

func (g *Group) Disable(ctx context.Context) error {
	if g.filter != nil {
		return fmt.Errorf("group %q: %w", g.cfg.Name, ErrFilterAuthority)
	}
	return g.setEnabled(ctx, false, "group "+g.cfg.Name+" disabled")
}

func (g *Group) onFilterResult(v float64) {
	on := v > 0 && !math.IsNaN(v)
	reason := fmt.Sprintf("filter %q evaluated to %v", g.cfg.Filter, v)
	if err := g.setEnabled(context.Background(), on, reason); err != nil {
		g.obs.LogError("group_filter_transition_failed", err, ports.Field{Key: "group", Value: g.cfg.Name})
	}
}

// setEnabled stores the flag before touching channels so that a concurrent
// transition of another group sees it.
func (g *Group) setEnabled(ctx context.Context, on bool, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled.Load() == on {
		return nil
	}
	g.enabled.Store(on)
	g.obs.LogInfo("group_enablement_changed",
		ports.Field{Key: "group", Value: g.cfg.Name},
		ports.Field{Key: "enabled", Value: on},
		ports.Field{Key: "reason", Value: reason},
	)

	var errs []error
	for _, ch := range g.channels.Load() {
		if on {
			if err := ch.Start(ctx, reason); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := ch.release(ctx, g, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reset clears the enabled flag without touching the channels. The engine
// calls it after it stopped every channel itself.
func (g *Group) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled.Store(false)
}

// AddChannel adds ch to the group and starts it when the group is enabled.
func (g *Group) AddChannel(ctx context.Context, ch *Channel) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.channels.Add(ch) {
		return nil
	}
	ch.groups.Add(g)
	if g.enabled.Load() {
		return ch.Start(ctx, "added to group "+g.cfg.Name)
	}
	return nil
}

// RemoveChannel drops ch from the group. An enabled group stops the channel
// unless another enabled group still holds it.
func (g *Group) RemoveChannel(ctx context.Context, ch *Channel) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.channels.Remove(ch) {
		return fmt.Errorf("group %q channel %q: %w", g.cfg.Name, ch.Name(), ErrUnknownChannel)
	}
	ch.groups.Remove(g)
	if g.enabled.Load() {
		return ch.release(ctx, g, "removed from group "+g.cfg.Name)
	}
	return nil
}
