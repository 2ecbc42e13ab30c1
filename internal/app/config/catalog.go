package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// Catalog is an engine/group/channel definition kept in the config file.
// Ids may be omitted; channels with the same name share one id.
type Catalog struct {
	Engines []CatalogEngine `yaml:"engines"`
}

type CatalogEngine struct {
	domain.EngineConfig `yaml:",inline"`
	Groups              []CatalogGroup `yaml:"groups"`
}

type CatalogGroup struct {
	domain.GroupConfig `yaml:",inline"`
	Channels           []domain.ChannelConfig `yaml:"channels"`
}

func (c *Catalog) assignIDs() {
	var (
		nextEngine  domain.EngineID
		nextGroup   domain.GroupID
		nextChannel domain.ChannelID
		byName      = make(map[string]domain.ChannelID)
	)
	for _, e := range c.Engines {
		nextEngine = max(nextEngine, e.ID)
		for _, g := range e.Groups {
			nextGroup = max(nextGroup, g.ID)
			for _, ch := range g.Channels {
				nextChannel = max(nextChannel, ch.ID)
				if ch.ID != 0 && ch.Name != "" {
					byName[ch.Name] = ch.ID
				}
			}
		}
	}
	for i := range c.Engines {
		e := &c.Engines[i]
		if e.ID == 0 {
			nextEngine++
			e.ID = nextEngine
		}
		for j := range e.Groups {
			g := &e.Groups[j]
			if g.ID == 0 {
				nextGroup++
				g.ID = nextGroup
			}
			for k := range g.Channels {
				ch := &g.Channels[k]
				if ch.ID != 0 {
					continue
				}
				if id, ok := byName[ch.Name]; ok {
					ch.ID = id
					continue
				}
				nextChannel++
				ch.ID = nextChannel
				byName[ch.Name] = ch.ID
			}
		}
	}
}

func (c *Catalog) validate() error {
	var errs []error
	engines := make(map[string]bool)
	for _, e := range c.Engines {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("engine %d has no name", e.ID))
		}
		if engines[e.Name] {
			errs = append(errs, fmt.Errorf("engine %q defined twice", e.Name))
		}
		engines[e.Name] = true
	}
	return errors.Join(errs...)
}

// ChannelNames returns the distinct channel names of engine name.
func (c *Catalog) ChannelNames(name string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.Engines {
		if e.Name != name {
			continue
		}
		for _, g := range e.Groups {
			for _, ch := range g.Channels {
				if ch.Name != "" && !seen[ch.Name] {
					seen[ch.Name] = true
					out = append(out, ch.Name)
				}
			}
		}
	}
	return out
}

func (c *Catalog) FindEngineConfig(_ context.Context, name string) (*domain.EngineConfig, error) {
	for _, e := range c.Engines {
		if e.Name == name {
			cfg := e.EngineConfig
			return &cfg, nil
		}
	}
	return nil, fmt.Errorf("engine %q: %w", name, ports.ErrNotFound)
}

func (c *Catalog) GetGroupsForEngine(_ context.Context, id domain.EngineID) ([]domain.GroupConfig, error) {
	for _, e := range c.Engines {
		if e.ID != id {
			continue
		}
		out := make([]domain.GroupConfig, 0, len(e.Groups))
		for _, g := range e.Groups {
			out = append(out, g.GroupConfig)
		}
		return out, nil
	}
	return nil, fmt.Errorf("engine %d: %w", id, ports.ErrNotFound)
}

func (c *Catalog) GetChannelsForGroup(_ context.Context, id domain.GroupID) ([]domain.ChannelConfig, error) {
	for _, e := range c.Engines {
		for _, g := range e.Groups {
			if g.ID == id {
				return append([]domain.ChannelConfig(nil), g.Channels...), nil
			}
		}
	}
	return nil, fmt.Errorf("group %d: %w", id, ports.ErrNotFound)
}

var _ ports.Catalog = (*Catalog)(nil)
