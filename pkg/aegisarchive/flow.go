package aegisarchive

import (
	"context"
	"errors"
	"time"
)

var errNilFlow = errors.New("aegisarchive: nil flow")

// Flow assembles a Runtime in three steps: Conf picks the configuration,
// StreamIN the acquisition side (sources, filters, telemetry) and StreamOUT
// the persistence side (facade, catalog, spool, taps).
type Flow struct {
	cfg *Config
	in  []RuntimeOption
	out []RuntimeOption
}

// FlowOption adjusts a Flow right after its configuration is known.
type FlowOption func(*Flow)

// StreamInOption configures acquisition.
type StreamInOption func(*Flow)

// StreamOutOption configures persistence.
type StreamOutOption func(*Flow)

// Conf reads the YAML configuration at path.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from an already parsed configuration. The
// Flow keeps cfg, so later edits through Config are seen by StreamOUT.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("aegisarchive: config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Engine selects which catalog engine the runtime archives.
func (f *Flow) Engine(name string) *Flow {
	if f != nil && name != "" {
		f.cfg.Engine.Name = name
	}
	return f
}

// Simulate replaces the configured source with the built-in random walk.
func (f *Flow) Simulate(period time.Duration) *Flow {
	if f == nil {
		return nil
	}
	f.cfg.Source.Kind = SourceSim
	if period > 0 {
		f.cfg.Source.SimPeriod = period
	}
	return f
}

// Options adds runtime options that belong to neither side.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f != nil {
		f.in = appendOpts(f.in, opts)
	}
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies the persistence options and builds the Runtime.
// Acquisition options are applied first, so a persistence option wins
// when both sides set the same thing.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errNilFlow
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	all := make([]RuntimeOption, 0, len(f.in)+len(f.out))
	all = append(all, f.in...)
	all = append(all, f.out...)
	return NewRuntime(f.cfg, all...)
}

// Run builds the Runtime and runs it until ctx is done.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.in = appendOpts(f.in, opts) }
}

func StreamInSubscriber(s Subscriber) StreamInOption {
	return inOption(s != nil, func() RuntimeOption { return WithSubscriber(s) })
}

// StreamInFilterSubscriber sets the source group filters read their
// variables from. Without it filters share the channel source through a
// rate limiter.
func StreamInFilterSubscriber(s Subscriber) StreamInOption {
	return inOption(s != nil, func() RuntimeOption { return WithFilterSubscriber(s) })
}

func StreamInObservability(obs Observability) StreamInOption {
	return inOption(obs != nil, func() RuntimeOption { return WithObservability(obs) })
}

func StreamOutFacade(fac Facade) StreamOutOption {
	return outOption(fac != nil, func() RuntimeOption { return WithFacade(fac) })
}

// StreamOutCatalog reads engines, groups and channels from c instead of the
// facade.
func StreamOutCatalog(c Catalog) StreamOutOption {
	return outOption(c != nil, func() RuntimeOption { return WithCatalog(c) })
}

func StreamOutWAL(w WAL) StreamOutOption {
	return outOption(w != nil, func() RuntimeOption { return WithWAL(w) })
}

// StreamOutCallback hands every batch the backend accepted to fn.
func StreamOutCallback(fn SampleBatchFunc) StreamOutOption {
	return outOption(fn != nil, func() RuntimeOption { return WithSampleTap(fn) })
}

func inOption(ok bool, opt func() RuntimeOption) StreamInOption {
	return func(f *Flow) {
		if f != nil && ok {
			f.in = append(f.in, opt())
		}
	}
}

func outOption(ok bool, opt func() RuntimeOption) StreamOutOption {
	return func(f *Flow) {
		if f != nil && ok {
			f.out = append(f.out, opt())
		}
	}
}

func appendOpts(dst []RuntimeOption, opts []RuntimeOption) []RuntimeOption {
	for _, opt := range opts {
		if opt != nil {
			dst = append(dst, opt)
		}
	}
	return dst
}
