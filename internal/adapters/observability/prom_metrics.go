package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// PromObs exports engine counters to Prometheus and writes structured logs
// through zap.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the engine metrics with reg (the default registerer
// when nil). A nil logger disables logging.
func NewPromObs(reg prometheus.Registerer, logger *zap.Logger) (*PromObs, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			ports.MetricSamplesReceived:   counter(ports.MetricSamplesReceived, "Updates decoded into samples."),
			ports.MetricDecodeFailures:    counter(ports.MetricDecodeFailures, "Updates discarded because they could not be decoded."),
			ports.MetricBufferDropped:     counter(ports.MetricBufferDropped, "Samples evicted from full channel buffers."),
			ports.MetricSamplesWritten:    counter(ports.MetricSamplesWritten, "Samples accepted by the persistence backend."),
			ports.MetricSamplesLost:       counter(ports.MetricSamplesLost, "Samples of batches that could neither be written nor spooled."),
			ports.MetricBatchFailures:     counter(ports.MetricBatchFailures, "Sample batches rejected by the persistence backend."),
			ports.MetricStatusFailures:    counter(ports.MetricStatusFailures, "Connection, monitor-mode or metadata records that could not be written."),
			ports.MetricFilterEvaluations: counter(ports.MetricFilterEvaluations, "Filter expression evaluations."),
			ports.MetricSamplesSpooled:    counter(ports.MetricSamplesSpooled, "Samples appended to the write-ahead spool."),
		},
		gauges: map[string]prometheus.Gauge{
			ports.GaugeChannelsConnected: gauge(ports.GaugeChannelsConnected, "Channels currently connected to their source."),
			ports.GaugeSamplesBuffered:   gauge(ports.GaugeSamplesBuffered, "Samples waiting in channel buffers."),
			ports.GaugeSpoolBytes:        gauge(ports.GaugeSpoolBytes, "Size of the write-ahead spool on disk."),
		},
		histos: map[string]prometheus.Observer{},
	}

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.LatencyBatchWrite,
		Help:    "Duration of one sample batch write.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	p.histos[ports.LatencyBatchWrite] = latency

	collectors := []prometheus.Collector{latency}
	for _, c := range p.counters {
		collectors = append(collectors, c)
	}
	for _, g := range p.gauges {
		collectors = append(collectors, g)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(nil, fields)...)
}

func (p *PromObs) LogWarn(msg string, err error, fields ...ports.Field) {
	p.log.Warn(msg, zapFields(err, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, zapFields(err, fields)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(err, fields), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordLostBatch(id domain.ChannelID, n int, err error) {
	p.IncCounter(ports.MetricSamplesLost, float64(n))
	p.log.Error("sample_batch_lost", zapFields(err, []ports.Field{
		{Key: "channel_id", Value: id},
		{Key: "samples", Value: n},
	})...)
}

func zapFields(err error, fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
