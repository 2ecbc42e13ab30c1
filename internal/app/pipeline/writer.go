package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// Source is a channel as seen by the writer.
type Source interface {
	ID() domain.ChannelID
	Name() string
	Buffer() ports.SampleBuffer
	IsConnected() bool
	MarkPersisted(s *domain.Sample)
}

// Writer drains every source buffer once per period and writes one batch
// per channel. Batches of different channels are written concurrently on a
// bounded worker pool; a failing channel never holds up the others. A batch
// the facade rejects is reported lost, so durability beyond that point is
// the facade's job (see facade.Spooling). A spooled batch is neither lost
// nor archived.
type Writer struct {
	facade  ports.SampleWriter
	sources func() []Source
	pol     ports.Policy
	obs     ports.Observability

	ticks atomic.Uint64
}

func NewWriter(facade ports.SampleWriter, sources func() []Source, pol ports.Policy, obs ports.Observability) *Writer {
	pol.ApplyDefaults()
	return &Writer{facade: facade, sources: sources, pol: pol, obs: obs}
}

// Run writes every WritePeriod until ctx is done, then drains all buffers
// one last time.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pol.WritePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick replays the facade spool, if any, and writes at most one batch per
// source.
func (w *Writer) Tick(ctx context.Context) {
	w.replay(ctx)
	w.writeAll(ctx, false)
	w.ticks.Add(1)
}

// Flush empties every buffer.
func (w *Writer) Flush(ctx context.Context) {
	w.replay(ctx)
	w.writeAll(ctx, true)
}

// Ticks counts completed periods.
func (w *Writer) Ticks() uint64 { return w.ticks.Load() }

func (w *Writer) replay(ctx context.Context) {
	r, ok := w.facade.(ports.Replayer)
	if !ok {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, w.pol.FacadeTimeout)
	defer cancel()
	if err := r.Replay(rctx); err != nil {
		w.obs.LogWarn("writer_replay_incomplete", err)
	}
}

func (w *Writer) writeAll(ctx context.Context, drainAll bool) {
	srcs := w.sources()

	var g errgroup.Group
	g.SetLimit(w.pol.WriterWorkers)
	for _, src := range srcs {
		src := src
		g.Go(func() error {
			more := w.writeChannel(ctx, src)
			for drainAll && more {
				more = w.writeChannel(ctx, src)
			}
			return nil
		})
	}
	_ = g.Wait()

	var buffered, connected int
	for _, src := range srcs {
		buffered += src.Buffer().Size()
		if src.IsConnected() {
			connected++
		}
	}
	w.obs.SetGauge(ports.GaugeSamplesBuffered, float64(buffered))
	w.obs.SetGauge(ports.GaugeChannelsConnected, float64(connected))
}

// writeChannel writes one batch and reports whether a full batch was
// written or spooled, i.e. whether more samples may be waiting.
func (w *Writer) writeChannel(ctx context.Context, src Source) bool {
	batch := src.Buffer().Drain(w.pol.MaxBatchSize)
	if len(batch) == 0 {
		return false
	}

	wctx, cancel := context.WithTimeout(ctx, w.pol.FacadeTimeout)
	defer cancel()

	start := time.Now()
	err := w.facade.WriteSamples(wctx, src.ID(), batch)
	if errors.Is(err, ports.ErrSpooled) {
		// Kept for replay; the last archived value stays as it is.
		return len(batch) == w.pol.MaxBatchSize
	}
	if err != nil {
		w.obs.IncCounter(ports.MetricBatchFailures, 1)
		w.obs.LogError("writer_batch_failed", err,
			ports.Field{Key: "channel", Value: src.Name()},
			ports.Field{Key: "samples", Value: len(batch)},
		)
		w.obs.RecordLostBatch(src.ID(), len(batch), err)
		return false
	}
	w.obs.ObserveLatency(ports.LatencyBatchWrite, time.Since(start).Seconds())
	w.obs.IncCounter(ports.MetricSamplesWritten, float64(len(batch)))
	src.MarkPersisted(batch[len(batch)-1])
	return len(batch) == w.pol.MaxBatchSize
}
