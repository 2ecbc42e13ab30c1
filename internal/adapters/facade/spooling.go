package facade

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

const replayBatchSize = 500

// Spooling decorates a facade with a write-ahead spool. Batches the backend
// cannot take because it is unavailable are appended to the WAL and replayed
// on later periods. While a backlog exists new batches are spooled too, so
// samples of a channel reach the backend in order.
type Spooling struct {
	ports.Facade

	wal      ports.WAL
	obs      ports.Observability
	maxBytes int64

	mu sync.Mutex
}

// NewSpooling wraps next. maxBytes <= 0 disables the size limit.
func NewSpooling(next ports.Facade, wal ports.WAL, obs ports.Observability, maxBytes int64) *Spooling {
	return &Spooling{Facade: next, wal: wal, obs: obs, maxBytes: maxBytes}
}

// WriteSamples returns nil once the batch is persisted and ErrSpooled once
// it is durably spooled. Backend errors other than unavailability are
// returned as is. The backend write runs without the spool lock so a slow
// channel does not hold up the others; writes of one channel must not
// overlap.
func (s *Spooling) WriteSamples(ctx context.Context, id domain.ChannelID, batch []*domain.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.wal.Stats().Pending() {
		defer s.mu.Unlock()
		return s.spoolLocked(batch)
	}
	s.mu.Unlock()

	err := s.Facade.WriteSamples(ctx, id, batch)
	if err == nil || !errors.Is(err, ports.ErrBackendUnavailable) {
		return err
	}
	s.obs.LogWarn("spool_batch", err,
		ports.Field{Key: "channel_id", Value: id},
		ports.Field{Key: "samples", Value: len(batch)},
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spoolLocked(batch)
}

func (s *Spooling) spoolLocked(batch []*domain.Sample) error {
	if s.maxBytes > 0 && s.wal.Stats().SizeBytes >= s.maxBytes {
		return fmt.Errorf("spool full at %d bytes: %w", s.maxBytes, ports.ErrBackendUnavailable)
	}
	for _, smp := range batch {
		if _, err := s.wal.Append(smp); err != nil {
			return fmt.Errorf("spool append: %w", err)
		}
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("spool sync: %w", err)
	}
	s.obs.IncCounter(ports.MetricSamplesSpooled, float64(len(batch)))
	s.obs.SetGauge(ports.GaugeSpoolBytes, float64(s.wal.Stats().SizeBytes))
	return ports.ErrSpooled
}

var errStopReplay = errors.New("stop replay")

// Replay pushes spooled samples to the backend, one channel run at a time,
// and commits what was accepted. It stops at the first unavailable error and
// resumes there on the next call. A run the backend rejects outright is
// dropped and reported as lost.
func (s *Spooling) Replay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.wal.Stats()
	if !stats.Pending() {
		return nil
	}

	var (
		run       []*domain.Sample
		runLast   ports.WALEntryID
		committed ports.WALEntryID
		stopErr   error
	)
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		id := run[0].ChannelID
		err := s.Facade.WriteSamples(ctx, id, run)
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrBackendUnavailable):
			stopErr = err
			return errStopReplay
		default:
			s.obs.RecordLostBatch(id, len(run), err)
		}
		committed = runLast
		run = nil
		return nil
	}

	err := s.wal.Iterate(stats.OldestUncommitted, func(id ports.WALEntryID, smp *domain.Sample) error {
		if len(run) > 0 && (run[0].ChannelID != smp.ChannelID || len(run) >= replayBatchSize) {
			if err := flush(); err != nil {
				return err
			}
		}
		run = append(run, smp)
		runLast = id
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil && !errors.Is(err, errStopReplay) {
		return fmt.Errorf("spool iterate: %w", err)
	}

	if committed > 0 {
		if err := s.wal.Commit(committed); err != nil {
			return fmt.Errorf("spool commit: %w", err)
		}
	}
	if !s.wal.Stats().Pending() {
		if err := s.wal.TruncateCommitted(); err != nil {
			return fmt.Errorf("spool truncate: %w", err)
		}
		s.obs.LogInfo("spool_drained")
	}
	s.obs.SetGauge(ports.GaugeSpoolBytes, float64(s.wal.Stats().SizeBytes))
	return stopErr
}

// Backlog reports whether spooled samples wait for replay.
func (s *Spooling) Backlog() bool {
	return s.wal.Stats().Pending()
}

var (
	_ ports.Facade   = (*Spooling)(nil)
	_ ports.Replayer = (*Spooling)(nil)
)
