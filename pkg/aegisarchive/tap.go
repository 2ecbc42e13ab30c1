package aegisarchive

import (
	"context"
	"errors"
	"sync"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// ErrTapClosed is returned when a channel tap is written to after being closed.
var ErrTapClosed = errors.New("aegisarchive: tap closed")

// NewChannelTap exposes written batches via a channel; it returns the tap
// function, the read-only channel, and a close function that the caller
// should invoke during shutdown. A full channel blocks the writer.
func NewChannelTap(buffer int) (SampleBatchFunc, <-chan Batch, func()) {
	if buffer < 0 {
		buffer = 0
	}
	t := &channelTap{
		ch:     make(chan Batch, buffer),
		closed: make(chan struct{}),
	}
	return t.send, t.ch, t.close
}

type channelTap struct {
	ch     chan Batch
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

func (t *channelTap) send(b Batch) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	select {
	case <-t.closed:
		return ErrTapClosed
	default:
	}
	select {
	case <-t.closed:
		return ErrTapClosed
	case t.ch <- b:
		return nil
	}
}

func (t *channelTap) close() {
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		close(t.ch)
		t.mu.Unlock()
	})
}

// tapFacade hands every accepted batch to fn. It sits below the spool, so
// spooled batches reach fn once they are replayed. Tap failures are logged
// and never turn a successful write into a failed one.
type tapFacade struct {
	ports.Facade
	fn  SampleBatchFunc
	obs ports.Observability
}

func (t *tapFacade) WriteSamples(ctx context.Context, id domain.ChannelID, batch []*domain.Sample) error {
	if err := t.Facade.WriteSamples(ctx, id, batch); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	if err := t.fn(batchFromDomain(id, batch)); err != nil {
		t.obs.LogWarn("sample_tap_failed", err, ports.Field{Key: "channel_id", Value: int64(id)})
	}
	return nil
}
