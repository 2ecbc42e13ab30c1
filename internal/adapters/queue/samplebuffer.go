package queue

import (
	"sync"
	"sync/atomic"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// SampleBuffer is a bounded FIFO ring that evicts the oldest sample when
// full, so Add never waits for the consumer. The mutex only covers index
// arithmetic; size, drops and high-water mark are mirrored into atomics so
// status readers never take it.
type SampleBuffer struct {
	mu   sync.Mutex
	data []*domain.Sample
	head int // next read position
	n    int

	size    atomic.Int64
	dropped atomic.Uint64
	hwm     atomic.Int64
}

func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &SampleBuffer{data: make([]*domain.Sample, capacity)}
}

func (b *SampleBuffer) Add(s *domain.Sample) {
	b.mu.Lock()
	if b.n == len(b.data) {
		b.data[b.head] = nil
		b.head = (b.head + 1) % len(b.data)
		b.n--
		b.dropped.Add(1)
	}
	b.data[(b.head+b.n)%len(b.data)] = s
	b.n++
	b.size.Store(int64(b.n))
	if int64(b.n) > b.hwm.Load() {
		b.hwm.Store(int64(b.n))
	}
	b.mu.Unlock()
}

// Drain removes up to max samples in insertion order. max <= 0 drains all.
func (b *SampleBuffer) Drain(max int) []*domain.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n == 0 {
		return nil
	}
	if max <= 0 || max > b.n {
		max = b.n
	}
	out := make([]*domain.Sample, max)
	for i := range out {
		out[i] = b.data[b.head]
		b.data[b.head] = nil
		b.head = (b.head + 1) % len(b.data)
	}
	b.n -= max
	b.size.Store(int64(b.n))
	return out
}

// StatsReset zeroes the drop counter and high-water mark; queued samples stay.
func (b *SampleBuffer) StatsReset() {
	b.dropped.Store(0)
	b.hwm.Store(0)
}

func (b *SampleBuffer) Size() int            { return int(b.size.Load()) }
func (b *SampleBuffer) Capacity() int        { return len(b.data) }
func (b *SampleBuffer) DroppedCount() uint64 { return b.dropped.Load() }
func (b *SampleBuffer) HighWaterMark() int   { return int(b.hwm.Load()) }

var _ ports.SampleBuffer = (*SampleBuffer)(nil)
