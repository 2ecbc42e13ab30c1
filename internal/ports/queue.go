package ports

import "github.com/ghalamif/AegisArchive/internal/domain"

// SampleBuffer is the bounded per-channel queue between the update callback
// (single producer) and the writer (single consumer).
type SampleBuffer interface {
	Add(s *domain.Sample)
	Drain(max int) []*domain.Sample
	StatsReset()
	Size() int
	Capacity() int
	DroppedCount() uint64
	HighWaterMark() int
}
