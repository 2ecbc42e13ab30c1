package aegisarchive

import (
	"time"

	"github.com/ghalamif/AegisArchive/internal/domain"
)

// Sample mirrors the internal sample but is safe for external callers.
type Sample struct {
	ChannelID       int64
	Timestamp       time.Time
	Seq             uint64
	Value           string
	Numeric         float64
	Array           []float64
	Severity        string
	Status          string
	ClockRegression bool
}

// Batch is an ordered run of samples of one channel as written to the backend.
type Batch struct {
	ChannelID int64
	Samples   []Sample
}

// SampleBatchFunc receives every batch after the backend accepted it.
type SampleBatchFunc func(Batch) error

func sampleFromDomain(s *domain.Sample) Sample {
	out := Sample{
		ChannelID:       int64(s.ChannelID),
		Timestamp:       s.Timestamp,
		Seq:             s.Seq,
		Value:           s.Value.String(),
		Numeric:         s.Value.Num,
		Severity:        s.Severity.String(),
		Status:          s.Status,
		ClockRegression: s.ClockRegression,
	}
	if len(s.Value.Array) > 0 {
		out.Array = append([]float64(nil), s.Value.Array...)
	}
	return out
}

func batchFromDomain(id domain.ChannelID, samples []*domain.Sample) Batch {
	b := Batch{ChannelID: int64(id), Samples: make([]Sample, len(samples))}
	for i, s := range samples {
		b.Samples[i] = sampleFromDomain(s)
	}
	return b
}
