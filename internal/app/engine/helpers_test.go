package engine

import (
	"sync"
	"time"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

type recordingObs struct {
	mu       sync.Mutex
	counters map[string]float64
	warnings []string
	errors   []string
	lost     int
}

func newRecordingObs() *recordingObs {
	return &recordingObs{counters: make(map[string]float64)}
}

func (o *recordingObs) LogInfo(string, ...ports.Field) {}

func (o *recordingObs) LogWarn(msg string, _ error, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings = append(o.warnings, msg)
}

func (o *recordingObs) LogError(msg string, _ error, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, msg)
}

func (o *recordingObs) LogCritical(msg string, err error, fields ...ports.Field) {
	o.LogError(msg, err, fields...)
}

func (o *recordingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += v
}

func (o *recordingObs) ObserveLatency(string, float64) {}
func (o *recordingObs) SetGauge(string, float64)       {}

func (o *recordingObs) RecordLostBatch(_ domain.ChannelID, n int, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lost += n
}

func (o *recordingObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func (o *recordingObs) warned(msg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.warnings {
		if w == msg {
			return true
		}
	}
	return false
}

func testPolicy() ports.Policy {
	p := ports.Policy{
		WritePeriod:   10 * time.Millisecond,
		FacadeTimeout: time.Second,
	}
	p.ApplyDefaults()
	return p
}

func monitorModes(records []domain.StatusRecord) []domain.MonitorMode {
	out := make([]domain.MonitorMode, len(records))
	for i, r := range records {
		out[i] = r.Mode
	}
	return out
}

func values(samples []*domain.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value.Num
	}
	return out
}
