package ports

import "time"

type Policy struct {
	BufferCapacity int           `yaml:"buffer_capacity"`
	WritePeriod    time.Duration `yaml:"write_period"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	WriterWorkers  int           `yaml:"writer_workers"`
	FacadeTimeout  time.Duration `yaml:"facade_timeout"`
	MaxSpoolBytes  int64         `yaml:"max_spool_bytes"`

	FilterMaxRate           time.Duration `yaml:"filter_max_rate"`
	SuppressUnchangedFilter bool          `yaml:"suppress_unchanged_filter"`
}

// ApplyDefaults fills zero fields.
func (p *Policy) ApplyDefaults() {
	if p.BufferCapacity <= 0 {
		p.BufferCapacity = 1_000
	}
	if p.WritePeriod <= 0 {
		p.WritePeriod = 5 * time.Second
	}
	if p.MaxBatchSize <= 0 {
		p.MaxBatchSize = 500
	}
	if p.WriterWorkers <= 0 {
		p.WriterWorkers = 4
	}
	if p.FacadeTimeout <= 0 {
		p.FacadeTimeout = 10 * time.Second
	}
	if p.MaxSpoolBytes == 0 {
		p.MaxSpoolBytes = 1 << 30
	}
	if p.FilterMaxRate == 0 {
		p.FilterMaxRate = 500 * time.Millisecond
	}
}
