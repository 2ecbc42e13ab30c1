package ports

import "github.com/ghalamif/AegisArchive/internal/domain"

const (
	MetricSamplesReceived   = "aegis_archive_samples_received_total"
	MetricDecodeFailures    = "aegis_archive_decode_failures_total"
	MetricBufferDropped     = "aegis_archive_buffer_dropped_total"
	MetricSamplesWritten    = "aegis_archive_samples_written_total"
	MetricSamplesLost       = "aegis_archive_samples_lost_total"
	MetricBatchFailures     = "aegis_archive_batch_failures_total"
	MetricStatusFailures    = "aegis_archive_status_write_failures_total"
	MetricFilterEvaluations = "aegis_archive_filter_evaluations_total"
	MetricSamplesSpooled    = "aegis_archive_samples_spooled_total"

	GaugeChannelsConnected = "aegis_archive_channels_connected"
	GaugeSamplesBuffered   = "aegis_archive_samples_buffered"
	GaugeSpoolBytes        = "aegis_archive_spool_size_bytes"

	LatencyBatchWrite = "aegis_archive_batch_write_seconds"
)

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, err error, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordLostBatch(id domain.ChannelID, n int, err error)
}

type Field struct {
	Key   string
	Value any
}
