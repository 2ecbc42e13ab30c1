package facade

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
	"github.com/ghalamif/AegisArchive/internal/retry"
)

// SQLConfig selects the schema of the archive tables and the retry schedule
// used for transient failures.
type SQLConfig struct {
	Schema string
	Retry  retry.Config
}

// SQL is the PostgreSQL/TimescaleDB facade. Sample inserts are idempotent on
// (channel_id, ts, seq), so a replayed batch never duplicates rows.
type SQL struct {
	db     *sql.DB
	prefix string
	retry  retry.Config
}

func NewSQL(db *sql.DB, cfg SQLConfig) *SQL {
	prefix := ""
	if cfg.Schema != "" {
		prefix = pq.QuoteIdentifier(cfg.Schema) + "."
	}
	rc := cfg.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig()
	}
	return &SQL{db: db, prefix: prefix, retry: rc}
}

func (s *SQL) Name() string { return "postgres" }

func (s *SQL) table(name string) string { return s.prefix + name }

// do runs fn with backoff. Only unavailable errors are retried.
func (s *SQL) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(ctx, s.retry, func() error {
		err := classify(op, fn())
		if err != nil && !errors.Is(err, ports.ErrBackendUnavailable) {
			return retry.NonRetryable(err)
		}
		return err
	})
}

// sampleColumns is the number of bind parameters per inserted sample.
const sampleColumns = 6

// MaxBatchSize is the largest batch one INSERT can carry within the
// PostgreSQL limit of 65535 bind parameters. Larger batches are split.
const MaxBatchSize = 65535 / sampleColumns

func (s *SQL) WriteSamples(ctx context.Context, id domain.ChannelID, batch []*domain.Sample) error {
	for len(batch) > 0 {
		n := min(len(batch), MaxBatchSize)
		if err := s.insertSamples(ctx, id, batch[:n]); err != nil {
			return err
		}
		batch = batch[n:]
	}
	return nil
}

func (s *SQL) insertSamples(ctx context.Context, id domain.ChannelID, batch []*domain.Sample) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table("sample"))
	b.WriteString(" (channel_id, ts, seq, value, severity, status) VALUES ")

	args := make([]any, 0, len(batch)*sampleColumns)
	for i, smp := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		val, err := json.Marshal(smp.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w: %w", ports.ErrBackendError, err)
		}

		args = append(args,
			int64(id),
			smp.Timestamp,
			int64(smp.Seq),
			string(val),
			smp.Severity.String(),
			smp.Status,
		)
	}

	b.WriteString(" ON CONFLICT (channel_id, ts, seq) DO NOTHING")

	query := b.String()
	return s.do(ctx, "write samples", func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *SQL) WriteConnectionInfo(ctx context.Context, id domain.ChannelID, connected bool, info string, ts time.Time) error {
	query := "INSERT INTO " + s.table("channel_status") + " (channel_id, connected, info, ts) VALUES ($1,$2,$3,$4)"
	return s.do(ctx, "write connection info", func() error {
		_, err := s.db.ExecContext(ctx, query, int64(id), connected, info, ts)
		return err
	})
}

func (s *SQL) WriteMonitorModeInfo(ctx context.Context, id domain.ChannelID, mode domain.MonitorMode, engine domain.EngineID, ts time.Time, reason string) error {
	query := "INSERT INTO " + s.table("monitor_mode") + " (channel_id, mode, engine_id, ts, reason) VALUES ($1,$2,$3,$4,$5)"
	return s.do(ctx, "write monitor mode", func() error {
		_, err := s.db.ExecContext(ctx, query, int64(id), string(mode), int64(engine), ts, reason)
		return err
	})
}

func (s *SQL) WriteDisplayRangeInfo(ctx context.Context, id domain.ChannelID, low, high float64) error {
	query := "UPDATE " + s.table("channel") + " SET display_low = $1, display_high = $2 WHERE channel_id = $3"
	return s.do(ctx, "write display range", func() error {
		_, err := s.db.ExecContext(ctx, query, low, high, int64(id))
		return err
	})
}

func (s *SQL) FindEngineConfig(ctx context.Context, name string) (*domain.EngineConfig, error) {
	query := "SELECT engine_id, name, url FROM " + s.table("archive_engine") + " WHERE name = $1"
	var (
		cfg domain.EngineConfig
		url sql.NullString
	)
	err := s.do(ctx, "find engine "+name, func() error {
		return s.db.QueryRowContext(ctx, query, name).Scan(&cfg.ID, &cfg.Name, &url)
	})
	if err != nil {
		return nil, err
	}
	cfg.URL = url.String
	return &cfg, nil
}

func (s *SQL) GetGroupsForEngine(ctx context.Context, id domain.EngineID) ([]domain.GroupConfig, error) {
	query := "SELECT group_id, name, enabling_expr FROM " + s.table("channel_group") + " WHERE engine_id = $1 ORDER BY group_id"
	return retry.DoWithResult(ctx, s.retry, func() ([]domain.GroupConfig, error) {
		out, err := queryGroups(ctx, s.db, query, int64(id))
		if err = classify("groups for engine", err); err != nil && !errors.Is(err, ports.ErrBackendUnavailable) {
			return nil, retry.NonRetryable(err)
		}
		return out, err
	})
}

func (s *SQL) GetChannelsForGroup(ctx context.Context, id domain.GroupID) ([]domain.ChannelConfig, error) {
	query := "SELECT channel_id, name, buffer_capacity FROM " + s.table("channel") + " WHERE group_id = $1 ORDER BY channel_id"
	return retry.DoWithResult(ctx, s.retry, func() ([]domain.ChannelConfig, error) {
		out, err := queryChannels(ctx, s.db, query, int64(id))
		if err = classify("channels for group", err); err != nil && !errors.Is(err, ports.ErrBackendUnavailable) {
			return nil, retry.NonRetryable(err)
		}
		return out, err
	})
}

func queryGroups(ctx context.Context, db *sql.DB, query string, engine int64) ([]domain.GroupConfig, error) {
	rows, err := db.QueryContext(ctx, query, engine)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GroupConfig
	for rows.Next() {
		var (
			g    domain.GroupConfig
			expr sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.Name, &expr); err != nil {
			return nil, err
		}
		g.Filter = expr.String
		out = append(out, g)
	}
	return out, rows.Err()
}

func queryChannels(ctx context.Context, db *sql.DB, query string, group int64) ([]domain.ChannelConfig, error) {
	rows, err := db.QueryContext(ctx, query, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelConfig
	for rows.Next() {
		var (
			c        domain.ChannelConfig
			capacity sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Name, &capacity); err != nil {
			return nil, err
		}
		c.BufferCapacity = int(capacity.Int64)
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ ports.Facade = (*SQL)(nil)
