package facade

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
	"github.com/ghalamif/AegisArchive/internal/retry"
)

func newMockFacade(t *testing.T, attempts int) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	f := NewSQL(db, SQLConfig{
		Schema: "archive",
		Retry:  retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	return f, mock
}

func TestSQLWriteSamples(t *testing.T) {
	f, mock := newMockFacade(t, 1)
	ts := time.Now()

	batch := []*domain.Sample{
		{ChannelID: 7, Timestamp: ts, Seq: 1, Value: domain.Value{Kind: domain.KindDouble, Num: 42}, Status: "OK"},
		{ChannelID: 7, Timestamp: ts.Add(time.Second), Seq: 2, Value: domain.Value{Kind: domain.KindDouble, Num: 43}, Severity: domain.SeverityMinor},
	}

	expectedQuery := regexp.QuoteMeta(`INSERT INTO "archive".sample (channel_id, ts, seq, value, severity, status) VALUES ($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12) ON CONFLICT (channel_id, ts, seq) DO NOTHING`)
	mock.ExpectExec(expectedQuery).
		WithArgs(
			int64(7), ts, int64(1), sqlmock.AnyArg(), "NO_ALARM", "OK",
			int64(7), ts.Add(time.Second), int64(2), sqlmock.AnyArg(), "MINOR", "",
		).
		WillReturnResult(sqlmock.NewResult(2, 2))

	if err := f.WriteSamples(context.Background(), 7, batch); err != nil {
		t.Fatalf("write samples: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLWriteSamplesNoSamples(t *testing.T) {
	f, mock := newMockFacade(t, 1)
	if err := f.WriteSamples(context.Background(), 1, nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLWriteSamplesSplitsLargeBatches(t *testing.T) {
	f, mock := newMockFacade(t, 1)
	ts := time.Now()

	batch := make([]*domain.Sample, MaxBatchSize+1)
	for i := range batch {
		batch[i] = &domain.Sample{ChannelID: 3, Timestamp: ts.Add(time.Duration(i) * time.Millisecond), Seq: uint64(i + 1)}
	}

	insert := regexp.QuoteMeta(`INSERT INTO "archive".sample`)
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, int64(MaxBatchSize)))
	mock.ExpectExec(insert).
		WithArgs(int64(3), batch[MaxBatchSize].Timestamp, int64(MaxBatchSize+1), sqlmock.AnyArg(), "NO_ALARM", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := f.WriteSamples(context.Background(), 3, batch); err != nil {
		t.Fatalf("write samples: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLRetriesUnavailable(t *testing.T) {
	f, mock := newMockFacade(t, 3)
	query := regexp.QuoteMeta(`INSERT INTO "archive".channel_status`)

	mock.ExpectExec(query).WillReturnError(&pq.Error{Code: pq.ErrorCode(pgerrcode.ConnectionFailure)})
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := f.WriteConnectionInfo(context.Background(), 3, true, "", time.Now()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLDoesNotRetryBackendError(t *testing.T) {
	f, mock := newMockFacade(t, 3)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "archive".monitor_mode`)).
		WithArgs(int64(3), "ON", int64(1), sqlmock.AnyArg(), "enabled").
		WillReturnError(&pq.Error{Code: pq.ErrorCode(pgerrcode.ForeignKeyViolation)})

	err := f.WriteMonitorModeInfo(context.Background(), 3, domain.MonitorOn, 1, time.Now(), "enabled")
	if !errors.Is(err, ports.ErrBackendError) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("constraint violation must not be classified unavailable")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLUnavailableAfterAttempts(t *testing.T) {
	f, mock := newMockFacade(t, 2)
	query := regexp.QuoteMeta(`UPDATE "archive".channel SET display_low = $1, display_high = $2 WHERE channel_id = $3`)
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	mock.ExpectExec(query).WithArgs(0.0, 10.0, int64(4)).WillReturnError(refused)
	mock.ExpectExec(query).WithArgs(0.0, 10.0, int64(4)).WillReturnError(refused)

	err := f.WriteDisplayRangeInfo(context.Background(), 4, 0, 10)
	if !errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestSQLCatalog(t *testing.T) {
	f, mock := newMockFacade(t, 1)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT engine_id, name, url FROM "archive".archive_engine WHERE name = $1`)).
		WithArgs("main").
		WillReturnRows(sqlmock.NewRows([]string{"engine_id", "name", "url"}).AddRow(1, "main", nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT group_id, name, enabling_expr FROM "archive".channel_group WHERE engine_id = $1 ORDER BY group_id`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "name", "enabling_expr"}).
			AddRow(10, "vacuum", nil).
			AddRow(11, "rf", "rf:on > 0"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT channel_id, name, buffer_capacity FROM "archive".channel WHERE group_id = $1 ORDER BY channel_id`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id", "name", "buffer_capacity"}).
			AddRow(100, "vac:p1", nil).
			AddRow(101, "vac:p2", 50))

	eng, err := f.FindEngineConfig(ctx, "main")
	if err != nil {
		t.Fatalf("find engine: %v", err)
	}
	if eng.ID != 1 || eng.Name != "main" || eng.URL != "" {
		t.Fatalf("unexpected engine %+v", eng)
	}

	groups, err := f.GetGroupsForEngine(ctx, eng.ID)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 2 || groups[0].Filter != "" || groups[1].Filter != "rf:on > 0" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	channels, err := f.GetChannelsForGroup(ctx, groups[0].ID)
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	if len(channels) != 2 || channels[0].BufferCapacity != 0 || channels[1].BufferCapacity != 50 {
		t.Fatalf("unexpected channels %+v", channels)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLFindEngineNotFound(t *testing.T) {
	f, mock := newMockFacade(t, 3)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT engine_id, name, url FROM "archive".archive_engine`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"engine_id", "name", "url"}))

	_, err := f.FindEngineConfig(context.Background(), "missing")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLName(t *testing.T) {
	f, _ := newMockFacade(t, 1)
	if f.Name() != "postgres" {
		t.Fatalf("expected facade name postgres, got %s", f.Name())
	}
}
