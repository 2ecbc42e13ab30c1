package ports

import (
	"context"
	"time"

	"github.com/ghalamif/AegisArchive/internal/domain"
)

// Mode selects which source changes produce updates.
type Mode int

const (
	// ModeAllUpdates delivers every value change.
	ModeAllUpdates Mode = iota
	// ModeAlarmOnly delivers only alarm state changes.
	ModeAlarmOnly
)

func (m Mode) String() string {
	if m == ModeAlarmOnly {
		return "alarm-only"
	}
	return "all-updates"
}

// Handle identifies an active subscription.
type Handle string

// Update is one notification from a live source.
type Update struct {
	Value     any
	Connected bool
	StateInfo string
	Severity  domain.Severity
	Status    string
	Timestamp time.Time
	// Metadata is filled when the source could report it, usually on connect.
	Metadata *domain.Metadata
	// Err reports a source-side failure; Value is meaningless when set.
	Err error
}

// Callback receives updates on a thread chosen by the Subscriber.
type Callback func(Update)

// Subscriber is the live data source used by channels and filters.
type Subscriber interface {
	Subscribe(ctx context.Context, name string, mode Mode, cb Callback) (Handle, error)
	Unsubscribe(ctx context.Context, h Handle) error
}
