package ports

import "github.com/ghalamif/AegisArchive/internal/domain"

type WALEntryID uint64

// WAL is the append-only spool for sample batches the backend did not accept.
type WAL interface {
	Append(s *domain.Sample) (WALEntryID, error)
	Sync() error
	Iterate(from WALEntryID, fn func(id WALEntryID, s *domain.Sample) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}

// Pending reports whether entries exist past the commit point.
func (s WALStats) Pending() bool {
	return s.LatestAppended >= s.OldestUncommitted && s.LatestAppended != 0
}
