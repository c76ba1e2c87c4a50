package ports

import "github.com/ghalamif/AegisFleet/internal/domain"

type WALEntryID uint64

// WAL spools triggered collections that could not be delivered and asked to
// be persisted.
type WAL interface {
	Append(data *domain.TriggeredCollectionSchemeData) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, data *domain.TriggeredCollectionSchemeData) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
