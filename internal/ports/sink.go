package ports

import (
	"fmt"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

// Sink hands triggered collections to whatever ships them off the vehicle.
// A sink that delivers part of a batch returns a *BatchError naming the
// collections it could not write; any other error fails the whole batch.
type Sink interface {
	WriteBatch(batch []*domain.TriggeredCollectionSchemeData) error
	Name() string
}

// BatchError lists the batch indexes, ascending, that a sink failed to
// write. Collections not listed were delivered.
type BatchError struct {
	Failed []int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d collections of batch failed: %v", len(e.Failed), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
