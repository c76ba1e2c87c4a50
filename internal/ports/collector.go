package ports

import "github.com/ghalamif/AegisFleet/internal/domain"

// Collector produces decoded signals from a vehicle or plant data source.
type Collector interface {
	Start(out chan<- domain.CollectedSignal) error
	Stop() error
}
