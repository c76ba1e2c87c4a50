package ports

import (
	"time"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

// ActiveConditionProcessor accepts new inspection matrices from the policy side.
type ActiveConditionProcessor interface {
	OnChangeInspectionMatrix(matrix *domain.InspectionMatrix)
}

// DataAvailableNotifier is called by producers after pushing into an input queue.
type DataAvailableNotifier interface {
	NotifyNewData()
}

// InspectionEventListener is told about every emitted collection.
type InspectionEventListener interface {
	OnInspectionEvent(eventID domain.EventID, triggerTime time.Time, metadata domain.PassThroughMetadata)
}
