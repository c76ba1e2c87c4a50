package aegisfleet

import (
	"github.com/ghalamif/AegisFleet/internal/adapters/matrixdoc"
	"github.com/ghalamif/AegisFleet/internal/domain"
)

type (
	InspectionMatrix       = domain.InspectionMatrix
	Condition              = domain.Condition
	SignalCollectionInfo   = domain.SignalCollectionInfo
	CANFrameCollectionInfo = domain.CANFrameCollectionInfo
	CANFrameRef            = domain.CANFrameRef
	AggregationMode        = domain.AggregationMode
	NodeKind               = domain.NodeKind
	Expr                   = domain.Expr
	MatrixBuilder          = domain.MatrixBuilder
	// MatrixDocument is the parsed form of a collection scheme document.
	MatrixDocument = matrixdoc.Document
)

const (
	AggregationLatest  = domain.AggregationLatest
	AggregationAverage = domain.AggregationAverage
	AggregationMin     = domain.AggregationMin
	AggregationMax     = domain.AggregationMax
)

// Expression builders for MatrixBuilder.
var (
	Const   = domain.Const
	Bool    = domain.Bool
	Signal  = domain.Signal
	Frame   = domain.Frame
	Binary  = domain.Binary
	Not     = domain.Not
	And     = domain.And
	Or      = domain.Or
	Smaller = domain.Smaller
	Bigger  = domain.Bigger
	Equal   = domain.Equal
)

// LoadMatrix reads, validates and compiles a collection scheme document
// (.yaml, .yml, .json or .jsonc).
func LoadMatrix(path string) (*InspectionMatrix, error) {
	m, _, err := matrixdoc.LoadFile(path)
	return m, err
}

// ParseMatrix compiles a document held in memory. ext selects the syntax as
// a file extension would.
func ParseMatrix(data []byte, ext string) (*InspectionMatrix, error) {
	doc, err := matrixdoc.Parse(data, ext)
	if err != nil {
		return nil, err
	}
	return matrixdoc.Compile(doc)
}
