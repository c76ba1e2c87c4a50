package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxActiveConditions bounds the conditions the engine evaluates; the
	// rest of a matrix is ignored.
	MaxActiveConditions = 256
	// MaxEquationDepth bounds expression tree depth. Deeper trees are
	// rejected when the matrix is built.
	MaxEquationDepth = 10
	// MaxDifferentSignalIDs bounds the distinct signals tracked at once.
	MaxDifferentSignalIDs = 50000
)

var (
	ErrEquationTooDeep = errors.New("domain: expression exceeds maximum depth")
	ErrInvalidNode     = errors.New("domain: invalid expression node")
)

// NodeIndex addresses a node inside InspectionMatrix.Nodes.
type NodeIndex int32

// NoNode marks an absent child.
const NoNode NodeIndex = -1

// NodeKind selects how an ExpressionNode is evaluated.
type NodeKind uint8

const (
	NodeFloat NodeKind = iota
	NodeBoolean
	NodeSignal
	NodeCANFrame

	NodeSmaller
	NodeBigger
	NodeSmallerEqual
	NodeBiggerEqual
	NodeEqual
	NodeNotEqual

	NodeLogicalAnd
	NodeLogicalOr
	NodeLogicalNot

	NodeArithmeticPlus
	NodeArithmeticMinus
	NodeArithmeticMultiply
	NodeArithmeticDivide
)

// IsLeaf reports whether the kind carries no children.
func (k NodeKind) IsLeaf() bool { return k <= NodeCANFrame }

// IsUnary reports whether the kind only uses Left.
func (k NodeKind) IsUnary() bool { return k == NodeLogicalNot }

// IsComparison reports whether the kind compares two numbers.
func (k NodeKind) IsComparison() bool { return k >= NodeSmaller && k <= NodeNotEqual }

// IsArithmetic reports whether the kind produces a number from two numbers.
func (k NodeKind) IsArithmetic() bool { return k >= NodeArithmeticPlus && k <= NodeArithmeticDivide }

// CANFrameRef points a leaf at one byte of the latest frame with FrameID on
// ChannelID.
type CANFrameRef struct {
	FrameID   CANRawFrameID
	ChannelID CANChannelID
	ByteIndex uint8
}

// ExpressionNode is one node of a condition's expression tree.
type ExpressionNode struct {
	Kind        NodeKind
	Left, Right NodeIndex
	FloatValue  float64
	BoolValue   bool
	SignalID    SignalID
	Frame       CANFrameRef
}

// AggregationMode decides how samples inside one fixed window collapse into
// the value stored for that window.
type AggregationMode uint8

const (
	AggregationLatest AggregationMode = iota
	AggregationAverage
	AggregationMin
	AggregationMax
)

// ParseAggregationMode maps a policy document name to an AggregationMode.
func ParseAggregationMode(name string) (AggregationMode, error) {
	switch name {
	case "", "latest":
		return AggregationLatest, nil
	case "average", "avg":
		return AggregationAverage, nil
	case "min":
		return AggregationMin, nil
	case "max":
		return AggregationMax, nil
	default:
		return 0, fmt.Errorf("unknown aggregation mode %q", name)
	}
}

// SignalCollectionInfo is the buffering policy one condition needs for one signal.
type SignalCollectionInfo struct {
	SignalID              SignalID
	SampleBufferSize      uint32
	MinimumSampleInterval time.Duration // zero records every sample
	FixedWindowPeriod     time.Duration // zero disables windowing
	Aggregation           AggregationMode
	IsConditionOnlySignal bool // buffered for evaluation only, never uploaded
	SignalType            SignalType
}

// CANFrameCollectionInfo is the buffering policy one condition needs for one raw frame.
type CANFrameCollectionInfo struct {
	FrameID               CANRawFrameID
	ChannelID             CANChannelID
	SampleBufferSize      uint32
	MinimumSampleInterval time.Duration
}

// PassThroughMetadata travels unchanged from the collection scheme to the output.
type PassThroughMetadata struct {
	Compress           bool
	Persist            bool
	Priority           uint32
	DecoderID          string
	CollectionSchemeID string
}

// Condition is one trigger rule with the data it collects.
type Condition struct {
	Root                    NodeIndex
	MinimumPublishInterval  time.Duration
	AfterDuration           time.Duration
	Signals                 []SignalCollectionInfo
	CANFrames               []CANFrameCollectionInfo
	IncludeActiveDTCs       bool
	TriggerOnlyOnRisingEdge bool
	// ProbabilityToSend is applied only when data reduction is enabled.
	ProbabilityToSend float64
	Metadata          PassThroughMetadata
}

// InspectionMatrix is an immutable policy snapshot. Conditions address their
// expression roots inside Nodes, so both share the matrix's lifetime.
type InspectionMatrix struct {
	Conditions []Condition
	Nodes      []ExpressionNode
}

// NewInspectionMatrix validates node references and expression depth.
func NewInspectionMatrix(conditions []Condition, nodes []ExpressionNode) (*InspectionMatrix, error) {
	m := &InspectionMatrix{Conditions: conditions, Nodes: nodes}
	for i := range conditions {
		c := &conditions[i]
		if err := m.validateNode(c.Root, 1); err != nil {
			return nil, fmt.Errorf("condition %d (%s): %w", i, c.Metadata.CollectionSchemeID, err)
		}
		if c.ProbabilityToSend < 0 || c.ProbabilityToSend > 1 {
			return nil, fmt.Errorf("condition %d (%s): probability to send %v outside [0,1]",
				i, c.Metadata.CollectionSchemeID, c.ProbabilityToSend)
		}
	}
	return m, nil
}

func (m *InspectionMatrix) validateNode(idx NodeIndex, depth int) error {
	if depth > MaxEquationDepth {
		return ErrEquationTooDeep
	}
	if idx < 0 || int(idx) >= len(m.Nodes) {
		return fmt.Errorf("%w: index %d out of range", ErrInvalidNode, idx)
	}
	n := &m.Nodes[idx]
	switch {
	case n.Kind.IsLeaf():
		return nil
	case n.Kind.IsUnary():
		return m.validateNode(n.Left, depth+1)
	case n.Kind <= NodeArithmeticDivide:
		if err := m.validateNode(n.Left, depth+1); err != nil {
			return err
		}
		return m.validateNode(n.Right, depth+1)
	default:
		return fmt.Errorf("%w: unknown kind %d at %d", ErrInvalidNode, n.Kind, idx)
	}
}

// Node returns the node at idx. Callers rely on the matrix being validated.
func (m *InspectionMatrix) Node(idx NodeIndex) *ExpressionNode {
	return &m.Nodes[idx]
}
