package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func t0() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestMatrixBuilderLaysOutPreOrder(t *testing.T) {
	var b MatrixBuilder
	m, err := b.
		Add(And(Bigger(Signal(1), Const(50)), Not(Signal(2))), Condition{}).
		Add(Bool(true), Condition{}).
		Build()
	require.NoError(t, err)

	kinds := make([]NodeKind, len(m.Nodes))
	for i, n := range m.Nodes {
		kinds[i] = n.Kind
	}
	assert.Equal(t, []NodeKind{
		NodeLogicalAnd, NodeBigger, NodeSignal, NodeFloat, NodeLogicalNot, NodeSignal, NodeBoolean,
	}, kinds)

	assert.Equal(t, NodeIndex(0), m.Conditions[0].Root)
	assert.Equal(t, NodeIndex(6), m.Conditions[1].Root)

	and := m.Node(0)
	assert.Equal(t, NodeIndex(1), and.Left)
	assert.Equal(t, NodeIndex(4), and.Right)
	not := m.Node(4)
	assert.Equal(t, NodeIndex(5), not.Left)
	assert.Equal(t, NoNode, not.Right)
}

func nested(depth int) *Expr {
	e := Bigger(Signal(1), Const(0))
	for d := 2; d < depth; d++ {
		e = Not(e)
	}
	return e
}

func TestMatrixRejectsDeepExpressions(t *testing.T) {
	var ok MatrixBuilder
	_, err := ok.Add(nested(MaxEquationDepth), Condition{}).Build()
	require.NoError(t, err)

	var deep MatrixBuilder
	_, err = deep.Add(nested(MaxEquationDepth+1), Condition{}).Build()
	assert.ErrorIs(t, err, ErrEquationTooDeep)
}

func TestMatrixRejectsBrokenArena(t *testing.T) {
	_, err := NewInspectionMatrix(
		[]Condition{{Root: 0}},
		[]ExpressionNode{{Kind: NodeBigger, Left: 1, Right: 5}, {Kind: NodeFloat}},
	)
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = NewInspectionMatrix([]Condition{{Root: NoNode}}, nil)
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestMatrixRejectsProbabilityOutOfRange(t *testing.T) {
	var b MatrixBuilder
	_, err := b.Add(Bool(true), Condition{ProbabilityToSend: 1.5}).Build()
	assert.Error(t, err)
}

func TestParseAggregationMode(t *testing.T) {
	m, err := ParseAggregationMode("avg")
	require.NoError(t, err)
	assert.Equal(t, AggregationAverage, m)

	_, err = ParseAggregationMode("median")
	assert.Error(t, err)
}
