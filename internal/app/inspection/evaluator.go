package inspection

import (
	"math"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

// ValueSource resolves expression leaves against buffered data.
type ValueSource interface {
	LatestSignal(id domain.SignalID) (domain.SignalValue, bool)
	LatestFrame(id domain.CANRawFrameID, channel domain.CANChannelID) (*domain.CollectedCANRawFrame, bool)
}

type resultKind uint8

const (
	resultUnavailable resultKind = iota
	resultNumber
	resultBool
)

type result struct {
	kind resultKind
	num  float64
	b    bool
}

var unavailable = result{kind: resultUnavailable}

func number(v float64) result { return result{kind: resultNumber, num: v} }
func boolean(v bool) result   { return result{kind: resultBool, b: v} }

func (r result) float() (float64, bool) {
	switch r.kind {
	case resultNumber:
		return r.num, true
	case resultBool:
		if r.b {
			return 1, true
		}
		return 0, true
	default:
		return math.NaN(), false
	}
}

func (r result) truthy() bool {
	switch r.kind {
	case resultBool:
		return r.b
	case resultNumber:
		return r.num != 0 && !math.IsNaN(r.num)
	default:
		return false
	}
}

// Evaluate walks the expression rooted at root and reports whether it holds.
// Leaves without data never satisfy a comparison, so a condition over
// missing signals evaluates to false.
func Evaluate(m *domain.InspectionMatrix, root domain.NodeIndex, src ValueSource) bool {
	if root == domain.NoNode {
		return false
	}
	return eval(m, root, src).truthy()
}

// evaluateNumber returns the numeric value of the expression at root, NaN
// when any leaf it depends on is unavailable.
func evaluateNumber(m *domain.InspectionMatrix, root domain.NodeIndex, src ValueSource) float64 {
	if root == domain.NoNode {
		return math.NaN()
	}
	v, _ := eval(m, root, src).float()
	return v
}

func eval(m *domain.InspectionMatrix, idx domain.NodeIndex, src ValueSource) result {
	n := m.Node(idx)
	switch n.Kind {
	case domain.NodeFloat:
		return number(n.FloatValue)
	case domain.NodeBoolean:
		return boolean(n.BoolValue)
	case domain.NodeSignal:
		v, ok := src.LatestSignal(n.SignalID)
		if !ok {
			return unavailable
		}
		if b, isBool := v.Bool(); isBool {
			return boolean(b)
		}
		return number(v.Float64())
	case domain.NodeCANFrame:
		f, ok := src.LatestFrame(n.Frame.FrameID, n.Frame.ChannelID)
		if !ok || n.Frame.ByteIndex >= f.Size {
			return unavailable
		}
		return number(float64(f.Data[n.Frame.ByteIndex]))
	case domain.NodeLogicalNot:
		r := eval(m, n.Left, src)
		if r.kind == resultUnavailable {
			return boolean(false)
		}
		return boolean(!r.truthy())
	case domain.NodeLogicalAnd:
		if !eval(m, n.Left, src).truthy() {
			return boolean(false)
		}
		return boolean(eval(m, n.Right, src).truthy())
	case domain.NodeLogicalOr:
		if eval(m, n.Left, src).truthy() {
			return boolean(true)
		}
		return boolean(eval(m, n.Right, src).truthy())
	}

	l, lok := eval(m, n.Left, src).float()
	r, rok := eval(m, n.Right, src).float()
	if n.Kind.IsArithmetic() {
		if !lok || !rok {
			return number(math.NaN())
		}
		switch n.Kind {
		case domain.NodeArithmeticPlus:
			return number(l + r)
		case domain.NodeArithmeticMinus:
			return number(l - r)
		case domain.NodeArithmeticMultiply:
			return number(l * r)
		default:
			return number(l / r)
		}
	}

	if !lok || !rok || math.IsNaN(l) || math.IsNaN(r) {
		return boolean(false)
	}
	switch n.Kind {
	case domain.NodeSmaller:
		return boolean(l < r)
	case domain.NodeBigger:
		return boolean(l > r)
	case domain.NodeSmallerEqual:
		return boolean(l <= r)
	case domain.NodeBiggerEqual:
		return boolean(l >= r)
	case domain.NodeEqual:
		return boolean(l == r)
	case domain.NodeNotEqual:
		return boolean(l != r)
	}
	return unavailable
}
