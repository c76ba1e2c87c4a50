package main

import (
	"fmt"
	"strconv"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

var operatorSymbols = map[domain.NodeKind]string{
	domain.NodeSmaller:            "<",
	domain.NodeBigger:             ">",
	domain.NodeSmallerEqual:       "<=",
	domain.NodeBiggerEqual:        ">=",
	domain.NodeEqual:              "==",
	domain.NodeNotEqual:           "!=",
	domain.NodeLogicalAnd:         "&&",
	domain.NodeLogicalOr:          "||",
	domain.NodeArithmeticPlus:     "+",
	domain.NodeArithmeticMinus:    "-",
	domain.NodeArithmeticMultiply: "*",
	domain.NodeArithmeticDivide:   "/",
}

// formatExpression renders the tree rooted at idx in infix form.
func formatExpression(m *domain.InspectionMatrix, idx domain.NodeIndex) string {
	n := m.Node(idx)
	switch n.Kind {
	case domain.NodeFloat:
		return strconv.FormatFloat(n.FloatValue, 'g', -1, 64)
	case domain.NodeBoolean:
		return strconv.FormatBool(n.BoolValue)
	case domain.NodeSignal:
		return fmt.Sprintf("signal(%d)", n.SignalID)
	case domain.NodeCANFrame:
		return fmt.Sprintf("frame(0x%x@%d)[%d]", n.Frame.FrameID, n.Frame.ChannelID, n.Frame.ByteIndex)
	case domain.NodeLogicalNot:
		return "!" + formatExpression(m, n.Left)
	}
	op, ok := operatorSymbols[n.Kind]
	if !ok {
		return "?"
	}
	return fmt.Sprintf("(%s %s %s)", formatExpression(m, n.Left), op, formatExpression(m, n.Right))
}
