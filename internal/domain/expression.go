package domain

// Expr is the tree form of an expression used while building a matrix.
// MatrixBuilder flattens it into the arena in depth-first pre-order.
type Expr struct {
	node     ExpressionNode
	children []*Expr
}

func Const(v float64) *Expr   { return &Expr{node: ExpressionNode{Kind: NodeFloat, FloatValue: v}} }
func Bool(v bool) *Expr       { return &Expr{node: ExpressionNode{Kind: NodeBoolean, BoolValue: v}} }
func Signal(id SignalID) *Expr { return &Expr{node: ExpressionNode{Kind: NodeSignal, SignalID: id}} }

// Frame reads one byte of the latest frame matching ref.
func Frame(ref CANFrameRef) *Expr {
	return &Expr{node: ExpressionNode{Kind: NodeCANFrame, Frame: ref}}
}

// Binary combines two expressions with a comparison, logical or arithmetic kind.
func Binary(kind NodeKind, left, right *Expr) *Expr {
	return &Expr{node: ExpressionNode{Kind: kind}, children: []*Expr{left, right}}
}

func Not(e *Expr) *Expr { return &Expr{node: ExpressionNode{Kind: NodeLogicalNot}, children: []*Expr{e}} }

func And(l, r *Expr) *Expr     { return Binary(NodeLogicalAnd, l, r) }
func Or(l, r *Expr) *Expr      { return Binary(NodeLogicalOr, l, r) }
func Smaller(l, r *Expr) *Expr { return Binary(NodeSmaller, l, r) }
func Bigger(l, r *Expr) *Expr  { return Binary(NodeBigger, l, r) }
func Equal(l, r *Expr) *Expr   { return Binary(NodeEqual, l, r) }

// MatrixBuilder accumulates conditions and their flattened expressions.
type MatrixBuilder struct {
	conditions []Condition
	nodes      []ExpressionNode
}

// Add appends expr to the arena and records cond with its root pointing at it.
func (b *MatrixBuilder) Add(expr *Expr, cond Condition) *MatrixBuilder {
	cond.Root = b.flatten(expr)
	b.conditions = append(b.conditions, cond)
	return b
}

func (b *MatrixBuilder) flatten(e *Expr) NodeIndex {
	if e == nil {
		return NoNode
	}
	idx := NodeIndex(len(b.nodes))
	n := e.node
	n.Left, n.Right = NoNode, NoNode
	b.nodes = append(b.nodes, n)
	if len(e.children) > 0 {
		left := b.flatten(e.children[0])
		b.nodes[idx].Left = left
	}
	if len(e.children) > 1 {
		right := b.flatten(e.children[1])
		b.nodes[idx].Right = right
	}
	return idx
}

// Build validates and returns the matrix.
func (b *MatrixBuilder) Build() (*InspectionMatrix, error) {
	return NewInspectionMatrix(b.conditions, b.nodes)
}
