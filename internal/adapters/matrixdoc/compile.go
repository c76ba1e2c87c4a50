package matrixdoc

import (
	"fmt"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

var binaryOps = map[string]domain.NodeKind{
	"<":   domain.NodeSmaller,
	">":   domain.NodeBigger,
	"<=":  domain.NodeSmallerEqual,
	">=":  domain.NodeBiggerEqual,
	"==":  domain.NodeEqual,
	"!=":  domain.NodeNotEqual,
	"&&":  domain.NodeLogicalAnd,
	"and": domain.NodeLogicalAnd,
	"||":  domain.NodeLogicalOr,
	"or":  domain.NodeLogicalOr,
	"+":   domain.NodeArithmeticPlus,
	"-":   domain.NodeArithmeticMinus,
	"*":   domain.NodeArithmeticMultiply,
	"/":   domain.NodeArithmeticDivide,
}

// Compile turns a validated document into an inspection matrix. Signals an
// expression reads but the scheme does not declare are added as
// condition-only signals with a single-sample buffer. Raw frames must be
// declared, since declared frames are uploaded.
func Compile(doc *Document) (*domain.InspectionMatrix, error) {
	var b domain.MatrixBuilder
	for i := range doc.Schemes {
		s := &doc.Schemes[i]
		expr, err := compileNode(&s.Expression)
		if err != nil {
			return nil, fmt.Errorf("scheme %q: %w", s.ID, err)
		}
		cond, err := compileCondition(doc, s)
		if err != nil {
			return nil, fmt.Errorf("scheme %q: %w", s.ID, err)
		}
		b.Add(expr, cond)
	}
	return b.Build()
}

func compileCondition(doc *Document, s *Scheme) (domain.Condition, error) {
	decoder := s.DecoderID
	if decoder == "" {
		decoder = doc.DecoderID
	}
	probability := 1.0
	if s.ProbabilityToSend != nil {
		probability = *s.ProbabilityToSend
	}
	cond := domain.Condition{
		MinimumPublishInterval:  ms(s.MinimumPublishIntervalMS),
		AfterDuration:           ms(s.AfterDurationMS),
		IncludeActiveDTCs:       s.IncludeActiveDTCs,
		TriggerOnlyOnRisingEdge: s.RisingEdge,
		ProbabilityToSend:       probability,
		Metadata: domain.PassThroughMetadata{
			Compress:           s.Compress,
			Persist:            s.Persist,
			Priority:           s.Priority,
			DecoderID:          decoder,
			CollectionSchemeID: s.ID,
		},
	}

	declared := make(map[uint32]bool, len(s.Signals))
	for _, sig := range s.Signals {
		typ, err := domain.ParseSignalType(sig.Type)
		if err != nil {
			return cond, fmt.Errorf("signal %d: %w", sig.ID, err)
		}
		agg, err := domain.ParseAggregationMode(sig.Aggregation)
		if err != nil {
			return cond, fmt.Errorf("signal %d: %w", sig.ID, err)
		}
		cond.Signals = append(cond.Signals, domain.SignalCollectionInfo{
			SignalID:              domain.SignalID(sig.ID),
			SampleBufferSize:      sig.BufferSize,
			MinimumSampleInterval: ms(sig.MinSampleIntervalMS),
			FixedWindowPeriod:     ms(sig.WindowMS),
			Aggregation:           agg,
			IsConditionOnlySignal: sig.ConditionOnly,
			SignalType:            typ,
		})
		declared[sig.ID] = true
	}
	frames := make(map[domain.CANFrameRef]bool, len(s.CANFrames))
	for _, f := range s.CANFrames {
		cond.CANFrames = append(cond.CANFrames, domain.CANFrameCollectionInfo{
			FrameID:               domain.CANRawFrameID(f.FrameID),
			ChannelID:             domain.CANChannelID(f.ChannelID),
			SampleBufferSize:      f.BufferSize,
			MinimumSampleInterval: ms(f.MinSampleIntervalMS),
		})
		frames[domain.CANFrameRef{FrameID: domain.CANRawFrameID(f.FrameID), ChannelID: domain.CANChannelID(f.ChannelID)}] = true
	}

	var err error
	walk(&s.Expression, func(n *Node) {
		switch {
		case n.Signal != nil && !declared[*n.Signal]:
			declared[*n.Signal] = true
			cond.Signals = append(cond.Signals, domain.SignalCollectionInfo{
				SignalID:              domain.SignalID(*n.Signal),
				SampleBufferSize:      1,
				IsConditionOnlySignal: true,
				SignalType:            domain.SignalTypeDouble,
			})
		case n.Frame != nil && err == nil:
			ref := domain.CANFrameRef{FrameID: domain.CANRawFrameID(n.Frame.FrameID), ChannelID: domain.CANChannelID(n.Frame.ChannelID)}
			if !frames[ref] {
				err = fmt.Errorf("expression reads frame %#x on channel %d which is not declared", n.Frame.FrameID, n.Frame.ChannelID)
			}
		}
	})
	return cond, err
}

func walk(n *Node, fn func(*Node)) {
	fn(n)
	for i := range n.Args {
		walk(&n.Args[i], fn)
	}
}

func compileNode(n *Node) (*domain.Expr, error) {
	switch {
	case n.Const != nil:
		return domain.Const(*n.Const), nil
	case n.Bool != nil:
		return domain.Bool(*n.Bool), nil
	case n.Signal != nil:
		return domain.Signal(domain.SignalID(*n.Signal)), nil
	case n.Frame != nil:
		if n.Frame.Byte >= domain.MaxCANFrameByteSize {
			return nil, fmt.Errorf("frame byte %d out of range", n.Frame.Byte)
		}
		return domain.Frame(domain.CANFrameRef{
			FrameID:   domain.CANRawFrameID(n.Frame.FrameID),
			ChannelID: domain.CANChannelID(n.Frame.ChannelID),
			ByteIndex: n.Frame.Byte,
		}), nil
	}

	if n.Op == "!" || n.Op == "not" {
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("operator %q takes 1 argument, got %d", n.Op, len(n.Args))
		}
		arg, err := compileNode(&n.Args[0])
		if err != nil {
			return nil, err
		}
		return domain.Not(arg), nil
	}

	kind, ok := binaryOps[n.Op]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", n.Op)
	}
	if len(n.Args) != 2 {
		return nil, fmt.Errorf("operator %q takes 2 arguments, got %d", n.Op, len(n.Args))
	}
	left, err := compileNode(&n.Args[0])
	if err != nil {
		return nil, err
	}
	right, err := compileNode(&n.Args[1])
	if err != nil {
		return nil, err
	}
	return domain.Binary(kind, left, right), nil
}
