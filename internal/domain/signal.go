package domain

import (
	"fmt"
	"math"
	"time"
)

// SignalID identifies a decoded vehicle signal across the whole signal catalogue.
type SignalID uint32

// InvalidSignalID is never assigned to a real signal.
const InvalidSignalID SignalID = math.MaxUint32

// SignalType is the declared encoding of a signal value.
type SignalType uint8

const (
	SignalTypeUint8 SignalType = iota
	SignalTypeInt8
	SignalTypeUint16
	SignalTypeInt16
	SignalTypeUint32
	SignalTypeInt32
	SignalTypeUint64
	SignalTypeInt64
	SignalTypeFloat
	SignalTypeDouble
	SignalTypeBoolean
	// SignalTypeRawDataBufferHandle references a large payload (camera frame,
	// point cloud) held outside the engine.
	SignalTypeRawDataBufferHandle
)

var signalTypeNames = [...]string{
	SignalTypeUint8:               "uint8",
	SignalTypeInt8:                "int8",
	SignalTypeUint16:              "uint16",
	SignalTypeInt16:               "int16",
	SignalTypeUint32:              "uint32",
	SignalTypeInt32:               "int32",
	SignalTypeUint64:              "uint64",
	SignalTypeInt64:               "int64",
	SignalTypeFloat:               "float",
	SignalTypeDouble:              "double",
	SignalTypeBoolean:             "boolean",
	SignalTypeRawDataBufferHandle: "raw_data_buffer_handle",
}

func (t SignalType) String() string {
	if int(t) < len(signalTypeNames) {
		return signalTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", t)
}

// ParseSignalType maps a policy document name to a SignalType.
func ParseSignalType(name string) (SignalType, error) {
	if name == "" {
		return SignalTypeDouble, nil
	}
	for i, n := range signalTypeNames {
		if n == name {
			return SignalType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown signal type %q", name)
}

// SignalValue is a tagged value. The tag and the payload are only ever set
// together by the typed constructors below, so a value can never be read back
// as a type it was not built with.
type SignalValue struct {
	typ  SignalType
	bits uint64
}

func Uint8Value(v uint8) SignalValue   { return SignalValue{typ: SignalTypeUint8, bits: uint64(v)} }
func Int8Value(v int8) SignalValue     { return SignalValue{typ: SignalTypeInt8, bits: uint64(int64(v))} }
func Uint16Value(v uint16) SignalValue { return SignalValue{typ: SignalTypeUint16, bits: uint64(v)} }
func Int16Value(v int16) SignalValue   { return SignalValue{typ: SignalTypeInt16, bits: uint64(int64(v))} }
func Uint32Value(v uint32) SignalValue { return SignalValue{typ: SignalTypeUint32, bits: uint64(v)} }
func Int32Value(v int32) SignalValue   { return SignalValue{typ: SignalTypeInt32, bits: uint64(int64(v))} }
func Uint64Value(v uint64) SignalValue { return SignalValue{typ: SignalTypeUint64, bits: v} }
func Int64Value(v int64) SignalValue   { return SignalValue{typ: SignalTypeInt64, bits: uint64(v)} }

func FloatValue(v float32) SignalValue {
	return SignalValue{typ: SignalTypeFloat, bits: uint64(math.Float32bits(v))}
}

func DoubleValue(v float64) SignalValue {
	return SignalValue{typ: SignalTypeDouble, bits: math.Float64bits(v)}
}

func BoolValue(v bool) SignalValue {
	sv := SignalValue{typ: SignalTypeBoolean}
	if v {
		sv.bits = 1
	}
	return sv
}

// BufferHandleValue wraps a handle into an external raw data buffer.
func BufferHandleValue(handle uint32) SignalValue {
	return SignalValue{typ: SignalTypeRawDataBufferHandle, bits: uint64(handle)}
}

// NewSignalValue converts a float64 (the representation most decoders
// produce) into a value of the declared type, truncating like a C cast.
func NewSignalValue(t SignalType, v float64) (SignalValue, error) {
	switch t {
	case SignalTypeUint8:
		return Uint8Value(uint8(v)), nil
	case SignalTypeInt8:
		return Int8Value(int8(v)), nil
	case SignalTypeUint16:
		return Uint16Value(uint16(v)), nil
	case SignalTypeInt16:
		return Int16Value(int16(v)), nil
	case SignalTypeUint32:
		return Uint32Value(uint32(v)), nil
	case SignalTypeInt32:
		return Int32Value(int32(v)), nil
	case SignalTypeUint64:
		return Uint64Value(uint64(v)), nil
	case SignalTypeInt64:
		return Int64Value(int64(v)), nil
	case SignalTypeFloat:
		return FloatValue(float32(v)), nil
	case SignalTypeDouble:
		return DoubleValue(v), nil
	case SignalTypeBoolean:
		return BoolValue(v != 0), nil
	case SignalTypeRawDataBufferHandle:
		return BufferHandleValue(uint32(v)), nil
	default:
		return SignalValue{}, fmt.Errorf("unsupported signal type %d", t)
	}
}

// Bits exposes the raw payload for lossless codecs. Pair it with
// SignalValueFromBits to rebuild the value.
func (v SignalValue) Bits() uint64 { return v.bits }

// SignalValueFromBits rebuilds a value produced by Bits.
func SignalValueFromBits(t SignalType, bits uint64) (SignalValue, error) {
	switch t {
	case SignalTypeUint8:
		return Uint8Value(uint8(bits)), nil
	case SignalTypeInt8:
		return Int8Value(int8(bits)), nil
	case SignalTypeUint16:
		return Uint16Value(uint16(bits)), nil
	case SignalTypeInt16:
		return Int16Value(int16(bits)), nil
	case SignalTypeUint32:
		return Uint32Value(uint32(bits)), nil
	case SignalTypeInt32:
		return Int32Value(int32(bits)), nil
	case SignalTypeUint64:
		return Uint64Value(bits), nil
	case SignalTypeInt64:
		return Int64Value(int64(bits)), nil
	case SignalTypeFloat:
		return FloatValue(math.Float32frombits(uint32(bits))), nil
	case SignalTypeDouble:
		return DoubleValue(math.Float64frombits(bits)), nil
	case SignalTypeBoolean:
		return BoolValue(bits != 0), nil
	case SignalTypeRawDataBufferHandle:
		return BufferHandleValue(uint32(bits)), nil
	default:
		return SignalValue{}, fmt.Errorf("unsupported signal type %d", t)
	}
}

// Type returns the declared type tag.
func (v SignalValue) Type() SignalType { return v.typ }

func (v SignalValue) Uint8() (uint8, bool)   { return uint8(v.bits), v.typ == SignalTypeUint8 }
func (v SignalValue) Int8() (int8, bool)     { return int8(int64(v.bits)), v.typ == SignalTypeInt8 }
func (v SignalValue) Uint16() (uint16, bool) { return uint16(v.bits), v.typ == SignalTypeUint16 }
func (v SignalValue) Int16() (int16, bool)   { return int16(int64(v.bits)), v.typ == SignalTypeInt16 }
func (v SignalValue) Uint32() (uint32, bool) { return uint32(v.bits), v.typ == SignalTypeUint32 }
func (v SignalValue) Int32() (int32, bool)   { return int32(int64(v.bits)), v.typ == SignalTypeInt32 }
func (v SignalValue) Uint64() (uint64, bool) { return v.bits, v.typ == SignalTypeUint64 }
func (v SignalValue) Int64() (int64, bool)   { return int64(v.bits), v.typ == SignalTypeInt64 }

func (v SignalValue) Float() (float32, bool) {
	return math.Float32frombits(uint32(v.bits)), v.typ == SignalTypeFloat
}

func (v SignalValue) Double() (float64, bool) {
	return math.Float64frombits(v.bits), v.typ == SignalTypeDouble
}

func (v SignalValue) Bool() (bool, bool) { return v.bits != 0, v.typ == SignalTypeBoolean }

func (v SignalValue) BufferHandle() (uint32, bool) {
	return uint32(v.bits), v.typ == SignalTypeRawDataBufferHandle
}

// Float64 promotes the value to float64 according to its declared type.
// Booleans promote to 0 or 1.
func (v SignalValue) Float64() float64 {
	switch v.typ {
	case SignalTypeUint8, SignalTypeUint16, SignalTypeUint32, SignalTypeUint64,
		SignalTypeRawDataBufferHandle:
		return float64(v.bits)
	case SignalTypeInt8, SignalTypeInt16, SignalTypeInt32, SignalTypeInt64:
		return float64(int64(v.bits))
	case SignalTypeFloat:
		return float64(math.Float32frombits(uint32(v.bits)))
	case SignalTypeDouble:
		return math.Float64frombits(v.bits)
	case SignalTypeBoolean:
		if v.bits != 0 {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

func (v SignalValue) String() string {
	switch v.typ {
	case SignalTypeInt8, SignalTypeInt16, SignalTypeInt32, SignalTypeInt64:
		return fmt.Sprintf("%s(%d)", v.typ, int64(v.bits))
	case SignalTypeFloat, SignalTypeDouble:
		return fmt.Sprintf("%s(%g)", v.typ, v.Float64())
	case SignalTypeBoolean:
		return fmt.Sprintf("%s(%t)", v.typ, v.bits != 0)
	default:
		return fmt.Sprintf("%s(%d)", v.typ, v.bits)
	}
}

// CollectedSignal is one decoded sample handed to the inspection engine.
type CollectedSignal struct {
	SignalID    SignalID
	ReceiveTime time.Time
	Value       SignalValue
}
