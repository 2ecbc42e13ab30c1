package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedValue is returned by DecodeValue for payloads that cannot be
// archived.
var ErrUnsupportedValue = errors.New("unsupported value")

// Enum is the raw form of an enumerated value as delivered by a subscription.
type Enum struct {
	Index int
	Label string
}

// DecodeValue converts a raw subscription payload into a Value.
func DecodeValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Value{}, fmt.Errorf("%w: nil payload", ErrUnsupportedValue)
	case float64:
		return Value{Kind: KindDouble, Num: v}, nil
	case float32:
		return Value{Kind: KindDouble, Num: float64(v)}, nil
	case int:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case int8:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case int16:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case int32:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case int64:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case uint8:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case uint16:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case uint32:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case uint64:
		return Value{Kind: KindLong, Num: float64(v)}, nil
	case bool:
		if v {
			return Value{Kind: KindLong, Num: 1}, nil
		}
		return Value{Kind: KindLong, Num: 0}, nil
	case string:
		return Value{Kind: KindString, Str: v}, nil
	case Enum:
		if v.Index < 0 {
			return Value{}, fmt.Errorf("%w: negative enum index %d", ErrUnsupportedValue, v.Index)
		}
		return Value{Kind: KindEnum, Num: float64(v.Index), Str: v.Label}, nil
	case []float64:
		return Value{Kind: KindArray, Array: append([]float64(nil), v...)}, nil
	case []float32:
		return Value{Kind: KindArray, Array: widen(v)}, nil
	case []int32:
		return Value{Kind: KindArray, Array: widen(v)}, nil
	case []int64:
		return Value{Kind: KindArray, Array: widen(v)}, nil
	case []int16:
		return Value{Kind: KindArray, Array: widen(v)}, nil
	case []uint8:
		return Value{Kind: KindArray, Array: widen(v)}, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

// ToFloat reduces a raw payload to a scalar. Arrays use their first element;
// strings and unsupported payloads yield NaN and false.
func ToFloat(raw any) (float64, bool) {
	v, err := DecodeValue(raw)
	if err != nil {
		return math.NaN(), false
	}
	switch v.Kind {
	case KindDouble, KindLong, KindEnum:
		return v.Num, true
	case KindArray:
		if len(v.Array) == 0 {
			return math.NaN(), false
		}
		return v.Array[0], true
	default:
		return math.NaN(), false
	}
}

type number interface {
	~float32 | ~int16 | ~int32 | ~int64 | ~uint8
}

func widen[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}
