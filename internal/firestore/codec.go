package firestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

var ErrUnsupportedType = errors.New("firestore: unsupported type")

// Encode converts a native Go value into its wire Value. Integers map to
// IntegerValue and floats to DoubleValue; a json.Number is an integer when it
// is whole. Slices and string-keyed maps are encoded recursively.
func Encode(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NullValue{}, nil
	case Value:
		return x, nil
	case string:
		return StringValue(x), nil
	case bool:
		return BooleanValue(x), nil
	case int:
		return IntegerValue(x), nil
	case int8:
		return IntegerValue(x), nil
	case int16:
		return IntegerValue(x), nil
	case int32:
		return IntegerValue(x), nil
	case int64:
		return IntegerValue(x), nil
	case uint8:
		return IntegerValue(x), nil
	case uint16:
		return IntegerValue(x), nil
	case uint32:
		return IntegerValue(x), nil
	case uint:
		return encodeUint(uint64(x))
	case uint64:
		return encodeUint(x)
	case float32:
		return DoubleValue(x), nil
	case float64:
		return DoubleValue(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return IntegerValue(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("firestore: encode number %q: %w", x, err)
		}
		return DoubleValue(f), nil
	case time.Time:
		return TimestampValue(x.UTC()), nil
	case []any:
		return encodeArray(len(x), func(i int) any { return x[i] })
	case map[string]any:
		fields, err := EncodeFields(x)
		if err != nil {
			return nil, err
		}
		return MapValue(fields), nil
	}
	return encodeReflect(reflect.ValueOf(v))
}

// EncodeFields encodes every entry of a document's field set.
func EncodeFields(fields map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		ev, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

func encodeUint(n uint64) (Value, error) {
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, n)
	}
	return IntegerValue(int64(n)), nil
}

func encodeArray(n int, at func(int) any) (Value, error) {
	out := make(ArrayValue, 0, n)
	for i := 0; i < n; i++ {
		ev, err := Encode(at(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func encodeReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NullValue{}, nil
		}
		return Encode(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return NullValue{}, nil
		}
		return encodeArray(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Array:
		return encodeArray(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return NullValue{}, nil
		}
		out := make(MapValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			ev, err := Encode(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Bool:
		return BooleanValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntegerValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return encodeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return DoubleValue(rv.Float()), nil
	}
	if !rv.IsValid() {
		return NullValue{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
}

// Decode converts a wire Value back into a native Go value: nil, string,
// int64, float64, bool, time.Time, []any or map[string]any.
func Decode(v Value) (any, error) {
	switch x := v.(type) {
	case NullValue:
		return nil, nil
	case StringValue:
		return string(x), nil
	case IntegerValue:
		return int64(x), nil
	case DoubleValue:
		return float64(x), nil
	case BooleanValue:
		return bool(x), nil
	case TimestampValue:
		return time.Time(x).UTC(), nil
	case ArrayValue:
		out := make([]any, 0, len(x))
		for i, item := range x {
			dv, err := Decode(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, dv)
		}
		return out, nil
	case MapValue:
		return DecodeFields(x)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownValueType, v)
}

// DecodeFields decodes a document's field set.
func DecodeFields(fields map[string]Value) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		dv, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = dv
	}
	return out, nil
}
