package firestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrUnknownValueType = errors.New("firestore: unknown value type")

// Value is one typed value on the wire. The concrete variants are the types
// declared below; each marshals to its tagged JSON object.
type Value interface {
	json.Marshaler
	isValue()
}

type (
	NullValue      struct{}
	StringValue    string
	IntegerValue   int64
	DoubleValue    float64
	BooleanValue   bool
	TimestampValue time.Time
	ArrayValue     []Value
	MapValue       map[string]Value
)

func (NullValue) isValue()      {}
func (StringValue) isValue()    {}
func (IntegerValue) isValue()   {}
func (DoubleValue) isValue()    {}
func (BooleanValue) isValue()   {}
func (TimestampValue) isValue() {}
func (ArrayValue) isValue()     {}
func (MapValue) isValue()       {}

func (NullValue) MarshalJSON() ([]byte, error) {
	return []byte(`{"nullValue":null}`), nil
}

func (v StringValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"stringValue": string(v)})
}

// integers travel as decimal text so 64-bit values survive JSON number parsing
func (v IntegerValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"integerValue": strconv.FormatInt(int64(v), 10)})
}

func (v DoubleValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte(`{"doubleValue":"NaN"}`), nil
	case math.IsInf(f, 1):
		return []byte(`{"doubleValue":"Infinity"}`), nil
	case math.IsInf(f, -1):
		return []byte(`{"doubleValue":"-Infinity"}`), nil
	}
	return json.Marshal(map[string]float64{"doubleValue": f})
}

func (v BooleanValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]bool{"booleanValue": bool(v)})
}

func (v TimestampValue) MarshalJSON() ([]byte, error) {
	ts := time.Time(v).UTC().Format(time.RFC3339Nano)
	return json.Marshal(map[string]string{"timestampValue": ts})
}

func (v ArrayValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte(`{"arrayValue":{}}`), nil
	}
	return json.Marshal(map[string]any{"arrayValue": map[string][]Value{"values": v}})
}

func (v MapValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte(`{"mapValue":{}}`), nil
	}
	return json.Marshal(map[string]any{"mapValue": map[string]map[string]Value{"fields": v}})
}

// UnmarshalValue parses one tagged JSON value.
func UnmarshalValue(data []byte) (Value, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("firestore: parse value: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one tag, got %d", ErrUnknownValueType, len(tagged))
	}

	for tag, raw := range tagged {
		return unmarshalTagged(tag, raw)
	}
	return nil, ErrUnknownValueType
}

func unmarshalTagged(tag string, raw json.RawMessage) (Value, error) {
	switch tag {
	case "nullValue":
		return NullValue{}, nil
	case "stringValue":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("firestore: stringValue: %w", err)
		}
		return StringValue(s), nil
	case "integerValue":
		return parseInteger(raw)
	case "doubleValue":
		return parseDouble(raw)
	case "booleanValue":
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("firestore: booleanValue: %w", err)
		}
		return BooleanValue(b), nil
	case "timestampValue":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("firestore: timestampValue: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("firestore: timestampValue: %w", err)
		}
		return TimestampValue(t.UTC()), nil
	case "arrayValue":
		return parseArray(raw)
	case "mapValue":
		return parseMap(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownValueType, tag)
	}
}

func parseInteger(raw json.RawMessage) (Value, error) {
	// the REST surface emits strings, but accept bare numbers too
	s := string(bytes.Trim(raw, `"`))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("firestore: integerValue: %w", err)
	}
	return IntegerValue(n), nil
}

func parseDouble(raw json.RawMessage) (Value, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return DoubleValue(f), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("firestore: doubleValue: %w", err)
	}
	switch s {
	case "NaN":
		return DoubleValue(math.NaN()), nil
	case "Infinity":
		return DoubleValue(math.Inf(1)), nil
	case "-Infinity":
		return DoubleValue(math.Inf(-1)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("firestore: doubleValue: %w", err)
	}
	return DoubleValue(f), nil
}

func parseArray(raw json.RawMessage) (Value, error) {
	var body struct {
		Values []json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("firestore: arrayValue: %w", err)
	}

	out := make(ArrayValue, 0, len(body.Values))
	for i, item := range body.Values {
		v, err := UnmarshalValue(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseMap(raw json.RawMessage) (Value, error) {
	var body struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("firestore: mapValue: %w", err)
	}
	fields, err := unmarshalFields(body.Fields)
	if err != nil {
		return nil, err
	}
	return MapValue(fields), nil
}

func unmarshalFields(raw map[string]json.RawMessage) (map[string]Value, error) {
	out := make(map[string]Value, len(raw))
	for k, item := range raw {
		v, err := UnmarshalValue(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
