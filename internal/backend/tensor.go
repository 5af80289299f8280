package backend

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tensor datatypes, named as in the KServe v2 protocol.
const (
	TypeBool   = "BOOL"
	TypeInt8   = "INT8"
	TypeInt16  = "INT16"
	TypeInt32  = "INT32"
	TypeInt64  = "INT64"
	TypeUint8  = "UINT8"
	TypeUint16 = "UINT16"
	TypeUint32 = "UINT32"
	TypeUint64 = "UINT64"
	TypeFP32   = "FP32"
	TypeFP64   = "FP64"
	TypeBytes  = "BYTES"
)

var datatypes = map[string]struct{}{
	TypeBool: {}, TypeInt8: {}, TypeInt16: {}, TypeInt32: {}, TypeInt64: {},
	TypeUint8: {}, TypeUint16: {}, TypeUint32: {}, TypeUint64: {},
	TypeFP32: {}, TypeFP64: {}, TypeBytes: {},
}

// NormalizeDatatype accepts protocol names ("INT64") and model-config names
// ("TYPE_INT64", "TYPE_STRING").
func NormalizeDatatype(name string) (string, error) {
	dt := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "TYPE_")
	if dt == "STRING" {
		dt = TypeBytes
	}
	if _, ok := datatypes[dt]; !ok {
		return "", fmt.Errorf("unknown datatype %q", name)
	}
	return dt, nil
}

// Tensor is a named, shaped, row-major list of scalar values.
type Tensor struct {
	Name     string  `json:"name"`
	Datatype string  `json:"datatype"`
	Shape    []int64 `json:"shape"`
	Data     []any   `json:"data"`
}

// TensorMetadata describes a model input or output. -1 marks a variable dimension.
type TensorMetadata struct {
	Name     string  `json:"name"`
	Datatype string  `json:"datatype"`
	Shape    []int64 `json:"shape"`
}

// Len is the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

func (t *Tensor) checkShape() error {
	if len(t.Shape) == 0 {
		return nil
	}
	n := int64(1)
	for _, d := range t.Shape {
		if d < 0 {
			return newInputError(fmt.Sprintf("%s: negative dimension in shape %v", t.Name, t.Shape))
		}
		if d > 0 && n > math.MaxInt64/d {
			return newInputError(fmt.Sprintf("%s: shape %v is too large", t.Name, t.Shape))
		}
		n *= d
	}
	if n != int64(len(t.Data)) {
		return newInputError(fmt.Sprintf("%s: shape %v holds %d elements, got %d", t.Name, t.Shape, n, len(t.Data)))
	}
	return nil
}

func (t *Tensor) Strings() ([]string, error) {
	if err := t.checkShape(); err != nil {
		return nil, err
	}
	out := make([]string, len(t.Data))
	for i, v := range t.Data {
		switch s := v.(type) {
		case string:
			out[i] = s
		case []byte:
			out[i] = string(s)
		default:
			return nil, newInputError(fmt.Sprintf("%s[%d]: expected string, got %T", t.Name, i, v))
		}
	}
	return out, nil
}

func (t *Tensor) Int64s() ([]int64, error) {
	if err := t.checkShape(); err != nil {
		return nil, err
	}
	out := make([]int64, len(t.Data))
	for i, v := range t.Data {
		n, ok := toInt64(v)
		if !ok {
			return nil, newInputError(fmt.Sprintf("%s[%d]: expected integer, got %v", t.Name, i, v))
		}
		out[i] = n
	}
	return out, nil
}

// Bools accepts booleans and integers (non-zero is true), since sequence
// control tensors are commonly sent as INT32 or UINT8.
func (t *Tensor) Bools() ([]bool, error) {
	if err := t.checkShape(); err != nil {
		return nil, err
	}
	out := make([]bool, len(t.Data))
	for i, v := range t.Data {
		b, ok := toBool(v)
		if !ok {
			return nil, newInputError(fmt.Sprintf("%s[%d]: expected bool, got %v", t.Name, i, v))
		}
		out[i] = b
	}
	return out, nil
}

// Keys renders each element as a correlation key. Integers and strings are
// both valid correlation ids.
func (t *Tensor) Keys() ([]string, error) {
	if err := t.checkShape(); err != nil {
		return nil, err
	}
	out := make([]string, len(t.Data))
	for i, v := range t.Data {
		k, ok := toKey(v)
		if !ok {
			return nil, newInputError(fmt.Sprintf("%s[%d]: expected integer or string id, got %v", t.Name, i, v))
		}
		out[i] = k
	}
	return out, nil
}

type jsonNumber interface {
	Int64() (int64, error)
	String() string
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case jsonNumber:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	n, ok := toInt64(v)
	return n != 0, ok
}

func toKey(v any) (string, bool) {
	switch k := v.(type) {
	case string:
		return k, true
	case uint64:
		return strconv.FormatUint(k, 10), true
	case jsonNumber:
		if _, err := strconv.ParseUint(k.String(), 10, 64); err == nil {
			return k.String(), true
		}
		return "", false
	}
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

// encodeInt converts a signed result into the configured output datatype.
func encodeInt(v int64, datatype string) (any, error) {
	switch datatype {
	case TypeInt64:
		return v, nil
	case TypeInt32:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows %s", v, datatype)
		}
		return int32(v), nil
	case TypeInt16:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("value %d overflows %s", v, datatype)
		}
		return int16(v), nil
	case TypeInt8:
		if v < math.MinInt8 || v > math.MaxInt8 {
			return nil, fmt.Errorf("value %d overflows %s", v, datatype)
		}
		return int8(v), nil
	case TypeFP64:
		return float64(v), nil
	case TypeFP32:
		return float32(v), nil
	case TypeBytes:
		return strconv.FormatInt(v, 10), nil
	default:
		return nil, fmt.Errorf("cannot encode integer as %s", datatype)
	}
}
