package realm

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// NewObjectID returns a fresh identifier: a 4 byte timestamp followed by 8
// random bytes.
func NewObjectID() ObjectID {
	var id ObjectID
	ts := uint32(time.Now().Unix())
	id[0], id[1], id[2], id[3] = byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts)
	r := uuid.New()
	copy(id[4:], r[:8])
	return id
}

// Hex renders the identifier as 24 lowercase hex digits.
func (id ObjectID) Hex() string { return hex.EncodeToString(id[:]) }

// ParseObjectID parses 24 hex digits.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("invalid ObjectId string '%s'", s)
	}
	copy(id[:], b)
	return id, nil
}

// ParseDecimal128 validates and canonicalises a decimal string.
func ParseDecimal128(s string) (Decimal128, error) {
	f, ok := new(big.Float).SetPrec(113).SetString(strings.TrimSpace(s))
	if !ok {
		return "", fmt.Errorf("invalid Decimal128 string '%s'", s)
	}
	return Decimal128(f.Text('g', 34)), nil
}

// toStore converts a JS value into the stored representation of a value of
// type t. Objects and lists are handled by the callers that own them.
func (e *Env) toStore(owner string, p *Property, t PropertyType, v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		if p.Optional || t == TypeObject {
			return nil, nil
		}
		return nil, fmt.Errorf("%s.%s must be of type '%s', got '%s'", owner, p.Name, t, describe(v))
	}
	mismatch := func() error {
		return fmt.Errorf("%s.%s must be of type '%s', got '%s' (%s)", owner, p.Name, t, describe(v), v.String())
	}
	exported := v.Export()
	switch t {
	case TypeBool:
		if b, ok := exported.(bool); ok {
			return b, nil
		}
		return nil, mismatch()
	case TypeInt:
		switch n := exported.(type) {
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) && !math.IsInf(n, 0) {
				return int64(n), nil
			}
		}
		return nil, mismatch()
	case TypeFloat, TypeDouble:
		switch n := exported.(type) {
		case int64:
			return float64(n), nil
		case float64:
			if t == TypeFloat {
				return float64(float32(n)), nil
			}
			return n, nil
		}
		return nil, mismatch()
	case TypeString:
		if s, ok := exported.(string); ok {
			return s, nil
		}
		return nil, mismatch()
	case TypeData:
		switch b := exported.(type) {
		case goja.ArrayBuffer:
			return append([]byte(nil), b.Bytes()...), nil
		case []byte:
			return append([]byte(nil), b...), nil
		}
		return nil, mismatch()
	case TypeDate:
		switch d := exported.(type) {
		case time.Time:
			return d, nil
		case int64:
			return time.UnixMilli(d).UTC(), nil
		case float64:
			return time.UnixMicro(int64(d * 1000)).UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, d)
			if err != nil {
				return nil, mismatch()
			}
			return ts, nil
		}
		return nil, mismatch()
	case TypeDecimal:
		switch d := exported.(type) {
		case string:
			return ParseDecimal128(d)
		case int64:
			return ParseDecimal128(fmt.Sprint(d))
		case float64:
			return ParseDecimal128(fmt.Sprint(d))
		}
		if obj, ok := v.(*goja.Object); ok {
			if s := stringOf(obj.Get("$numberDecimal")); s != "" {
				return ParseDecimal128(s)
			}
		}
		return nil, mismatch()
	case TypeObjectID:
		if s, ok := exported.(string); ok {
			return ParseObjectID(s)
		}
		if obj, ok := v.(*goja.Object); ok {
			if s := stringOf(obj.Get("$oid")); s != "" {
				return ParseObjectID(s)
			}
		}
		return nil, mismatch()
	}
	return nil, fmt.Errorf("%s.%s has unsupported type '%s'", owner, p.Name, t)
}

// toJS converts a stored value into a JS value.
func (e *Env) toJS(v any) goja.Value {
	vm := e.vm
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case []byte:
		return vm.ToValue(vm.NewArrayBuffer(append([]byte(nil), x...)))
	case time.Time:
		d, err := vm.New(vm.Get("Date"), vm.ToValue(float64(x.UnixNano())/1e6))
		if err != nil {
			panic(err)
		}
		return d
	case Decimal128:
		o := vm.NewObject()
		_ = o.Set("$numberDecimal", string(x))
		return o
	case ObjectID:
		o := vm.NewObject()
		_ = o.Set("$oid", x.Hex())
		return o
	case *record:
		if !x.valid {
			return goja.Null()
		}
		return e.objectFor(x)
	}
	return vm.ToValue(v)
}

func describe(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if obj.ClassName() == "Array" {
			return "array"
		}
		if _, ok := goja.AssertFunction(obj); ok {
			return "function"
		}
		return "object"
	}
	switch v.Export().(type) {
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case string:
		return "string"
	}
	return v.ExportType().String()
}

// compareValues orders two stored values of the same property.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int64:
		return compareFloat(float64(x), numberOf(b))
	case float64:
		return compareFloat(x, numberOf(b))
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case Decimal128:
		return compareFloat(numberOf(x), numberOf(b))
	case ObjectID:
		y, _ := b.(ObjectID)
		return strings.Compare(x.Hex(), y.Hex())
	}
	return 0
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func numberOf(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case Decimal128:
		f, _, err := big.ParseFloat(string(n), 10, 113, big.ToNearestEven)
		if err != nil {
			return math.NaN()
		}
		out, _ := f.Float64()
		return out
	case time.Time:
		return float64(n.UnixNano()) / 1e6
	}
	return math.NaN()
}
