package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNilMember is returned when reading a property of nil.
var ErrNilMember = errors.New("cannot read property of null")

// Truthy reports whether v counts as true in a condition: everything except
// nil, false, numeric zero, NaN and the empty string.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface:
		return !rv.IsNil()
	}
	if n, ok := toNumber(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// Member reads property name of v. Maps are indexed by key, structs expose
// exported fields and methods under their own name or with the first letter
// lower-cased, and "length" gives the length of strings and collections.
func Member(v any, name string) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("%w %q", ErrNilMember, name)
	}
	if r, ok := v.(Resolver); ok {
		val, _ := r.Lookup(name)
		return val, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m[name], nil
	}

	rv := reflect.ValueOf(v)
	if name == "length" {
		switch rv.Kind() {
		case reflect.String:
			return utf8.RuneCountInString(rv.String()), nil
		case reflect.Slice, reflect.Array, reflect.Map:
			return rv.Len(), nil
		}
	}
	if val, ok := structMember(rv, name); ok {
		return val, nil
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		mv := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, nil
		}
		return mv.Interface(), nil
	}
	return nil, nil
}

func structMember(rv reflect.Value, name string) (any, bool) {
	exported := capitalize(name)
	for _, n := range []string{name, exported} {
		if m := rv.MethodByName(n); m.IsValid() {
			return m.Interface(), true
		}
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	for _, n := range []string{name, exported} {
		f, ok := rv.Type().FieldByName(n)
		if !ok || !f.IsExported() {
			continue
		}
		return rv.FieldByIndex(f.Index).Interface(), true
	}
	return nil, false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Index reads v[i] for slices, arrays, strings and maps.
func Index(v, i any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("%w %v", ErrNilMember, i)
	}
	if s, ok := i.(string); ok {
		return Member(v, s)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		n, ok := toNumber(i)
		if !ok || n != math.Trunc(n) {
			return nil, fmt.Errorf("invalid index %v", i)
		}
		idx := int(n)
		if rv.Kind() == reflect.String {
			return runeAt(rv.String(), idx), nil
		}
		if idx < 0 || idx >= rv.Len() {
			return nil, nil
		}
		return rv.Index(idx).Interface(), nil
	case reflect.Map:
		key := reflect.ValueOf(i)
		if !key.Type().ConvertibleTo(rv.Type().Key()) {
			return nil, nil
		}
		mv := rv.MapIndex(key.Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, nil
		}
		return mv.Interface(), nil
	}
	return nil, fmt.Errorf("cannot index %T", v)
}

// runeAt returns the idx-th character of s, counted in runes like length,
// or nil when out of range.
func runeAt(s string, idx int) any {
	if idx < 0 {
		return nil
	}
	for _, r := range s {
		if idx == 0 {
			return string(r)
		}
		idx--
	}
	return nil
}

// toNumber converts numeric kinds to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func isInteger(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(v)
}

func negate(v any) (any, error) {
	if isInteger(v) {
		n, _ := toNumber(v)
		return -int(n), nil
	}
	n, ok := toNumber(v)
	if !ok {
		return nil, fmt.Errorf("cannot negate %T", v)
	}
	return -n, nil
}

func apply(o string, l, r any) (any, error) {
	switch o {
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "===":
		return strictEqual(l, r), nil
	case "!==":
		return !strictEqual(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(o, l, r)
	case "+":
		_, ls := l.(string)
		_, rs := r.(string)
		if ls || rs {
			return toString(l) + toString(r), nil
		}
	}
	return arithmetic(o, l, r)
}

func arithmetic(o string, l, r any) (any, error) {
	a, ok1 := toNumber(l)
	b, ok2 := toNumber(r)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("invalid operands for %s: %T and %T", o, l, r)
	}
	ints := isInteger(l) && isInteger(r)
	switch o {
	case "+":
		return numberResult(a+b, ints), nil
	case "-":
		return numberResult(a-b, ints), nil
	case "*":
		return numberResult(a*b, ints), nil
	case "/":
		if b == 0 {
			return nil, errors.New("division by zero")
		}
		q := a / b
		return numberResult(q, ints && q == math.Trunc(q)), nil
	case "%":
		if b == 0 {
			return nil, errors.New("division by zero")
		}
		return numberResult(math.Mod(a, b), ints), nil
	}
	return nil, fmt.Errorf("unknown operator %s", o)
}

func numberResult(f float64, asInt bool) any {
	if asInt {
		return int(f)
	}
	return f
}

func compare(o string, l, r any) (any, error) {
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			c := strings.Compare(ls, rs)
			return cmpResult(o, c), nil
		}
	}
	a, ok1 := toNumber(l)
	b, ok2 := toNumber(r)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("cannot compare %T and %T", l, r)
	}
	c := 0
	if a < b {
		c = -1
	} else if a > b {
		c = 1
	}
	return cmpResult(o, c), nil
}

func cmpResult(o string, c int) bool {
	switch o {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}

func looseEqual(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	a, ok1 := toNumber(l)
	b, ok2 := toNumber(r)
	if ok1 && ok2 {
		return a == b
	}
	if ok1 || ok2 {
		if s, ok := r.(string); ok1 && ok {
			f, err := strconv.ParseFloat(s, 64)
			return err == nil && f == a
		}
		if s, ok := l.(string); ok2 && ok {
			f, err := strconv.ParseFloat(s, 64)
			return err == nil && f == b
		}
	}
	return reflect.DeepEqual(l, r)
}

func strictEqual(l, r any) bool {
	if isInteger(l) && isInteger(r) || isFloatOrInt(l) && isFloatOrInt(r) {
		a, _ := toNumber(l)
		b, _ := toNumber(r)
		return a == b
	}
	if reflect.TypeOf(l) != reflect.TypeOf(r) {
		return false
	}
	return reflect.DeepEqual(l, r)
}

func isFloatOrInt(v any) bool {
	if isInteger(v) {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
