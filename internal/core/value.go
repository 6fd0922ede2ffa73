package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags the representation held by a Value.
type Kind uint8

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return "text"
	}
}

// Value is a single cell. The zero Value is the empty text.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

func Text(s string) Value { return Value{kind: KindText, str: s} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func DateString(s string) Value { return Value{kind: KindDate, str: s} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) Equal(o Value) bool { return v == o }

// String is the plain string form used for filtering and export.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.str
	}
}

// Empty reports whether the value is falsy for display purposes.
func (v Value) Empty() bool {
	switch v.kind {
	case KindNumber:
		return v.num == 0 || math.IsNaN(v.num)
	case KindBool:
		return !v.b
	default:
		return v.str == ""
	}
}

var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// Float coerces the value to a number. Text is read up to the first
// character that cannot be part of a number; anything unparseable is 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return 0
		}
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return parseLeadingFloat(v.str)
	}
}

func parseLeadingFloat(s string) float64 {
	m := numericPrefix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Truthy reports whether a checkbox holding this value renders as checked.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	default:
		s := strings.TrimSpace(strings.ToLower(v.str))
		return s != "" && s != "false" && s != "0"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("0"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return json.Marshal(v.str)
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = Text("")
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*v = Bool(b[0] == 't')
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
	default:
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("cell value must be text, number or boolean: %w", err)
		}
		*v = Number(f)
	}
	return nil
}

// DefaultValue is the value back-filled into rows for a column of type t.
func DefaultValue(t ColumnType) Value {
	switch t {
	case TypeCheckbox:
		return Bool(false)
	case TypeNumber, TypeCurrency:
		return Number(0)
	case TypeDate:
		return DateString("")
	default:
		return Text("")
	}
}

// ToCanonical converts v to the representation of column type t.
func ToCanonical(v Value, t ColumnType) Value {
	switch t {
	case TypeNumber, TypeCurrency:
		return Number(v.Float())
	case TypeCheckbox:
		return Bool(v.Truthy())
	case TypeDate:
		return DateString(v.String())
	default:
		return Text(v.String())
	}
}

// ParseCell coerces raw user or model input for a column of type t. Numeric
// input may use the pt-BR form: "12,50" and "1.234,56" read as 12.5 and
// 1234.56. A point after the last comma keeps the point as the decimal
// separator, and anything left unparseable reads as its leading number.
func ParseCell(raw string, t ColumnType) Value {
	if t.Numeric() {
		raw = normalizeDecimalComma(raw)
	}
	return ToCanonical(Text(raw), t)
}

func normalizeDecimalComma(raw string) string {
	comma := strings.LastIndex(raw, ",")
	if comma < 0 || strings.LastIndex(raw, ".") > comma {
		return raw
	}
	return strings.ReplaceAll(raw[:comma], ".", "") + "." + raw[comma+1:]
}

const (
	EmptyPlaceholder = "---"
	CheckedMark      = "✓"
	UncheckedMark    = "✗"
)

// ToDisplay renders v for a column of type t. Numeric zero renders as "0".
func ToDisplay(v Value, t ColumnType) string {
	switch t {
	case TypeCurrency:
		return FormatCurrency(v.Float())
	case TypeCheckbox:
		if v.Truthy() {
			return CheckedMark
		}
		return UncheckedMark
	case TypeNumber:
		if v.IsNumber() || strings.TrimSpace(v.String()) != "" {
			return FormatNumber(v.Float())
		}
		return EmptyPlaceholder
	}
	if v.IsNumber() {
		return v.String()
	}
	if v.Empty() {
		return EmptyPlaceholder
	}
	return v.String()
}
