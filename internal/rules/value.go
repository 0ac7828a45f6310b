package rules

import (
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// ValueKind tags how an input value was interpreted at ingestion.
type ValueKind int

const (
	KindText ValueKind = iota
	KindNumber
	KindDate
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "text"
	}
}

// Value is an input value resolved once from its raw string.
// Raw is always kept for the equality fallback.
type Value struct {
	Kind   ValueKind
	Raw    string
	Number decimal.Decimal
	Date   time.Time
}

// dateLayouts are the accepted date forms, most specific last.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Blank reports whether the raw value is empty after trimming.
func (v Value) Blank() bool {
	return strings.TrimSpace(v.Raw) == ""
}

// ParseValue tags raw according to the declared data type.
// An empty data type is inferred: number, then date, then text.
// A value that does not parse as its declared type stays text.
func ParseValue(raw string, dt domain.DataType) Value {
	v := Value{Kind: KindText, Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return v
	}

	switch dt {
	case domain.DataTypeText:
		return v
	case domain.DataTypeNumber:
		if n, ok := parseNumber(s); ok {
			v.Kind, v.Number = KindNumber, n
		}
		return v
	case domain.DataTypeDate:
		if d, ok := parseDate(s); ok {
			v.Kind, v.Date = KindDate, d
		}
		return v
	}

	if n, ok := parseNumber(s); ok {
		v.Kind, v.Number = KindNumber, n
	} else if d, ok := parseDate(s); ok {
		v.Kind, v.Date = KindDate, d
	}
	return v
}

// Inputs is the tagged input set of one evaluation, keyed by parameter name.
type Inputs map[string]Value

// BindInputs tags every raw input using the snapshot's parameter types.
func BindInputs(snap *domain.Snapshot, raw map[string]string) Inputs {
	types := make(map[string]domain.DataType, len(snap.Parameters))
	for _, p := range snap.Parameters {
		types[p.Name] = p.DataType
	}

	in := make(Inputs, len(raw))
	for name, r := range raw {
		in[name] = ParseValue(r, types[name])
	}
	return in
}

func parseNumber(s string) (decimal.Decimal, bool) {
	n, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return n, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
