package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionKind is the parsed form of an attribute condition.
type ConditionKind int

const (
	CondBlank ConditionKind = iota
	CondAll
	CondCompare
	CondRange
	CondEquals
)

// Operator is a comparator of a CondCompare condition.
type Operator int

const (
	OpGTE Operator = iota
	OpLTE
	OpGT
	OpLT
	OpEQ
)

func (o Operator) String() string {
	return [...]string{">=", "<=", ">", "<", "="}[o]
}

// operatorPrefixes is ordered so two-character comparators win.
var operatorPrefixes = []struct {
	prefix string
	op     Operator
}{
	{">=", OpGTE},
	{"<=", OpLTE},
	{">", OpGT},
	{"<", OpLT},
	{"=", OpEQ},
}

// Condition is an attribute condition parsed once.
// Bounds are either numeric or dates; IsDate selects which.
type Condition struct {
	Kind    ConditionKind
	Op      Operator
	IsDate  bool
	Number  decimal.Decimal
	Date    time.Time
	Low     decimal.Decimal
	High    decimal.Decimal
	LowDate time.Time
	HiDate  time.Time
	Text    string
}

// ParseCondition classifies a condition string.
func ParseCondition(expr string) Condition {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Condition{Kind: CondBlank}
	}
	if strings.EqualFold(s, "All") {
		return Condition{Kind: CondAll}
	}

	for _, p := range operatorPrefixes {
		if !strings.HasPrefix(s, p.prefix) {
			continue
		}
		lit := strings.TrimSpace(s[len(p.prefix):])
		if n, ok := parseNumber(lit); ok {
			return Condition{Kind: CondCompare, Op: p.op, Number: n}
		}
		if d, ok := parseDate(lit); ok {
			return Condition{Kind: CondCompare, Op: p.op, IsDate: true, Date: d}
		}
		if p.op == OpEQ && lit != "" {
			return Condition{Kind: CondEquals, Text: lit}
		}
		return Condition{Kind: CondEquals, Text: s}
	}

	if c, ok := parseRange(s); ok {
		return c
	}
	return Condition{Kind: CondEquals, Text: s}
}

// parseRange finds the delimiter of "<low>-<high>". A '-' at the start or
// right after another '-' is a sign, not a delimiter. The first candidate
// whose halves both parse wins.
func parseRange(s string) (Condition, bool) {
	for i := 1; i < len(s)-1; i++ {
		if s[i] != '-' || s[i-1] == '-' {
			continue
		}
		lo, hi := strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])

		ln, lok := parseNumber(lo)
		hn, hok := parseNumber(hi)
		if lok && hok {
			return Condition{Kind: CondRange, Low: ln, High: hn}, true
		}

		ld, lok := parseDate(lo)
		hd, hok := parseDate(hi)
		if lok && hok {
			return Condition{Kind: CondRange, IsDate: true, LowDate: ld, HiDate: hd}, true
		}
	}
	return Condition{}, false
}

// Match evaluates the condition against a tagged value.
func (c Condition) Match(v Value) bool {
	if v.Blank() {
		return false
	}

	switch c.Kind {
	case CondBlank:
		return false
	case CondAll:
		return true
	case CondCompare:
		if c.IsDate {
			d, ok := asDate(v)
			return ok && compare(d.Compare(c.Date), c.Op)
		}
		n, ok := asNumber(v)
		return ok && compare(n.Cmp(c.Number), c.Op)
	case CondRange:
		if c.IsDate {
			d, ok := asDate(v)
			return ok && !d.Before(c.LowDate) && !d.After(c.HiDate)
		}
		n, ok := asNumber(v)
		return ok && n.GreaterThanOrEqual(c.Low) && n.LessThanOrEqual(c.High)
	case CondEquals:
		return strings.EqualFold(c.Text, strings.TrimSpace(v.Raw))
	}
	return false
}

// Match reports whether the raw condition holds for the value.
func Match(condition string, v Value) bool {
	return ParseCondition(condition).Match(v)
}

// MatchRaw is Match for an untyped raw input.
func MatchRaw(condition, raw string) bool {
	return Match(condition, ParseValue(raw, ""))
}

func compare(cmp int, op Operator) bool {
	switch op {
	case OpGTE:
		return cmp >= 0
	case OpLTE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpLT:
		return cmp < 0
	case OpEQ:
		return cmp == 0
	}
	return false
}

func asNumber(v Value) (decimal.Decimal, bool) {
	if v.Kind == KindNumber {
		return v.Number, true
	}
	return parseNumber(v.Raw)
}

func asDate(v Value) (time.Time, bool) {
	if v.Kind == KindDate {
		return v.Date, true
	}
	return parseDate(v.Raw)
}
