package rules

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestMatchRaw(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		input     string
		want      bool
	}{
		{"range lower bound", "18-25", "18", true},
		{"range upper bound", "18-25", "25", true},
		{"range below", "18-25", "17.99", false},
		{"range above", "18-25", "25.01", false},
		{"range inside", "18-25", "20", true},
		{"range non numeric input", "18-25", "twenty", false},
		{"negative range inside", "-100--50", "-75", true},
		{"negative range outside", "-100--50", "-49", false},
		{"negative to positive", "-10-10", "0", true},
		{"gt", ">25", "30", true},
		{"gt boundary", ">25", "25", false},
		{"gte boundary", ">=25", "25", true},
		{"lt", "<25", "24", true},
		{"lte boundary", "<=25", "25", true},
		{"eq exact", "=25", "25.0", true},
		{"eq miss", "=25", "26", false},
		{"comparator non numeric input", ">25", "abc", false},
		{"comparator spaced", ">= 1000", "1000", true},
		{"all", "All", "anything", true},
		{"all case insensitive", "aLL", "x", true},
		{"fallback case insensitive", "MALE", "male", true},
		{"fallback mismatch", "MALE", "female", false},
		{"eq text", "=Gold", "gold", true},
		{"blank input", "All", "", false},
		{"whitespace input", ">1", "   ", false},
		{"blank condition", "", "30", false},
		{"date comparator", ">=2020-01-01", "2021-06-30", true},
		{"date comparator before", ">=2020-01-01", "2019-12-31", false},
		{"date range", "2020-01-01-2020-12-31", "2020-12-31", true},
		{"date range outside", "2020-01-01-2020-12-31", "2021-01-01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchRaw(tt.condition, tt.input))
		})
	}
}

func TestParseCondition(t *testing.T) {
	t.Run("negative bounds", func(t *testing.T) {
		c := ParseCondition("-100--50")
		assert.Equal(t, CondRange, c.Kind)
		assert.Equal(t, "-100", c.Low.String())
		assert.Equal(t, "-50", c.High.String())
	})

	t.Run("comparator", func(t *testing.T) {
		c := ParseCondition(">=18")
		assert.Equal(t, CondCompare, c.Kind)
		assert.Equal(t, OpGTE, c.Op)
		assert.Equal(t, ">=", c.Op.String())
	})

	t.Run("single negative number is equality", func(t *testing.T) {
		assert.Equal(t, CondEquals, ParseCondition("-5").Kind)
		assert.True(t, MatchRaw("-5", "-5"))
	})

	t.Run("hyphenated text is equality", func(t *testing.T) {
		c := ParseCondition("Self-Employed")
		assert.Equal(t, CondEquals, c.Kind)
		assert.True(t, MatchRaw("Self-Employed", "self-employed"))
	})
}

func TestTypedValues(t *testing.T) {
	t.Run("declared number", func(t *testing.T) {
		v := ParseValue(" 42 ", domain.DataTypeNumber)
		assert.Equal(t, KindNumber, v.Kind)
		assert.True(t, Match(">40", v))
	})

	t.Run("declared text keeps digits as text", func(t *testing.T) {
		v := ParseValue("0042", domain.DataTypeText)
		assert.Equal(t, KindText, v.Kind)
		assert.True(t, Match("0042", v))
		assert.True(t, Match(">40", v))
	})

	t.Run("declared date", func(t *testing.T) {
		v := ParseValue("2024-02-29", domain.DataTypeDate)
		assert.Equal(t, KindDate, v.Kind)
		assert.True(t, Match("<2025-01-01", v))
	})

	t.Run("inferred", func(t *testing.T) {
		assert.Equal(t, KindNumber, ParseValue("3.5", "").Kind)
		assert.Equal(t, KindDate, ParseValue("2024-01-01", "").Kind)
		assert.Equal(t, KindText, ParseValue("abc", "").Kind)
	})

	t.Run("bind uses parameter types", func(t *testing.T) {
		snap := &domain.Snapshot{Parameters: []domain.Parameter{
			{ID: 1, Name: "Age", DataType: domain.DataTypeNumber},
			{ID: 2, Name: "Code", DataType: domain.DataTypeText},
		}}
		in := BindInputs(snap, map[string]string{"Age": "30", "Code": "12", "Other": "x"})
		assert.Equal(t, KindNumber, in["Age"].Kind)
		assert.Equal(t, KindText, in["Code"].Kind)
		assert.Equal(t, KindText, in["Other"].Kind)
	})
}
