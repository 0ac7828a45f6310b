package rules

import (
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	require.NoError(t, err)
	return e
}

func TestEvaluate(t *testing.T) {
	e := newTestEvaluator(t)

	tests := []struct {
		name  string
		expr  string
		atoms map[int64]bool
		want  bool
	}{
		{"single atom", "1", map[int64]bool{1: true}, true},
		{"unknown atom is false", "7", map[int64]bool{1: true}, false},
		{"and", "1 AND 2", map[int64]bool{1: true, 2: false}, false},
		{"or", "1 OR 2", map[int64]bool{1: false, 2: true}, true},
		{"not", "NOT 1", map[int64]bool{1: false}, true},
		{"double not", "not not 1", map[int64]bool{1: true}, true},
		{"mixed case", "1 aNd 2 Or 3", map[int64]bool{3: true}, true},
		{"irregular whitespace", "  1\tAND\n(2   OR 3) ", map[int64]bool{1: true, 3: true}, true},
		{"nested parens", "((1 OR 2) AND (3 OR 4))", map[int64]bool{2: true, 4: true}, true},
		{"not binds tighter than and", "NOT 1 AND 2", map[int64]bool{1: false, 2: true}, true},
		{"large ids", "200 AND 201", map[int64]bool{200: true, 201: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, tt.atoms)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	e := newTestEvaluator(t)

	for _, c := range []bool{true, false} {
		atoms := map[int64]bool{1: false, 2: true, 3: c}
		flat, err := e.Evaluate("1 OR 2 AND 3", atoms)
		require.NoError(t, err)
		grouped, err := e.Evaluate("1 OR (2 AND 3)", atoms)
		require.NoError(t, err)
		lower, err := e.Evaluate("1 or 2   and 3", atoms)
		require.NoError(t, err)

		assert.Equal(t, c, flat)
		assert.Equal(t, grouped, flat)
		assert.Equal(t, flat, lower)
	}
}

func TestEvaluateParseErrors(t *testing.T) {
	e := newTestEvaluator(t)

	tests := []struct {
		name string
		expr string
		want error
	}{
		{"empty", "", ErrEmptyExpression},
		{"blank", "   ", ErrEmptyExpression},
		{"missing close", "(1 AND 2", ErrUnbalancedParens},
		{"extra close", "1 AND 2)", ErrUnbalancedParens},
		{"unknown word", "1 XOR 2", ErrUnexpectedToken},
		{"symbol", "1 & 2", ErrUnexpectedToken},
		{"dangling operator", "1 AND", ErrMalformed},
		{"double operator", "1 AND OR 2", ErrMalformed},
		{"adjacent atoms", "1 2", ErrMalformed},
		{"empty group", "()", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(tt.expr, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestEvaluateLongChains(t *testing.T) {
	e := newTestEvaluator(t)

	ids := make([]string, 300)
	atoms := make(map[int64]bool, len(ids))
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
		atoms[int64(i+1)] = true
	}

	all := strings.Join(ids, " AND ")
	got, err := e.Evaluate(all, atoms)
	require.NoError(t, err)
	assert.True(t, got)

	atoms[150] = false
	got, err = e.Evaluate(all, atoms)
	require.NoError(t, err)
	assert.False(t, got)

	none := make(map[int64]bool)
	anyOf := strings.Join(ids, " OR ")
	got, err = e.Evaluate(anyOf, none)
	require.NoError(t, err)
	assert.False(t, got)

	none[300] = true
	got, err = e.Evaluate(anyOf+" AND NOT 0", none)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompileCachesAndReportsAtoms(t *testing.T) {
	e := newTestEvaluator(t)

	x, err := e.Compile("3 OR (1 AND NOT 3) OR 2")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, x.Atoms)

	again, err := e.Compile("3 OR (1 AND NOT 3) OR 2")
	require.NoError(t, err)
	assert.Same(t, x, again)

	_, err = e.Compile("(")
	require.Error(t, err)
	assert.Equal(t, 2, e.Cached())
}

func TestEvaluatorConcurrentUse(t *testing.T) {
	e := newTestEvaluator(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := e.Evaluate("1 AND (2 OR 3)", map[int64]bool{1: true, 3: i%2 == 0})
			assert.NoError(t, err)
			assert.Equal(t, i%2 == 0, got)
		}(i)
	}
	wg.Wait()
}
