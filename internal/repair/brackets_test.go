package repair_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/repair"
)

func TestBracketBalancerBalancedInput(t *testing.T) {
	b := repair.NewBracketBalancer()

	inputs := []string{
		"",
		"no brackets at all",
		"func main() { fmt.Println(items[0]) }",
		"(([[{{}}]]))",
	}

	for _, input := range inputs {
		result := b.Repair(input, "go")
		assert.Equal(t, input, result.RepairedContent)
		assert.Equal(t, 1.0, result.Confidence)
		assert.True(t, result.Complete)
		assert.Empty(t, result.Sections)
	}
}

func TestBracketBalancerIdempotent(t *testing.T) {
	b := repair.NewBracketBalancer()

	first := b.Repair("function f() { if (x) {", "javascript")
	second := b.Repair(first.RepairedContent, "javascript")

	assert.Equal(t, first.RepairedContent, second.RepairedContent)
	assert.Equal(t, 1.0, second.Confidence)
	assert.True(t, second.Complete)
}

func TestBracketBalancerAppendsClosers(t *testing.T) {
	b := repair.NewBracketBalancer()

	result := b.Repair("function f() { if (x) {", "javascript")

	assert.Equal(t, "function f() { if (x) {}}", result.RepairedContent)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	assert.True(t, result.Complete)
	require.Len(t, result.Sections, 2)
	assert.Equal(t, "}", result.Sections[0].Repaired)
	assert.Equal(t, "}", result.Sections[1].Repaired)
}

func TestBracketBalancerInnermostClosesFirst(t *testing.T) {
	b := repair.NewBracketBalancer()

	result := b.Repair("a(b[c{", "")

	assert.Equal(t, "a(b[c{}])", result.RepairedContent)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
}

func TestBracketBalancerSingleAppendPenalty(t *testing.T) {
	b := repair.NewBracketBalancer()

	// One unclosed bracket and five unclosed brackets cost the same.
	one := b.Repair("(", "")
	five := b.Repair("({[{(", "")

	assert.InDelta(t, 0.8, one.Confidence, 1e-9)
	assert.InDelta(t, 0.8, five.Confidence, 1e-9)
}

func TestBracketBalancerMismatchPenaltyCumulative(t *testing.T) {
	b := repair.NewBracketBalancer()

	one := b.Repair("x)", "")
	assert.InDelta(t, 0.9, one.Confidence, 1e-9)
	assert.Equal(t, "x)", one.RepairedContent)

	two := b.Repair("x)]", "")
	assert.InDelta(t, 0.81, two.Confidence, 1e-9)
	require.Len(t, two.Sections, 2)
	assert.Contains(t, two.Sections[0].Reason, "mismatched")
}

func TestBracketBalancerMismatchThenAppend(t *testing.T) {
	b := repair.NewBracketBalancer()

	// One mismatched closer plus one synthetic closer.
	result := b.Repair("{ )", "")

	assert.Equal(t, "{ )}", result.RepairedContent)
	assert.InDelta(t, 0.72, result.Confidence, 1e-9)
}

func TestBracketBalancerScanContinuesAfterMismatch(t *testing.T) {
	b := repair.NewBracketBalancer()

	result := b.Repair(") (a) [b]", "")

	assert.Equal(t, ") (a) [b]", result.RepairedContent)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
}

func TestBracketBalancerTracksLines(t *testing.T) {
	b := repair.NewBracketBalancer()

	result := b.Repair("line one\nline two {\nline three", "")

	require.Len(t, result.Sections, 1)
	assert.Equal(t, 3, result.Sections[0].Line)
	assert.Contains(t, result.Sections[0].Reason, "line 2")
}

func TestBracketBalancerAngleBrackets(t *testing.T) {
	b := repair.NewBracketBalancer()

	// The scan has no lexer; a lone comparison operator reads as an
	// unclosed bracket.
	result := b.Repair("if x < 3 {}", "go")

	assert.True(t, strings.HasSuffix(result.RepairedContent, ">"))
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
}
