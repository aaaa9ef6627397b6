package repair_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcmill/arcmill/internal/repair"
)

func TestLineSanitizerCleanInput(t *testing.T) {
	s := repair.NewLineSanitizer()

	input := "package main\n\nfunc main() {}\n"
	result := s.Repair(input, "go")

	assert.Equal(t, input, result.RepairedContent)
	assert.Equal(t, 1.0, result.Confidence)
	assert.True(t, result.Complete)
	assert.Empty(t, result.Sections)
}

func TestLineSanitizerStripsNulBytes(t *testing.T) {
	s := repair.NewLineSanitizer()

	result := s.Repair("clean line\nbad\x00line\nanother clean", "")

	assert.Equal(t, "clean line\nbadline\nanother clean", result.RepairedContent)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-9)
	require.Len(t, result.Sections, 1)
	assert.Equal(t, 2, result.Sections[0].Line)
	assert.Equal(t, "NUL bytes removed", result.Sections[0].Reason)
}

func TestLineSanitizerStripsReplacementChars(t *testing.T) {
	s := repair.NewLineSanitizer()

	result := s.Repair("ok\nbroken�text", "")

	assert.Equal(t, "ok\nbrokentext", result.RepairedContent)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	require.Len(t, result.Sections, 1)
	assert.Equal(t, "replacement characters removed", result.Sections[0].Reason)
}

func TestLineSanitizerDensityThreshold(t *testing.T) {
	s := repair.NewLineSanitizer()

	// Three control bytes out of eight total stays at 37.5% density.
	result := s.Repair("ab\x01\x02\x03cde", "")
	require.Len(t, result.Sections, 1)
	assert.Contains(t, result.Sections[0].Reason, "non-printable")
	assert.Equal(t, "abcde", result.RepairedContent)

	// A single control byte in a long line stays under the threshold;
	// the line is left alone.
	result = s.Repair("a long mostly fine line\x01 of text here", "")
	assert.Empty(t, result.Sections)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestLineSanitizerSentinelForEmptiedLines(t *testing.T) {
	s := repair.NewLineSanitizer()

	result := s.Repair("good\n\x01\x02\x03\ngood too", "")

	assert.Equal(t, "good\n"+repair.SentinelRemovedLine+"\ngood too", result.RepairedContent)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-9)
}

func TestLineSanitizerBlankLinesAreValid(t *testing.T) {
	s := repair.NewLineSanitizer()

	result := s.Repair("a\n\n\nb", "")

	assert.Equal(t, 1.0, result.Confidence)
	assert.Empty(t, result.Sections)
}

func TestLineSanitizerKeepsTabsAndCarriageReturns(t *testing.T) {
	s := repair.NewLineSanitizer()

	input := "col1\tcol2\r\nvalue1\tvalue2"
	result := s.Repair(input, "")

	assert.Equal(t, input, result.RepairedContent)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestLineSanitizerAllLinesCorrupted(t *testing.T) {
	s := repair.NewLineSanitizer()

	result := s.Repair("\x00\x01\n\x02\x03", "")

	assert.Zero(t, result.Confidence)
	assert.False(t, result.Complete)
}

func TestLineSanitizerEmptyContent(t *testing.T) {
	s := repair.NewLineSanitizer()

	result := s.Repair("", "")

	assert.Empty(t, result.RepairedContent)
	assert.Equal(t, 1.0, result.Confidence)
	assert.True(t, result.Complete)
}
