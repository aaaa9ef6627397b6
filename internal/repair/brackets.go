package repair

import (
	"fmt"
	"strings"

	"github.com/arcmill/arcmill/internal/models"
)

// closerFor maps opening brackets to their closers.
var closerFor = map[byte]byte{
	'(': ')',
	'{': '}',
	'[': ']',
	'<': '>',
}

// openerFor maps closing brackets to their openers.
var openerFor = map[byte]byte{
	')': '(',
	'}': '{',
	']': '[',
	'>': '<',
}

// BracketBalancer appends closers for unbalanced brackets in a single
// left-to-right scan. Idempotent on balanced input.
type BracketBalancer struct{}

// NewBracketBalancer creates the strategy.
func NewBracketBalancer() *BracketBalancer {
	return &BracketBalancer{}
}

func (b *BracketBalancer) Name() string { return "bracket_balancer" }

type openBracket struct {
	ch   byte
	line int
}

// Repair scans brackets with a stack of open positions. A closer that
// does not match the stack top costs x0.9 confidence each; leftover
// openers get synthetic closers in most-recently-opened-first order at
// a single x0.8 cost.
func (b *BracketBalancer) Repair(content, languageHint string) models.RepairResult {
	confidence := 1.0
	line := 1

	var stack []openBracket
	var sections []models.RepairedSection

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if ch == '\n' {
			line++
			continue
		}

		if _, isOpen := closerFor[ch]; isOpen {
			stack = append(stack, openBracket{ch: ch, line: line})
			continue
		}

		if opener, isClose := openerFor[ch]; isClose {
			if len(stack) > 0 && stack[len(stack)-1].ch == opener {
				stack = stack[:len(stack)-1]
				continue
			}

			// Mismatched closer: note it and keep scanning.
			confidence *= 0.9
			sections = append(sections, models.RepairedSection{
				Line:     line,
				Original: string(ch),
				Repaired: string(ch),
				Reason:   fmt.Sprintf("mismatched closer %q", string(ch)),
			})
		}
	}

	repaired := content
	if len(stack) > 0 {
		var appended strings.Builder
		for i := len(stack) - 1; i >= 0; i-- {
			open := stack[i]
			closer := closerFor[open.ch]
			appended.WriteByte(closer)

			sections = append(sections, models.RepairedSection{
				Line:     line,
				Original: "",
				Repaired: string(closer),
				Reason:   fmt.Sprintf("unclosed %q opened on line %d", string(open.ch), open.line),
			})
		}

		repaired = content + appended.String()
		confidence *= 0.8
	}

	return models.RepairResult{
		RepairedContent: repaired,
		Sections:        sections,
		Confidence:      models.ClampConfidence(confidence),
		Complete:        true,
	}
}
