package repair

import (
	"math"

	"github.com/arcmill/arcmill/internal/models"
)

// CombinedStrategy chains sanitize, bracket balancing, and tag
// completion, each stage feeding the next. The order is kept fixed for
// behavioral compatibility.
type CombinedStrategy struct {
	sanitizer Strategy
	brackets  Strategy
	tags      Strategy
}

// NewCombinedStrategy wires the three stages.
func NewCombinedStrategy(sanitizer, brackets, tags Strategy) *CombinedStrategy {
	return &CombinedStrategy{
		sanitizer: sanitizer,
		brackets:  brackets,
		tags:      tags,
	}
}

func (c *CombinedStrategy) Name() string { return "combined" }

// Repair runs all stages. Confidence is the minimum across stages and
// Complete only holds when every stage completed.
func (c *CombinedStrategy) Repair(content, languageHint string) models.RepairResult {
	stages := []Strategy{c.sanitizer, c.brackets, c.tags}

	current := content
	confidence := 1.0
	complete := true

	var sections []models.RepairedSection

	for _, stage := range stages {
		result := stage.Repair(current, languageHint)

		current = result.RepairedContent
		confidence = math.Min(confidence, result.Confidence)
		complete = complete && result.Complete
		sections = append(sections, result.Sections...)
	}

	return models.RepairResult{
		RepairedContent: current,
		Sections:        sections,
		Confidence:      models.ClampConfidence(confidence),
		Complete:        complete,
	}
}
