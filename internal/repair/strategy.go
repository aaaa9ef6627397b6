// Package repair recovers readable content from corrupted text and
// code. Strategies are best-effort: they always return a result and
// never panic past the engine boundary.
package repair

import (
	"fmt"
	"strings"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/models"
)

// Strategy repairs one class of corruption. Unrecoverable input comes
// back unchanged with zero confidence and Complete false.
type Strategy interface {
	Name() string
	Repair(content, languageHint string) models.RepairResult
}

// markupLanguages are hints the tag completer acts on.
var markupLanguages = map[string]bool{
	"html": true, "xml": true, "xhtml": true, "svg": true, "markup": true,
}

// IsMarkupLanguage reports whether a hint names a markup-family language.
func IsMarkupLanguage(hint string) bool {
	return markupLanguages[strings.ToLower(hint)]
}

// Engine holds named strategies and dispatches repairs.
type Engine struct {
	strategies map[string]Strategy
	logger     *events.Logger
}

// NewEngine builds an engine with the standard strategy set.
func NewEngine(cfg *config.RepairConfig, logger *events.Logger) *Engine {
	e := &Engine{
		strategies: make(map[string]Strategy),
		logger:     logger.WithField("component", "repair"),
	}

	sanitizer := NewLineSanitizer()
	brackets := NewBracketBalancer()
	tags := NewTagCompleter(cfg.TagLookahead)

	e.Register(sanitizer)
	e.Register(brackets)
	e.Register(tags)
	e.Register(NewCombinedStrategy(sanitizer, brackets, tags))

	return e
}

// Register stores a strategy by name. Re-registering a name overwrites
// the previous strategy with a warning.
func (e *Engine) Register(s Strategy) {
	if _, exists := e.strategies[s.Name()]; exists {
		e.logger.WithField("strategy", s.Name()).Warn("Overwriting repair strategy")
	}
	e.strategies[s.Name()] = s
}

// Strategy looks up a registered strategy.
func (e *Engine) Strategy(name string) (Strategy, bool) {
	s, ok := e.strategies[name]
	return s, ok
}

// Names lists registered strategies.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	return names
}

// Repair runs the combined strategy over content.
func (e *Engine) Repair(content, languageHint string) models.RepairResult {
	result, err := e.RepairWith("combined", content, languageHint)
	if err != nil {
		// The combined strategy is always registered.
		return models.RepairResult{RepairedContent: content}
	}
	return result
}

// RepairWith runs a named strategy. A panicking strategy is absorbed
// into a zero-confidence result.
func (e *Engine) RepairWith(name, content, languageHint string) (models.RepairResult, error) {
	s, ok := e.strategies[name]
	if !ok {
		return models.RepairResult{}, fmt.Errorf("unknown repair strategy %q", name)
	}

	result := e.safeRepair(s, content, languageHint)

	e.logger.WithFields(map[string]interface{}{
		"strategy":   name,
		"sections":   len(result.Sections),
		"confidence": result.Confidence,
	}).Debug("Repair finished")

	return result, nil
}

func (e *Engine) safeRepair(s Strategy, content, languageHint string) (result models.RepairResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(map[string]interface{}{
				"strategy": s.Name(),
				"panic":    fmt.Sprintf("%v", r),
			}).Error("Repair strategy panicked")
			result = models.RepairResult{
				RepairedContent: content,
				Confidence:      0,
				Complete:        false,
			}
		}
	}()

	return s.Repair(content, languageHint)
}
