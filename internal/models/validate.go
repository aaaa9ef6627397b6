package models

import "fmt"

// ValidationIssue flags one structural problem in a parsed tree.
type ValidationIssue struct {
	Path     string   `json:"path"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.Path, i.Message, i.Severity)
}

// ValidationResult aggregates structural checks over a tree. Valid is
// false iff at least one issue has error severity or worse.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// NewValidationResult starts from a valid state.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddWarning records a non-fatal issue.
func (r *ValidationResult) AddWarning(path, field, message string) {
	r.Issues = append(r.Issues, ValidationIssue{
		Path: path, Field: field, Message: message, Severity: SeverityWarning,
	})
}

// AddError records a fatal issue and marks the result invalid.
func (r *ValidationResult) AddError(path, field, message string) {
	r.Issues = append(r.Issues, ValidationIssue{
		Path: path, Field: field, Message: message, Severity: SeverityError,
	})
	r.Valid = false
}

// ErrorCount returns the number of error-severity issues.
func (r *ValidationResult) ErrorCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError || issue.Severity == SeverityCritical {
			count++
		}
	}
	return count
}
