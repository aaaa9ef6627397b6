package repair

import (
	"strings"

	"github.com/arcmill/arcmill/internal/models"
)

// SentinelRemovedLine replaces lines the sanitizer had to wipe entirely.
const SentinelRemovedLine = "corrupted line removed"

// nonPrintableLimit is the density above which a line counts as corrupted.
const nonPrintableLimit = 0.3

// LineSanitizer strips NUL bytes, replacement characters, and lines
// dominated by non-printable bytes.
type LineSanitizer struct{}

// NewLineSanitizer creates the strategy.
func NewLineSanitizer() *LineSanitizer {
	return &LineSanitizer{}
}

func (s *LineSanitizer) Name() string { return "line_sanitizer" }

// Repair classifies each line, strips offending bytes, and replaces
// lines that end up empty with a sentinel marker. Confidence is the
// fraction of lines that were clean.
func (s *LineSanitizer) Repair(content, languageHint string) models.RepairResult {
	if content == "" {
		return models.RepairResult{RepairedContent: "", Confidence: 1.0, Complete: true}
	}

	lines := strings.Split(content, "\n")
	out := make([]string, len(lines))

	var sections []models.RepairedSection
	valid := 0

	for i, line := range lines {
		reason, corrupted := classifyLine(line)
		if !corrupted {
			out[i] = line
			valid++
			continue
		}

		cleaned := stripLine(line)
		if strings.TrimSpace(cleaned) == "" {
			cleaned = SentinelRemovedLine
		}
		out[i] = cleaned

		sections = append(sections, models.RepairedSection{
			Line:     i + 1,
			Original: line,
			Repaired: cleaned,
			Reason:   reason,
		})
	}

	confidence := float64(valid) / float64(len(lines))

	return models.RepairResult{
		RepairedContent: strings.Join(out, "\n"),
		Sections:        sections,
		Confidence:      models.ClampConfidence(confidence),
		Complete:        valid > 0,
	}
}

// classifyLine reports whether a line is corrupted and why.
func classifyLine(line string) (string, bool) {
	if line == "" {
		return "", false
	}

	if strings.IndexByte(line, 0) >= 0 {
		return "NUL bytes removed", true
	}

	if strings.ContainsRune(line, '�') {
		return "replacement characters removed", true
	}

	nonPrintable := 0
	for i := 0; i < len(line); i++ {
		b := line[i]
		if b < 32 && b != '\t' && b != '\r' {
			nonPrintable++
		}
	}
	if float64(nonPrintable)/float64(len(line)) > nonPrintableLimit {
		return "non-printable density above 30%", true
	}

	return "", false
}

// stripLine removes NULs, replacement chars, and control bytes.
func stripLine(line string) string {
	var sb strings.Builder
	sb.Grow(len(line))

	for _, r := range line {
		if r == 0 || r == '�' {
			continue
		}
		if r < 32 && r != '\t' && r != '\r' {
			continue
		}
		sb.WriteRune(r)
	}

	return sb.String()
}
