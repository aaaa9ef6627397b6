package repair

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/arcmill/arcmill/internal/models"
)

// voidElements never take closing tags.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// TagCompleter appends closing tags for unclosed markup elements. It
// matches each open tag to the first same-named closer inside a bounded
// lookahead window, which knowingly mishandles same-named nested tags;
// that limitation is part of the contract, kept for predictability.
type TagCompleter struct {
	lookahead int
}

// NewTagCompleter creates the strategy with a token lookahead window.
func NewTagCompleter(lookahead int) *TagCompleter {
	if lookahead <= 0 {
		lookahead = 512
	}
	return &TagCompleter{lookahead: lookahead}
}

func (t *TagCompleter) Name() string { return "tag_completer" }

type tagEvent struct {
	name     string
	index    int
	consumed bool
}

// Repair tokenizes markup and appends missing closers in reverse
// discovery order, at a single x0.7 confidence cost. Non-markup hints
// pass through untouched.
func (t *TagCompleter) Repair(content, languageHint string) models.RepairResult {
	if !IsMarkupLanguage(languageHint) {
		return models.RepairResult{RepairedContent: content, Confidence: 1.0, Complete: true}
	}

	starts, ends, err := t.tokenize(content)
	if err != nil {
		return models.RepairResult{RepairedContent: content, Confidence: 0, Complete: false}
	}

	// Pair each start with the first unconsumed same-named closer
	// inside the window.
	var missing []string
	for i := range starts {
		start := &starts[i]
		matched := false
		for j := range ends {
			end := &ends[j]
			if end.consumed || end.index < start.index {
				continue
			}
			if end.index-start.index > t.lookahead {
				break
			}
			if end.name == start.name {
				end.consumed = true
				matched = true
				break
			}
		}
		if !matched {
			missing = append(missing, start.name)
		}
	}

	if len(missing) == 0 {
		return models.RepairResult{RepairedContent: content, Confidence: 1.0, Complete: true}
	}

	lastLine := strings.Count(content, "\n") + 1

	var appended strings.Builder
	sections := make([]models.RepairedSection, 0, len(missing))
	for i := len(missing) - 1; i >= 0; i-- {
		closer := fmt.Sprintf("</%s>", missing[i])
		appended.WriteString(closer)
		sections = append(sections, models.RepairedSection{
			Line:     lastLine,
			Original: "",
			Repaired: closer,
			Reason:   fmt.Sprintf("unclosed tag <%s>", missing[i]),
		})
	}

	return models.RepairResult{
		RepairedContent: content + appended.String(),
		Sections:        sections,
		Confidence:      0.7,
		Complete:        true,
	}
}

// tokenize collects start and end tag events with token positions.
func (t *TagCompleter) tokenize(content string) (starts, ends []tagEvent, err error) {
	z := html.NewTokenizer(strings.NewReader(content))

	index := 0
	for {
		tt := z.Next()
		index++

		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return starts, ends, nil
			}
			return nil, nil, z.Err()

		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if !voidElements[tag] {
				starts = append(starts, tagEvent{name: tag, index: index})
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			ends = append(ends, tagEvent{name: string(name), index: index})
		}
	}
}
