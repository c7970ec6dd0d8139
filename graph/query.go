package graph

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// FindByType returns the ids of entries whose class type is one of
// classTypes, in id order.
func FindByType(g ExecutionGraph, classTypes ...string) []string {
	want := make(map[string]bool, len(classTypes))
	for _, ct := range classTypes {
		want[ct] = true
	}
	var ids []string
	for _, id := range g.IDs() {
		if want[g[id].ClassType] {
			ids = append(ids, id)
		}
	}
	return ids
}

// textFields are the prompt inputs of text-encoder nodes, in preference order.
var textFields = []string{"text", "prompt", "positive", "caption"}

// SetText writes text into the first string-valued prompt field of every
// entry whose class type is one of classTypes. It returns the ids changed.
func SetText(g ExecutionGraph, text string, classTypes ...string) []string {
	var changed []string
	for _, id := range FindByType(g, classTypes...) {
		e := g[id]
		for _, field := range textFields {
			if _, ok := e.Inputs[field].(string); ok {
				e.Inputs[field] = text
				changed = append(changed, id)
				break
			}
		}
	}
	return changed
}

// ApplyOverrides sets inputs by node id. Ids absent from the graph are
// returned and skipped.
func ApplyOverrides(g ExecutionGraph, overrides map[string]map[string]any) (missing []string) {
	for id, updates := range overrides {
		e, ok := g[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if e.Inputs == nil {
			e.Inputs = make(map[string]any, len(updates))
		}
		for name, v := range updates {
			if ref, isRef := AsRef(v); isRef {
				v = ref
			}
			e.Inputs[name] = v
		}
	}
	SortIDs(missing)
	return missing
}

var datePattern = regexp.MustCompile(`%date:([^%]+)%`)

// dateTokens maps editor date-format tokens to Go layout fragments. Longer
// tokens come first so "yyyy" wins over "yy".
var dateTokens = []struct {
	token, layout string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MM", "01"},
	{"dd", "02"},
	{"HH", "15"},
	{"hh", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// ResolveDatePatterns replaces %date:FORMAT% tokens in string inputs with
// now formatted accordingly. The editor expands these itself but the server
// does not. It returns the number of inputs rewritten.
func ResolveDatePatterns(g ExecutionGraph, now time.Time) int {
	count := 0
	for _, id := range g.IDs() {
		e := g[id]
		for name, v := range e.Inputs {
			s, ok := v.(string)
			if !ok || !strings.Contains(s, "%date:") {
				continue
			}
			e.Inputs[name] = datePattern.ReplaceAllStringFunc(s, func(m string) string {
				format := datePattern.FindStringSubmatch(m)[1]
				return formatDate(format, now)
			})
			count++
		}
	}
	return count
}

func formatDate(format string, now time.Time) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		matched := false
		for _, t := range dateTokens {
			if strings.HasPrefix(format[i:], t.token) {
				b.WriteString(now.Format(t.layout))
				i += len(t.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

// SortIDs sorts node ids in place, numeric ids first in numeric order, and
// returns ids.
func SortIDs(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids
}
