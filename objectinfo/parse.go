package objectinfo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// rawSection keeps the declared key order of one input section.
type rawSection = orderedmap.OrderedMap[string, json.RawMessage]

type rawSections struct {
	Required *rawSection `json:"required"`
	Optional *rawSection `json:"optional"`
	Hidden   *rawSection `json:"hidden"`
}

type rawNodeType struct {
	Input        rawSections         `json:"input"`
	InputOrder   map[string][]string `json:"input_order"`
	Output       []json.RawMessage   `json:"output"`
	OutputName   []string            `json:"output_name"`
	OutputIsList []bool              `json:"output_is_list"`
	Name         string              `json:"name"`
	DisplayName  string              `json:"display_name"`
	Category     string              `json:"category"`
	OutputNode   bool                `json:"output_node"`
}

type rawOptions struct {
	ControlAfterGenerate any                                             `json:"control_after_generate"`
	Formats              json.RawMessage `json:"formats"`
	Options              json.RawMessage `json:"options"`
}

type rawDynamicOption struct {
	Key    any         `json:"key"`
	Inputs rawSections `json:"inputs"`
}

// Parse decodes an object-info payload into a Table.
func Parse(data []byte) (*Table, error) {
	var raw *orderedmap.OrderedMap[string, rawNodeType]
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("objectinfo: decode: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("objectinfo: decode: payload is not an object")
	}

	t := &Table{types: make(map[string]*NodeType, raw.Len())}
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		nt := parseNodeType(pair.Key, pair.Value)
		t.types[nt.Name] = nt
	}
	return t, nil
}

func parseNodeType(name string, raw rawNodeType) *NodeType {
	nt := &NodeType{
		Name:        name,
		DisplayName: raw.DisplayName,
		Category:    raw.Category,
		OutputNode:  raw.OutputNode,
	}

	sections := []struct {
		section Section
		entries *rawSection
	}{
		{SectionRequired, raw.Input.Required},
		{SectionOptional, raw.Input.Optional},
		{SectionHidden, raw.Input.Hidden},
	}
	for _, s := range sections {
		for _, key := range orderedKeys(s.entries, raw.InputOrder[string(s.section)]) {
			spec, _ := s.entries.Get(key)
			nt.Inputs = append(nt.Inputs, parseInput(key, s.section, spec))
		}
	}

	for i, rawTag := range raw.Output {
		out := Output{Tag: tagOf(rawTag)}
		if i < len(raw.OutputName) {
			out.Name = raw.OutputName[i]
		}
		if out.Name == "" {
			out.Name = out.Tag
		}
		if i < len(raw.OutputIsList) {
			out.IsList = raw.OutputIsList[i]
		}
		nt.Outputs = append(nt.Outputs, out)
	}
	return nt
}

// orderedKeys returns the section's keys, honoring an explicit order first
// and appending any keys it does not mention in declaration order.
func orderedKeys(entries *rawSection, order []string) []string {
	if entries == nil {
		return nil
	}
	keys := make([]string, 0, entries.Len())
	seen := make(map[string]bool, entries.Len())
	for _, key := range order {
		if _, ok := entries.Get(key); ok && !seen[key] {
			keys = append(keys, key)
			seen[key] = true
		}
	}
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		if !seen[pair.Key] {
			keys = append(keys, pair.Key)
		}
	}
	return keys
}

// parseInput never fails: option records from custom nodes that do not fit
// the known shapes are ignored and the input keeps its tag.
func parseInput(name string, section Section, spec json.RawMessage) Input {
	in := Input{Name: name, Section: section}

	var parts []json.RawMessage
	if err := sonic.Unmarshal(spec, &parts); err != nil {
		// Some custom nodes declare a bare tag instead of a [tag, options] pair.
		in.Tag = tagOf(spec)
		in.Kind = Classify(in.Tag)
		return in
	}
	if len(parts) == 0 {
		in.Kind = KindOther
		return in
	}

	in.Tag = tagOf(parts[0])
	in.Kind = Classify(in.Tag)
	if choices, ok := comboChoices(parts[0]); ok {
		in.Choices = choices
	}
	if len(parts) < 2 || !isObject(parts[1]) {
		return in
	}

	var opts rawOptions
	if err := sonic.Unmarshal(parts[1], &opts); err != nil {
		return in
	}
	in.ControlAfterGenerate = truthy(opts.ControlAfterGenerate)
	in.Formats = parseFormats(opts.Formats)

	if in.Kind == KindDynamicCombo && len(opts.Options) > 0 {
		if dyn, err := parseDynamicOptions(opts.Options); err == nil {
			in.Dynamic = dyn
		}
	}
	if in.Kind == KindCombo && in.Choices == nil && len(opts.Options) > 0 {
		var choices []any
		if err := sonic.Unmarshal(opts.Options, &choices); err == nil {
			in.Choices = stringify(choices)
		}
	}
	return in
}

// parseFormats reads a formats record: format value to a list of extra
// input specs, each led by the input name. Any other shape yields nil.
func parseFormats(raw json.RawMessage) map[string][]string {
	if !isObject(raw) {
		return nil
	}
	var formats *orderedmap.OrderedMap[string, json.RawMessage]
	if err := sonic.Unmarshal(raw, &formats); err != nil || formats == nil || formats.Len() == 0 {
		return nil
	}
	out := make(map[string][]string, formats.Len())
	for pair := formats.Oldest(); pair != nil; pair = pair.Next() {
		var specs []json.RawMessage
		if err := sonic.Unmarshal(pair.Value, &specs); err != nil {
			continue
		}
		var extras []string
		for _, extra := range specs {
			if extraName, ok := firstString(extra); ok {
				extras = append(extras, extraName)
			}
		}
		out[pair.Key] = extras
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseDynamicOptions(data json.RawMessage) ([]DynamicOption, error) {
	var raw []rawDynamicOption
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("dynamic options: %w", err)
	}
	out := make([]DynamicOption, 0, len(raw))
	for _, r := range raw {
		opt := DynamicOption{Key: ValueKey(r.Key)}
		subs := []struct {
			section Section
			entries *rawSection
		}{
			{SectionRequired, r.Inputs.Required},
			{SectionOptional, r.Inputs.Optional},
		}
		for _, s := range subs {
			for _, key := range orderedKeys(s.entries, nil) {
				spec, _ := s.entries.Get(key)
				opt.Inputs = append(opt.Inputs, parseInput(key, s.section, spec))
			}
		}
		out = append(out, opt)
	}
	return out, nil
}

// tagOf extracts the value-type tag of a raw tag element. A list of allowed
// values is a combo.
func tagOf(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return TagCombo
	}
	var tag string
	if err := sonic.Unmarshal(trimmed, &tag); err != nil {
		return ""
	}
	return tag
}

func comboChoices(raw json.RawMessage) ([]string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var values []any
	if err := sonic.Unmarshal(trimmed, &values); err != nil {
		return nil, false
	}
	return stringify(values), true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func firstString(raw json.RawMessage) (string, bool) {
	var parts []any
	if err := sonic.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return "", false
	}
	s, ok := parts[0].(string)
	return s, ok
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	default:
		return false
	}
}

func stringify(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, ValueKey(v))
	}
	return out
}

// ValueKey renders a literal widget value the way it appears as a key in
// format and dynamic-option tables.
func ValueKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
