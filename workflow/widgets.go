package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WidgetValues holds a node's embedded literal values. Older exports store
// them as a positional list, newer ones as an object keyed by input name.
// Numbers are kept as json.Number so large seeds are not rounded.
type WidgetValues struct {
	List  []any
	Keyed map[string]any
	keyed bool
}

// ListValues returns list-form widget values.
func ListValues(values ...any) WidgetValues {
	return WidgetValues{List: values}
}

// KeyedValues returns keyed-form widget values.
func KeyedValues(values map[string]any) WidgetValues {
	if values == nil {
		values = map[string]any{}
	}
	return WidgetValues{Keyed: values, keyed: true}
}

// IsKeyed reports whether the values are stored by input name.
func (w WidgetValues) IsKeyed() bool { return w.keyed }

// Len returns the number of stored values.
func (w WidgetValues) Len() int {
	if w.keyed {
		return len(w.Keyed)
	}
	return len(w.List)
}

// At returns the positional value at i.
func (w WidgetValues) At(i int) (any, bool) {
	if w.keyed || i < 0 || i >= len(w.List) {
		return nil, false
	}
	return w.List[i], true
}

// Get returns the keyed value for name.
func (w WidgetValues) Get(name string) (any, bool) {
	if !w.keyed {
		return nil, false
	}
	v, ok := w.Keyed[name]
	return v, ok
}

// SetAt replaces or appends the positional value at i. Gaps are filled with nil.
func (w *WidgetValues) SetAt(i int, v any) {
	if w.keyed || i < 0 {
		return
	}
	for len(w.List) <= i {
		w.List = append(w.List, nil)
	}
	w.List[i] = v
}

// Set stores a keyed value.
func (w *WidgetValues) Set(name string, v any) {
	if !w.keyed {
		return
	}
	if w.Keyed == nil {
		w.Keyed = map[string]any{}
	}
	w.Keyed[name] = v
}

func (w WidgetValues) clone() WidgetValues {
	out := WidgetValues{keyed: w.keyed}
	if w.List != nil {
		out.List = make([]any, len(w.List))
		for i, v := range w.List {
			out.List[i] = cloneValue(v)
		}
	}
	if w.Keyed != nil {
		out.Keyed = make(map[string]any, len(w.Keyed))
		for k, v := range w.Keyed {
			out.Keyed[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func (w WidgetValues) MarshalJSON() ([]byte, error) {
	if w.keyed {
		return json.Marshal(w.Keyed)
	}
	if w.List == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w.List)
}

func (w *WidgetValues) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*w = WidgetValues{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '{':
		var keyed map[string]any
		if err := decodeAPI.Unmarshal(data, &keyed); err != nil {
			return fmt.Errorf("workflow: widgets_values: %w", err)
		}
		*w = KeyedValues(keyed)
	case '[':
		var list []any
		if err := decodeAPI.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("workflow: widgets_values: %w", err)
		}
		w.List = list
	default:
		return fmt.Errorf("workflow: widgets_values must be a list or object, got %s", truncate(data))
	}
	return nil
}

func truncate(data []byte) string {
	const limit = 32
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
