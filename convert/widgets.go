package convert

import (
	"strings"

	"github.com/petal-labs/promptc/objectinfo"
	"github.com/petal-labs/promptc/workflow"
)

// pseudoInputs are widget names the editor appends that are not real inputs.
var pseudoInputs = map[string]bool{
	"control_after_generate":  true,
	"control_before_generate": true,
}

// controlWords are the values of the control widget the editor injects
// after integer inputs such as seeds.
var controlWords = map[string]bool{
	"fixed":     true,
	"randomize": true,
	"increment": true,
	"decrement": true,
	"random":    true,
}

// widgetCursor walks a node's embedded widget values, positionally for list
// storage and by name for keyed storage.
type widgetCursor struct {
	values workflow.WidgetValues
	pos    int
}

// take returns the next value for name. A nil value counts as absent but
// still consumes its position.
func (w *widgetCursor) take(name string) (any, bool) {
	if w.values.IsKeyed() {
		v, ok := w.values.Get(name)
		return v, ok && v != nil
	}
	v, ok := w.values.At(w.pos)
	if ok {
		w.pos++
	}
	return v, ok && v != nil
}

// skip discards one positional value.
func (w *widgetCursor) skip() {
	if !w.values.IsKeyed() && w.pos < w.values.Len() {
		w.pos++
	}
}

// nextIsControlWord reports whether the next positional value looks like an
// injected control widget.
func (w *widgetCursor) nextIsControlWord() bool {
	v, ok := w.values.At(w.pos)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && controlWords[strings.ToLower(s)]
}

// consumeWidgets resolves every declared input of node to a reference or a
// literal. linked holds resolved wire connections by input name.
func (c *converter) consumeWidgets(pid string, node *workflow.Node, nt *objectinfo.NodeType, linked map[string]any, linkedOrder []string) map[string]any {
	inputs := make(map[string]any, len(nt.Inputs))
	cur := &widgetCursor{values: node.WidgetsValues}

	for _, in := range nt.Inputs {
		if in.Kind.WireOnly() {
			if v, ok := linked[in.Name]; ok {
				inputs[in.Name] = v
			}
			continue
		}

		val, has := cur.take(in.Name)
		if !cur.values.IsKeyed() {
			switch {
			case in.ControlAfterGenerate:
				cur.skip()
			case in.Kind == objectinfo.KindInt && cur.nextIsControlWord():
				c.warn(CodeControlWidget, pid+".inputs."+in.Name,
					"Skipped undeclared control widget after %q on node %q", in.Name, pid)
				cur.skip()
			}
		}

		lv, isLinked := linked[in.Name]
		switch {
		case pseudoInputs[in.Name]:
		case isLinked:
			inputs[in.Name] = lv
		case has:
			inputs[in.Name] = val
		}

		if !has {
			continue
		}
		key := objectinfo.ValueKey(val)
		for _, extra := range in.Formats[key] {
			if v, ok := cur.take(extra); ok {
				inputs[extra] = v
			}
		}
		if in.Kind == objectinfo.KindDynamicCombo {
			subs, _ := in.DynamicInputs(key)
			for _, sub := range subs {
				full := in.Name + "." + sub.Name
				v, ok := cur.takeDynamic(full, sub.Name)
				if ok {
					inputs[full] = v
				}
			}
		}
	}

	// Connections the schema does not declare are kept as-is.
	for _, name := range linkedOrder {
		if _, ok := inputs[name]; !ok {
			inputs[name] = linked[name]
		}
	}
	return inputs
}

// takeDynamic looks up a dynamic sub-input, trying the qualified name first
// for keyed storage.
func (w *widgetCursor) takeDynamic(full, name string) (any, bool) {
	if w.values.IsKeyed() {
		if v, ok := w.take(full); ok {
			return v, true
		}
	}
	return w.take(name)
}
