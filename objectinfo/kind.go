package objectinfo

import "strings"

// Kind is the closed set of value-type kinds an input tag can classify into.
// It is computed once when the table is parsed.
type Kind uint8

const (
	// KindOther is a literal-capable tag outside the primitive set, such as a
	// mixed-case custom tag.
	KindOther Kind = iota
	KindInt
	KindFloat
	KindString
	KindBoolean
	KindCombo
	// KindDynamicCombo is a combo whose selected value pulls in extra inputs.
	KindDynamicCombo
	// KindWire is a connection tag naming the data on the wire (IMAGE, MODEL, ...).
	KindWire
	// KindWildcard is the "*" tag, which accepts any connection.
	KindWildcard
)

// Tag values with fixed meaning in the object-info table.
const (
	TagInt          = "INT"
	TagFloat        = "FLOAT"
	TagString       = "STRING"
	TagBoolean      = "BOOLEAN"
	TagCombo        = "COMBO"
	TagWildcard     = "*"
	TagDynamicCombo = "COMFY_DYNAMICCOMBO_V3"
)

var primitiveKinds = map[string]Kind{
	TagInt:     KindInt,
	TagFloat:   KindFloat,
	TagString:  KindString,
	TagBoolean: KindBoolean,
	TagCombo:   KindCombo,
}

// literalExtensionTags look like connection tags but carry literal values with
// a nested sub-schema.
var literalExtensionTags = map[string]Kind{
	TagDynamicCombo: KindDynamicCombo,
}

// Classify maps a value-type tag to its Kind.
func Classify(tag string) Kind {
	if tag == TagWildcard {
		return KindWildcard
	}
	if k, ok := literalExtensionTags[tag]; ok {
		return k
	}
	if k, ok := primitiveKinds[tag]; ok {
		return k
	}
	if len(tag) > 1 && strings.ToUpper(tag) == tag {
		return KindWire
	}
	return KindOther
}

// WireOnly reports whether inputs of this kind are never populated from an
// embedded widget value.
func (k Kind) WireOnly() bool {
	return k == KindWire || k == KindWildcard
}

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindCombo:
		return "combo"
	case KindDynamicCombo:
		return "dynamic_combo"
	case KindWire:
		return "wire"
	case KindWildcard:
		return "wildcard"
	default:
		return "other"
	}
}
