package registry

// registerBuiltins registers all built-in node classes.
func registerBuiltins(r *Registry) {
	for _, name := range []string{"Note", "MarkdownNote", "NoteNode", "Note (Multiline)", "Label (rgthree)"} {
		r.Register(ClassDef{
			Type:        name,
			Category:    CategoryAnnotation,
			DisplayName: name,
			Description: "Editor annotation with no inputs or outputs",
			UIOnly:      true,
		})
	}

	r.Register(ClassDef{
		Type:        "Reroute",
		Category:    CategoryReroute,
		DisplayName: "Reroute",
		Description: "Passes its single input through to every consumer",
		UIOnly:      true,
	})

	r.Register(ClassDef{
		Type:        "PrimitiveStringMultiline",
		Category:    CategoryInlinePrimitive,
		DisplayName: "String (Multiline)",
		Description: "Multiline text the editor writes into the consuming widget",
		UIOnly:      true,
	})

	for _, name := range []string{"PrimitiveBoolean", "PrimitiveInt", "PrimitiveFloat", "PrimitiveString"} {
		r.Register(ClassDef{
			Type:        name,
			Category:    CategoryPrimitiveValue,
			DisplayName: name,
			Description: "Executable primitive value node",
		})
	}

	for _, name := range []string{"easy setNode", "SetNode"} {
		r.Register(ClassDef{
			Type:        name,
			Category:    CategoryVirtualSet,
			DisplayName: name,
			Description: "Publishes its input under the name in its first widget",
			UIOnly:      true,
		})
	}
	for _, name := range []string{"easy getNode", "GetNode"} {
		r.Register(ClassDef{
			Type:        name,
			Category:    CategoryVirtualGet,
			DisplayName: name,
			Description: "Reads the input published by the matching set node",
			UIOnly:      true,
		})
	}

	for _, name := range []string{
		"CLIPTextEncode",
		"TextEncodeQwenImageEditPlus",
		"TextEncodeQwenImage",
		"WanTextEncode",
		"HunyuanVideoTextEncode",
		"LTXVConditioning",
		"HunyuanDiTTextEncode",
		"PixArtTextEncode",
		"SDXLPromptStyler",
		"Text Multiline",
		"ShowText|pysssss",
	} {
		r.Register(ClassDef{Type: name, Category: CategoryTextEncoder, DisplayName: name})
	}

	for _, name := range []string{"LoadImage", "LoadImageMask"} {
		r.Register(ClassDef{Type: name, Category: CategoryImageLoader, DisplayName: name})
	}

	for _, name := range []string{"SaveImage", "VHS_VideoCombine", "SaveAnimatedWEBP", "SaveVideo", "SaveAudio", "VHS_SaveAudio"} {
		r.Register(ClassDef{Type: name, Category: CategoryOutput, DisplayName: name})
	}
}
