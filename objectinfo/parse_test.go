package objectinfo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const samplerInfo = `{
  "KSampler": {
    "input": {
      "required": {
        "model": ["MODEL"],
        "seed": ["INT", {"default": 0, "control_after_generate": true}],
        "steps": ["INT", {"default": 20}],
        "sampler_name": [["euler", "dpmpp_2m"], {}],
        "positive": ["CONDITIONING"]
      },
      "optional": {
        "denoise": ["FLOAT", {"default": 1.0}]
      },
      "hidden": {
        "unique_id": "UNIQUE_ID"
      }
    },
    "output": ["LATENT"],
    "output_name": ["LATENT"],
    "output_is_list": [false],
    "display_name": "KSampler",
    "category": "sampling"
  },
  "VideoCombine": {
    "input": {
      "required": {
        "images": ["IMAGE"],
        "format": [["image/gif", "video/h264-mp4"], {
          "formats": {"video/h264-mp4": [["pix_fmt", ["yuv420p"]], ["crf", "INT", {"default": 19}]]}
        }]
      }
    },
    "output": ["STRING"],
    "output_node": true
  },
  "Resize": {
    "input": {
      "required": {
        "b": ["INT"],
        "a": ["INT"],
        "mode": ["COMFY_DYNAMICCOMBO_V3", {"options": [
          {"key": "scale", "inputs": {"required": {"factor": ["FLOAT"]}, "optional": {"smooth": ["BOOLEAN"]}}},
          {"key": "fixed", "inputs": {"required": {"width": ["INT"], "height": ["INT"]}}}
        ]}]
      }
    },
    "input_order": {"required": ["a", "b", "mode"]},
    "output": ["IMAGE"]
  }
}`

func inputNames(nt *NodeType) []string {
	var names []string
	for _, in := range nt.Inputs {
		names = append(names, in.Name)
	}
	return names
}

func TestParse_DeclarationOrder(t *testing.T) {
	table, err := Parse([]byte(samplerInfo))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}

	ks, ok := table.Get("KSampler")
	if !ok {
		t.Fatal("KSampler not found")
	}
	want := []string{"model", "seed", "steps", "sampler_name", "positive", "denoise", "unique_id"}
	if diff := cmp.Diff(want, inputNames(ks)); diff != "" {
		t.Errorf("input order mismatch (-want +got):\n%s", diff)
	}

	seed, _ := ks.Input("seed")
	if seed.Kind != KindInt || !seed.ControlAfterGenerate {
		t.Errorf("seed = %+v, want int with control_after_generate", seed)
	}
	steps, _ := ks.Input("steps")
	if steps.ControlAfterGenerate {
		t.Error("steps.ControlAfterGenerate = true, want false")
	}
	sampler, _ := ks.Input("sampler_name")
	if sampler.Kind != KindCombo {
		t.Errorf("sampler_name kind = %v, want combo", sampler.Kind)
	}
	if diff := cmp.Diff([]string{"euler", "dpmpp_2m"}, sampler.Choices); diff != "" {
		t.Errorf("choices mismatch (-want +got):\n%s", diff)
	}
	model, _ := ks.Input("model")
	if !model.Kind.WireOnly() {
		t.Error("model should be wire-only")
	}
	denoise, _ := ks.Input("denoise")
	if denoise.Section != SectionOptional {
		t.Errorf("denoise section = %q, want optional", denoise.Section)
	}
	uid, _ := ks.Input("unique_id")
	if uid.Section != SectionHidden || uid.Tag != "UNIQUE_ID" {
		t.Errorf("unique_id = %+v", uid)
	}

	if diff := cmp.Diff([]Output{{Name: "LATENT", Tag: "LATENT"}}, ks.Outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if ks.Category != "sampling" {
		t.Errorf("Category = %q, want sampling", ks.Category)
	}
}

func TestParse_InputOrderOverridesKeys(t *testing.T) {
	table, err := Parse([]byte(samplerInfo))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	rs, _ := table.Get("Resize")
	if diff := cmp.Diff([]string{"a", "b", "mode"}, inputNames(rs)); diff != "" {
		t.Errorf("input order mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Formats(t *testing.T) {
	table, err := Parse([]byte(samplerInfo))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	vc, _ := table.Get("VideoCombine")
	format, _ := vc.Input("format")
	want := map[string][]string{"video/h264-mp4": {"pix_fmt", "crf"}}
	if diff := cmp.Diff(want, format.Formats); diff != "" {
		t.Errorf("formats mismatch (-want +got):\n%s", diff)
	}
	if !vc.OutputNode {
		t.Error("OutputNode = false, want true")
	}
}

func TestParse_DynamicCombo(t *testing.T) {
	table, err := Parse([]byte(samplerInfo))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	rs, _ := table.Get("Resize")
	mode, _ := rs.Input("mode")
	if mode.Kind != KindDynamicCombo {
		t.Fatalf("mode kind = %v, want dynamic_combo", mode.Kind)
	}
	subs, ok := mode.DynamicInputs("scale")
	if !ok {
		t.Fatal("DynamicInputs(scale) not found")
	}
	var names []string
	for _, s := range subs {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"factor", "smooth"}, names); diff != "" {
		t.Errorf("sub-input mismatch (-want +got):\n%s", diff)
	}
	if _, ok := mode.DynamicInputs("missing"); ok {
		t.Error("DynamicInputs(missing) should not match")
	}
}

func TestParse_Errors(t *testing.T) {
	for _, data := range []string{`[1, 2]`, `not json`, `null`} {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("Parse(%q) expected error", data)
		}
	}
}

func TestParse_IgnoresUnexpectedOptions(t *testing.T) {
	data := `{
	  "Invert": {"input": {"required": {"image": ["IMAGE"]}}, "output": ["IMAGE"]},
	  "OddCustom": {"input": {"required": {
	      "fmt": [["a", "b"], {"formats": ["a", "b"]}],
	      "mixed": [["x", "y"], {"formats": {"x": "not a list", "y": [["extra", "INT"]]}}],
	      "mode": ["COMFY_DYNAMICCOMBO_V3", {"options": {"key": "scale"}}],
	      "seed": ["INT", {"control_after_generate": "yes", "options": 7}]
	    }}, "output": ["IMAGE"]}
	}`
	table, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !table.Has("Invert") || !table.Has("OddCustom") {
		t.Fatalf("Names() = %v, want both node types", table.Names())
	}

	odd, _ := table.Get("OddCustom")
	fmtIn, _ := odd.Input("fmt")
	if fmtIn.Kind != KindCombo || fmtIn.Formats != nil {
		t.Errorf("fmt = %+v, want a combo without formats", fmtIn)
	}
	if diff := cmp.Diff([]string{"a", "b"}, fmtIn.Choices); diff != "" {
		t.Errorf("fmt choices mismatch (-want +got):\n%s", diff)
	}

	mixed, _ := odd.Input("mixed")
	if diff := cmp.Diff(map[string][]string{"y": {"extra"}}, mixed.Formats); diff != "" {
		t.Errorf("mixed formats mismatch (-want +got):\n%s", diff)
	}

	mode, _ := odd.Input("mode")
	if mode.Kind != KindDynamicCombo || mode.Dynamic != nil {
		t.Errorf("mode = %+v, want a dynamic combo without options", mode)
	}

	seed, _ := odd.Input("seed")
	if seed.Kind != KindInt || !seed.ControlAfterGenerate {
		t.Errorf("seed = %+v, want INT with control_after_generate", seed)
	}
}

func TestTable_Names(t *testing.T) {
	table, err := Parse([]byte(samplerInfo))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"KSampler", "Resize", "VideoCombine"}
	if diff := cmp.Diff(want, table.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
	if table.Has("Nope") {
		t.Error("Has(Nope) = true")
	}

	var nilTable *Table
	if nilTable.Len() != 0 || nilTable.Has("KSampler") {
		t.Error("nil table should be empty")
	}
}
