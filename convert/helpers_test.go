package convert

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/promptc/graph"
	"github.com/petal-labs/promptc/objectinfo"
)

const testObjectInfo = `{
  "LoadImage": {"input": {"optional": {"path": ["STRING"]}}, "output": ["IMAGE"]},
  "Invert": {"input": {"required": {"image": ["IMAGE"]}}, "output": ["IMAGE"]},
  "Blend": {"input": {"required": {"image1": ["IMAGE"], "image2": ["IMAGE"], "factor": ["FLOAT", {"default": 0.5}]}}, "output": ["IMAGE"]},
  "CheckpointLoader": {"input": {"required": {"ckpt_name": [["a.safetensors", "b.safetensors"], {}]}}, "output": ["MODEL", "CLIP", "VAE"]},
  "KSampler": {"input": {"required": {
      "model": ["MODEL"],
      "seed": ["INT", {"default": 0, "control_after_generate": true}],
      "steps": ["INT", {"default": 20}],
      "cfg": ["FLOAT", {"default": 8.0}],
      "sampler_name": [["euler", "dpmpp_2m"], {}],
      "positive": ["CONDITIONING"]
    }}, "output": ["LATENT"]},
  "Seeder": {"input": {"required": {"seed": ["INT"], "label": ["STRING"]}}, "output": ["INT"]},
  "VideoCombine": {"input": {"required": {
      "images": ["IMAGE"],
      "format": [["image/gif", "video/h264-mp4"], {"formats": {"video/h264-mp4": [["pix_fmt", ["yuv420p"]], ["crf", "INT", {}]]}}]
    }}, "output": [], "output_node": true},
  "Resize": {"input": {"required": {
      "b": ["INT"],
      "a": ["INT"],
      "mode": ["COMFY_DYNAMICCOMBO_V3", {"options": [
        {"key": "scale", "inputs": {"required": {"factor": ["FLOAT"]}, "optional": {"smooth": ["BOOLEAN"]}}},
        {"key": "fixed", "inputs": {"required": {"width": ["INT"], "height": ["INT"]}}}
      ]}]
    }}, "input_order": {"required": ["a", "b", "mode"]}, "output": ["IMAGE"]},
  "AnySwitch": {"input": {}, "output": ["*"]},
  "PrimitiveInt": {"input": {"required": {"value": ["INT", {"control_after_generate": true}]}}, "output": ["INT"]},
  "Preview": {"input": {"required": {"anything": ["*"]}}, "output": []}
}`

func mustTable(t *testing.T) *objectinfo.Table {
	t.Helper()
	table, err := objectinfo.Parse([]byte(testObjectInfo))
	if err != nil {
		t.Fatalf("objectinfo.Parse() error = %v", err)
	}
	return table
}

func convertJSON(t *testing.T, data string, opts ...Option) *Result {
	t.Helper()
	opts = append([]Option{WithTable(mustTable(t))}, opts...)
	res, err := Convert(context.Background(), []byte(data), opts...)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	return res
}

// assertGraph compares the JSON encoding of g with want.
func assertGraph(t *testing.T, g graph.ExecutionGraph, want string) {
	t.Helper()
	data, err := g.Marshal(false)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got, exp any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode got: %v", err)
	}
	if err := json.Unmarshal([]byte(want), &exp); err != nil {
		t.Fatalf("decode want: %v", err)
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
}

func diagCodes(diags []graph.Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func hasCode(diags []graph.Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}
