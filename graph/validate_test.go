package graph

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/promptc/objectinfo"
)

func codes(diags []Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	g := ExecutionGraph{
		"1": {ClassType: "LoadImage", Inputs: map[string]any{"image": "cat.png"}},
		"2": {ClassType: "Invert", Inputs: map[string]any{"image": Ref{NodeID: "1"}}},
	}
	if diags := Validate(g); len(diags) != 0 {
		t.Errorf("Validate() = %v, want none", diags)
	}
}

func TestValidate_DanglingReference(t *testing.T) {
	g := ExecutionGraph{
		"2": {ClassType: "Invert", Inputs: map[string]any{"image": []any{"9", float64(0)}}},
	}
	diags := Validate(g)
	if diff := cmp.Diff([]string{"GR-001"}, codes(diags)); diff != "" {
		t.Fatalf("codes mismatch (-want +got):\n%s", diff)
	}
	if diags[0].Path != "2.inputs.image" {
		t.Errorf("Path = %q", diags[0].Path)
	}
}

func TestValidate_Cycle(t *testing.T) {
	g := ExecutionGraph{
		"a": {ClassType: "X", Inputs: map[string]any{"in": Ref{NodeID: "b"}}},
		"b": {ClassType: "X", Inputs: map[string]any{"in": Ref{NodeID: "a"}}},
		"c": {ClassType: "X", Inputs: map[string]any{}},
	}
	if diff := cmp.Diff([]string{"GR-004"}, codes(Validate(g))); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_MissingClassType(t *testing.T) {
	g := ExecutionGraph{"1": {Inputs: map[string]any{}}}
	if diff := cmp.Diff([]string{"GR-002"}, codes(Validate(g))); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
}

const validateInfo = `{
  "LoadImage": {"input": {"required": {"image": [["cat.png"], {}]}}, "output": ["IMAGE", "MASK"]},
  "Invert": {"input": {"required": {"image": ["IMAGE"]}, "optional": {"strength": ["FLOAT"]}}, "output": ["IMAGE"]}
}`

func TestValidateWithSchema(t *testing.T) {
	table, err := objectinfo.Parse([]byte(validateInfo))
	if err != nil {
		t.Fatalf("objectinfo.Parse: %v", err)
	}
	g := ExecutionGraph{
		"1": {ClassType: "LoadImage", Inputs: map[string]any{"image": "cat.png"}},
		"2": {ClassType: "Invert", Inputs: map[string]any{"image": Ref{NodeID: "1", Slot: 5}}},
		"3": {ClassType: "Invert", Inputs: map[string]any{}},
		"4": {ClassType: "Mystery", Inputs: map[string]any{}},
	}
	diags := ValidateWithSchema(g, table)
	want := []string{"GR-005", "GR-006", "GR-003"}
	if diff := cmp.Diff(want, codes(diags)); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
	if !HasErrors(diags) {
		t.Error("unknown class type should be an error")
	}
}

func TestFindByTypeAndSetText(t *testing.T) {
	g := ExecutionGraph{
		"6": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "old", "clip": Ref{NodeID: "4", Slot: 1}}},
		"7": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": Ref{NodeID: "9"}}},
		"8": {ClassType: "WanTextEncode", Inputs: map[string]any{"prompt": "old"}},
		"9": {ClassType: "KSampler", Inputs: map[string]any{"text": "untouched"}},
	}
	if diff := cmp.Diff([]string{"6", "7"}, FindByType(g, "CLIPTextEncode")); diff != "" {
		t.Errorf("FindByType mismatch (-want +got):\n%s", diff)
	}

	changed := SetText(g, "a red fox", "CLIPTextEncode", "WanTextEncode")
	if diff := cmp.Diff([]string{"6", "8"}, changed); diff != "" {
		t.Errorf("SetText changed mismatch (-want +got):\n%s", diff)
	}
	if g["6"].Inputs["text"] != "a red fox" || g["8"].Inputs["prompt"] != "a red fox" {
		t.Error("text not applied")
	}
	if _, ok := g["7"].Inputs["text"].(Ref); !ok {
		t.Error("linked text input must stay a reference")
	}
	if g["9"].Inputs["text"] != "untouched" {
		t.Error("non-encoder node modified")
	}
}

func TestApplyOverrides(t *testing.T) {
	g := ExecutionGraph{"3": {ClassType: "KSampler", Inputs: map[string]any{"seed": 1}}}
	missing := ApplyOverrides(g, map[string]map[string]any{
		"3":  {"seed": 42, "model": []any{"4", float64(0)}},
		"99": {"x": 1},
		"12": {"x": 1},
	})
	if diff := cmp.Diff([]string{"12", "99"}, missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if g["3"].Inputs["seed"] != 42 {
		t.Errorf("seed = %v", g["3"].Inputs["seed"])
	}
	if g["3"].Inputs["model"] != (Ref{NodeID: "4"}) {
		t.Errorf("model = %#v, want Ref", g["3"].Inputs["model"])
	}
}

func TestResolveDatePatterns(t *testing.T) {
	now := time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC)
	g := ExecutionGraph{
		"9": {ClassType: "SaveImage", Inputs: map[string]any{
			"filename_prefix": "%date:yyyy-MM-dd%/img_%date:HHmmss%",
			"other":           "plain",
		}},
	}
	if n := ResolveDatePatterns(g, now); n != 1 {
		t.Errorf("rewritten = %d, want 1", n)
	}
	if got := g["9"].Inputs["filename_prefix"]; got != "2026-03-09/img_140507" {
		t.Errorf("filename_prefix = %q", got)
	}
	if g["9"].Inputs["other"] != "plain" {
		t.Error("plain input modified")
	}
}
