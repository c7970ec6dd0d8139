package preprocess_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/promptc/convert"
	"github.com/petal-labs/promptc/graph"
	"github.com/petal-labs/promptc/objectinfo"
	"github.com/petal-labs/promptc/preprocess"
	"github.com/petal-labs/promptc/workflow"
)

func mustParse(t *testing.T, data string) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Parse([]byte(data))
	if err != nil {
		t.Fatalf("workflow.Parse() error = %v", err)
	}
	return wf
}

func nodeIDs(nodes []workflow.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID.String()
	}
	return ids
}

func findNode(t *testing.T, nodes []workflow.Node, id string) workflow.Node {
	t.Helper()
	for _, n := range nodes {
		if n.ID.String() == id {
			return n
		}
	}
	t.Fatalf("node %s not found in %v", id, nodeIDs(nodes))
	return workflow.Node{}
}

func findLink(links []workflow.Link, id string) (workflow.Link, bool) {
	for _, lk := range links {
		if lk.ID.String() == id {
			return lk, true
		}
	}
	return workflow.Link{}, false
}

// bypassChain is LoadImage -> Blur (bypassed) -> Reroute -> Invert.
const bypassChain = `{
  "nodes": [
    {"id": 1, "type": "LoadImage", "outputs": [{"name": "IMAGE", "type": "IMAGE", "links": [1]}], "widgets_values": ["a.png"]},
    {"id": 2, "type": "Blur", "mode": 4,
      "inputs": [{"name": "image", "type": "IMAGE", "link": 1}],
      "outputs": [{"name": "IMAGE", "type": "IMAGE", "links": [2]}, {"name": "MASK", "type": "MASK", "links": [4]}],
      "widgets_values": [3]},
    {"id": 3, "type": "Reroute",
      "inputs": [{"name": "", "type": "*", "link": 2}],
      "outputs": [{"name": "", "type": "IMAGE", "links": [3]}]},
    {"id": 4, "type": "Invert", "inputs": [{"name": "image", "type": "IMAGE", "link": 3}]},
    {"id": 5, "type": "MaskPreview", "inputs": [{"name": "mask", "type": "MASK", "link": 4}]}
  ],
  "links": [[1, 1, 0, 2, 0, "IMAGE"], [2, 2, 0, 3, 0, "IMAGE"], [3, 3, 0, 4, 0, "IMAGE"], [4, 2, 1, 5, 0, "MASK"]]
}`

func TestApply_CollapsesBypassAndReroute(t *testing.T) {
	wf := mustParse(t, bypassChain)
	out, stats := preprocess.Apply(wf, preprocess.DefaultOptions())

	if diff := cmp.Diff([]string{"1", "4", "5"}, nodeIDs(out.Nodes)); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	lk, ok := findLink(out.Links, "3")
	if !ok {
		t.Fatal("link 3 removed")
	}
	if lk.OriginID != "1" || lk.OriginSlot != 0 {
		t.Errorf("link 3 origin = %s:%d, want 1:0", lk.OriginID, lk.OriginSlot)
	}

	// The MASK output has no MASK input to pass through.
	if _, ok := findLink(out.Links, "4"); ok {
		t.Error("link 4 kept, want dropped")
	}
	if mp := findNode(t, out.Nodes, "5"); mp.Inputs[0].Linked() {
		t.Errorf("MaskPreview input still linked to %s", *mp.Inputs[0].Link)
	}
	if stats.Bypassed != 1 || stats.Rerouted != 1 {
		t.Errorf("stats = %+v", stats)
	}

	// The input is untouched.
	if len(wf.Nodes) != 5 || len(wf.Links) != 4 {
		t.Errorf("input modified: %d nodes, %d links", len(wf.Nodes), len(wf.Links))
	}
}

func TestApply_PrimitiveValueReenabled(t *testing.T) {
	wf := mustParse(t, `{
	  "nodes": [
	    {"id": 1, "type": "PrimitiveInt", "mode": 4, "outputs": [{"name": "INT", "type": "INT", "links": [1]}], "widgets_values": [5, "fixed"]},
	    {"id": 2, "type": "Seeder", "inputs": [{"name": "seed", "type": "INT", "link": 1, "widget": {"name": "seed"}}], "widgets_values": [0, "x"]}
	  ],
	  "links": [[1, 1, 0, 2, 0, "INT"]]
	}`)
	out, stats := preprocess.Apply(wf, preprocess.DefaultOptions())

	if n := findNode(t, out.Nodes, "1"); n.Mode != workflow.ModeAlways {
		t.Errorf("mode = %d, want %d", n.Mode, workflow.ModeAlways)
	}
	if _, ok := findLink(out.Links, "1"); !ok {
		t.Error("link from primitive removed")
	}
	if stats.Reenabled != 1 || stats.Bypassed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestApply_InlinesPrimitiveString(t *testing.T) {
	tests := []struct {
		name    string
		widgets string
		want    func(workflow.WidgetValues) (any, bool)
	}{
		{
			name:    "list",
			widgets: `["old", 1]`,
			want:    func(w workflow.WidgetValues) (any, bool) { return w.At(0) },
		},
		{
			name:    "keyed",
			widgets: `{"text": "old", "weight": 1}`,
			want:    func(w workflow.WidgetValues) (any, bool) { return w.Get("text") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := mustParse(t, `{
			  "nodes": [
			    {"id": 1, "type": "PrimitiveStringMultiline", "outputs": [{"name": "STRING", "type": "STRING", "links": [2]}], "widgets_values": ["a red fox"]},
			    {"id": 2, "type": "CheckpointLoader", "outputs": [{"name": "CLIP", "type": "CLIP", "links": [1]}], "widgets_values": ["a.safetensors"]},
			    {"id": 3, "type": "CLIPTextEncode",
			      "inputs": [
			        {"name": "clip", "type": "CLIP", "link": 1},
			        {"name": "text", "type": "STRING", "link": 2, "widget": {"name": "text"}},
			        {"name": "weight", "type": "INT", "link": null, "widget": {"name": "weight"}}
			      ],
			      "widgets_values": `+tt.widgets+`}
			  ],
			  "links": [[1, 2, 1, 3, 0, "CLIP"], [2, 1, 0, 3, 1, "STRING"]]
			}`)
			out, stats := preprocess.Apply(wf, preprocess.DefaultOptions())

			if diff := cmp.Diff([]string{"2", "3"}, nodeIDs(out.Nodes)); diff != "" {
				t.Errorf("nodes mismatch (-want +got):\n%s", diff)
			}
			enc := findNode(t, out.Nodes, "3")
			got, ok := tt.want(enc.WidgetsValues)
			if !ok || got != "a red fox" {
				t.Errorf("text widget = %v (%v), want %q", got, ok, "a red fox")
			}
			if enc.Inputs[1].Linked() {
				t.Error("text input still linked")
			}
			if !enc.Inputs[0].Linked() {
				t.Error("clip input lost its link")
			}
			if stats.Inlined != 1 {
				t.Errorf("Inlined = %d, want 1", stats.Inlined)
			}
		})
	}
}

func TestApply_ResolvesVirtualWires(t *testing.T) {
	wf := mustParse(t, `{
	  "nodes": [
	    {"id": 1, "type": "LoadImage", "outputs": [{"name": "IMAGE", "type": "IMAGE", "links": [1]}], "widgets_values": ["a.png"]},
	    {"id": 2, "type": "easy setNode", "inputs": [{"name": "IMAGE", "type": "IMAGE", "link": 1}], "widgets_values": ["source"]},
	    {"id": 3, "type": "easy getNode", "outputs": [{"name": "IMAGE", "type": "IMAGE", "links": [2]}], "widgets_values": ["source"]},
	    {"id": 4, "type": "Invert", "inputs": [{"name": "image", "type": "IMAGE", "link": 2}]},
	    {"id": 5, "type": "easy getNode", "outputs": [{"name": "IMAGE", "type": "IMAGE", "links": [3]}], "widgets_values": ["missing"]},
	    {"id": 6, "type": "Invert", "inputs": [{"name": "image", "type": "IMAGE", "link": 3}]}
	  ],
	  "links": [[1, 1, 0, 2, 0, "IMAGE"], [2, 3, 0, 4, 0, "IMAGE"], [3, 5, 0, 6, 0, "IMAGE"]]
	}`)
	out, stats := preprocess.Apply(wf, preprocess.DefaultOptions())

	if diff := cmp.Diff([]string{"1", "4", "6"}, nodeIDs(out.Nodes)); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	lk, ok := findLink(out.Links, "2")
	if !ok || lk.OriginID != "1" {
		t.Errorf("link 2 = %+v (%v), want origin 1", lk, ok)
	}
	if findNode(t, out.Nodes, "6").Inputs[0].Linked() {
		t.Error("consumer of unmatched get node still linked")
	}
	if stats.VirtualWires != 1 {
		t.Errorf("VirtualWires = %d, want 1", stats.VirtualWires)
	}
}

func TestApply_Definitions(t *testing.T) {
	wf := mustParse(t, `{
	  "nodes": [{"id": 7, "type": "def"}],
	  "links": [],
	  "definitions": {"subgraphs": [{
	    "id": "def",
	    "inputs": [{"name": "image", "type": "IMAGE"}],
	    "outputs": [],
	    "nodes": [
	      {"id": 2, "type": "Reroute", "inputs": [{"name": "", "type": "*", "link": 1}], "outputs": [{"name": "", "type": "IMAGE", "links": [2]}]},
	      {"id": 3, "type": "Invert", "inputs": [{"name": "image", "type": "IMAGE", "link": 2}]}
	    ],
	    "links": [
	      {"id": 1, "origin_id": -10, "origin_slot": 0, "target_id": 2, "target_slot": 0, "type": "IMAGE"},
	      {"id": 2, "origin_id": 2, "origin_slot": 0, "target_id": 3, "target_slot": 0, "type": "IMAGE"}
	    ]
	  }]}
	}`)
	out, _ := preprocess.Apply(wf, preprocess.DefaultOptions())

	sg := out.Definitions.Subgraphs[0]
	if diff := cmp.Diff([]string{"3"}, nodeIDs(sg.Nodes)); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	lk, ok := findLink(sg.Links, "2")
	if !ok || lk.OriginID != workflow.DefaultInputNodeID || lk.OriginSlot != 0 {
		t.Errorf("link 2 = %+v (%v), want origin %s:0", lk, ok, workflow.DefaultInputNodeID)
	}
}

func TestApply_Disabled(t *testing.T) {
	wf := mustParse(t, bypassChain)
	out, stats := preprocess.Apply(wf, preprocess.Options{})

	if stats.Changed() {
		t.Errorf("stats = %+v, want no changes", stats)
	}
	if len(out.Nodes) != len(wf.Nodes) || len(out.Links) != len(wf.Links) {
		t.Errorf("graph changed with all passes off")
	}
}

func TestApply_ConvertKeepsConnectionThroughBypass(t *testing.T) {
	table, err := objectinfo.Parse([]byte(`{
	  "LoadImage": {"input": {"optional": {"path": ["STRING"]}}, "output": ["IMAGE"]},
	  "Blur": {"input": {"required": {"image": ["IMAGE"], "radius": ["INT"]}}, "output": ["IMAGE", "MASK"]},
	  "Invert": {"input": {"required": {"image": ["IMAGE"]}}, "output": ["IMAGE"]},
	  "MaskPreview": {"input": {"required": {"mask": ["MASK"]}}, "output": []}
	}`))
	if err != nil {
		t.Fatalf("objectinfo.Parse() error = %v", err)
	}

	raw := convert.ConvertWorkflow(mustParse(t, bypassChain), table)
	if _, ok := raw.Graph["4"].Inputs["image"]; ok {
		t.Error("without preprocessing the bypassed connection should be cut")
	}

	wf, _ := preprocess.Apply(mustParse(t, bypassChain), preprocess.DefaultOptions())
	res := convert.ConvertWorkflow(wf, table)
	if got := res.Graph["4"].Inputs["image"]; got != (graph.Ref{NodeID: "1", Slot: 0}) {
		t.Errorf("4.image = %v, want [1 0]", got)
	}
	if diags := graph.Validate(res.Graph); graph.HasErrors(diags) {
		t.Errorf("Validate() = %v", diags)
	}
}
