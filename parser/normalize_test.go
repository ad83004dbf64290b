package parser

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
)

const uiWorkflow = `{
  "last_node_id": 9,
  "last_link_id": 9,
  "nodes": [
    {"id": 4, "type": "CheckpointLoaderSimple", "widgets_values": ["v1-5-pruned-emaonly.safetensors"],
     "outputs": [{"name": "MODEL", "type": "MODEL", "links": [1]}, {"name": "CLIP", "type": "CLIP", "links": [3, 5]}]},
    {"id": 6, "type": "CLIPTextEncode", "title": "Scene", "widgets_values": [" a mountain lake at dawn "],
     "inputs": [{"name": "clip", "type": "CLIP", "link": 3}]},
    {"id": 7, "type": "CLIPTextEncode", "widgets_values": ["text, watermark"],
     "inputs": [{"name": "clip", "type": "CLIP", "link": 5}]},
    {"id": 5, "type": "EmptyLatentImage", "widgets_values": [512, 768, 1]},
    {"id": 3, "type": "KSampler", "widgets_values": [156680208700286, "randomize", 20, 8, "euler", "normal", 1],
     "inputs": [
       {"name": "model", "type": "MODEL", "link": 1},
       {"name": "positive", "type": "CONDITIONING", "link": 4},
       {"name": "negative", "type": "CONDITIONING", "link": 6},
       {"name": "latent_image", "type": "LATENT", "link": 2}]},
    {"id": 8, "type": "VAELoader", "widgets_values": ["vae-ft-mse-840000.safetensors"]}
  ],
  "links": [
    [1, 4, 0, 3, 0, "MODEL"],
    [2, 5, 0, 3, 3, "LATENT"],
    [3, 4, 1, 6, 0, "CLIP"],
    [4, 6, 0, 3, 1, "CONDITIONING"],
    [5, 4, 1, 7, 0, "CLIP"],
    [6, 7, 0, 3, 2, "CONDITIONING"]
  ],
  "version": 0.4
}`

func TestNormalizeUI(t *testing.T) {
	g := Normalize(mustDocument(t, uiWorkflow))

	wantIDs := []string{"4", "6", "7", "5", "3", "8"}
	if !reflect.DeepEqual(g.IDs(), wantIDs) {
		t.Fatalf("IDs() = %v, want %v", g.IDs(), wantIDs)
	}

	n, _ := g.Node("6")
	if n.ClassType != "CLIPTextEncode" || n.Title != "Scene" {
		t.Errorf("Unexpected node %+v", n)
	}
	n, _ = g.Node("7")
	if n.Title != "CLIPTextEncode" {
		t.Errorf("Expected the type as title of an untitled node, got %q", n.Title)
	}

	sampler, _ := g.Node("3")
	wantNames := []string{"seed", "steps", "cfg", "sampler_name", "scheduler", "model", "positive", "negative", "latent_image"}
	if !reflect.DeepEqual(sampler.Inputs.Names(), wantNames) {
		t.Errorf("Input names = %v, want %v", sampler.Inputs.Names(), wantNames)
	}
	// widget positions map exactly, the seed control value lands in steps
	if steps, _ := sampler.Inputs.Literal("steps"); steps != "randomize" {
		t.Errorf("steps = %v, want randomize", steps)
	}
	if scheduler, _ := sampler.Inputs.Literal("scheduler"); scheduler != "euler" {
		t.Errorf("scheduler = %v, want euler", scheduler)
	}

	neg, _ := sampler.Inputs.Get("negative")
	if !neg.IsEdge() || *neg.Edge != (EdgeRef{Source: "7", Slot: 0}) {
		t.Errorf("Expected negative resolved through the links table, got %+v", neg)
	}
	n, _ = g.Node("7")
	clip, _ := n.Inputs.Get("clip")
	if !clip.IsEdge() || *clip.Edge != (EdgeRef{Source: "4", Slot: 1}) {
		t.Errorf("Expected clip edge from 4:1, got %+v", clip.Edge)
	}
}

func TestParseUI(t *testing.T) {
	res, err := Parse(mustDocument(t, uiWorkflow))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []Prompt{
		{NodeID: "6", NodeType: "CLIPTextEncode", PromptType: PromptPositive, PromptText: "a mountain lake at dawn"},
		{NodeID: "7", NodeType: "CLIPTextEncode", PromptType: PromptNegative, PromptText: "text, watermark"},
	}
	if !reflect.DeepEqual(res.Prompts, want) {
		t.Errorf("Prompts = %+v, want %+v", res.Prompts, want)
	}

	out, _ := json.Marshal(res.Metadata)
	wantMeta := `{"models":[{"type":"checkpoint","name":"v1-5-pruned-emaonly.safetensors","nodeId":"4"}],` +
		`"samplers":[{"sampler_name":8,"scheduler":"euler","nodeId":"3"}],` +
		`"dimensions":{"width":512,"height":768,"nodeId":"5"},` +
		`"seed":156680208700286,"steps":"randomize","cfg":20,"scheduler":"euler",` +
		`"vaes":[{"name":"vae-ft-mse-840000.safetensors","nodeId":"8"}]}`
	if string(out) != wantMeta {
		t.Errorf("Metadata = %s\nwant %s", out, wantMeta)
	}
	if res.Format != "ui" {
		t.Errorf("Format = %q, want ui", res.Format)
	}
}

func TestKSamplerWidgetPositions(t *testing.T) {
	doc := mustDocument(t, `{"nodes": [{"id": 3, "type": "KSampler", "widgets_values": [123, "fixed", 20, 7, "euler"]}]}`)
	sampler, ok := Normalize(doc).Node("3")
	if !ok {
		t.Fatal("Expected node 3")
	}

	want := map[string]string{"seed": "123", "steps": "fixed", "cfg": "20", "sampler_name": "7", "scheduler": "euler"}
	for name, w := range want {
		v, ok := sampler.Inputs.Literal(name)
		if !ok {
			t.Errorf("Missing input %s", name)
			continue
		}
		if got := fmt.Sprint(v); got != w {
			t.Errorf("%s = %s, want %s", name, got, w)
		}
	}
	if steps, _ := sampler.Inputs.Literal("steps"); steps != "fixed" {
		t.Errorf("Expected steps kept as a string, got %#v", steps)
	}
}

func TestSkipControlAfterGenerate(t *testing.T) {
	p := New(Options{SkipControlAfterGenerate: true})
	res, err := p.Parse(mustDocument(t, uiWorkflow))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, _ := json.Marshal(res.Metadata)
	wantMeta := `{"models":[{"type":"checkpoint","name":"v1-5-pruned-emaonly.safetensors","nodeId":"4"}],` +
		`"samplers":[{"sampler_name":"euler","scheduler":"normal","nodeId":"3"}],` +
		`"dimensions":{"width":512,"height":768,"nodeId":"5"},` +
		`"seed":156680208700286,"steps":20,"cfg":8,"scheduler":"normal",` +
		`"vaes":[{"name":"vae-ft-mse-840000.safetensors","nodeId":"8"}]}`
	if string(out) != wantMeta {
		t.Errorf("Metadata = %s\nwant %s", out, wantMeta)
	}

	// a seed without a control value is mapped as is
	doc := mustDocument(t, `{"nodes": [{"id": 2, "type": "KSamplerAdvanced", "widgets_values": [1, 20, 8, "euler", "normal"]}]}`)
	meta := p.ExtractMetadata(p.Normalize(doc))
	if fmt.Sprint(meta.Steps) != "20" || meta.Scheduler != "normal" {
		t.Errorf("Unexpected metadata %+v", meta)
	}

	if DefaultWidgetLayouts()["KSampler"].ControlAfter != "" {
		t.Error("The option must not change the default layouts")
	}
}

func TestUILinkIDFallback(t *testing.T) {
	// no links table: the link id is taken as the source node id
	doc := mustDocument(t, `{"nodes": [
	  {"id": 7, "type": "CLIPTextEncode", "widgets_values": ["blurry"]},
	  {"id": 9, "type": "KSampler", "inputs": [{"name": "negative", "type": "CONDITIONING", "link": 7}]}
	]}`)
	g := Normalize(doc)

	if got := Classify(g, "7"); got != PromptNegative {
		t.Errorf("Classify() = %v, want negative", got)
	}
}

func TestUIHeaderTypesDoNotDropPrompts(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"string version", `{"version": "0.4", "nodes": [{"id": 7, "type": "CLIPTextEncode", "widgets_values": ["blurry"]}]}`},
		{"string last_node_id", `{"last_node_id": "7", "nodes": [{"id": 7, "type": "CLIPTextEncode", "widgets_values": ["blurry"]}]}`},
		{"links object", `{"links": {}, "nodes": [{"id": 7, "type": "CLIPTextEncode", "widgets_values": ["blurry"]}]}`},
		{"string id", `{"nodes": [{"id": "7", "type": "CLIPTextEncode", "widgets_values": ["blurry"]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(mustDocument(t, tt.doc))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			want := []Prompt{{NodeID: "7", NodeType: "CLIPTextEncode", PromptType: PromptUnknown, PromptText: "blurry"}}
			if !reflect.DeepEqual(res.Prompts, want) {
				t.Errorf("Prompts = %+v, want %+v", res.Prompts, want)
			}
		})
	}
}

func TestUIUnreadableLinksFallBack(t *testing.T) {
	// the links table is not an array: link ids are taken as node ids
	doc := mustDocument(t, `{"links": {"7": [7, 3, 0, 9, 2]}, "nodes": [
	  {"id": 7, "type": "CLIPTextEncode", "widgets_values": ["blurry"]},
	  {"id": 9, "type": "KSampler", "inputs": [{"name": "negative", "type": "CONDITIONING", "link": 7}]}
	]}`)
	g := Normalize(doc)

	sampler, _ := g.Node("9")
	neg, _ := sampler.Inputs.Get("negative")
	if !neg.IsEdge() || *neg.Edge != (EdgeRef{Source: "7", Slot: 0}) {
		t.Errorf("Expected the link id fallback, got %+v", neg)
	}
	if got := Classify(g, "7"); got != PromptNegative {
		t.Errorf("Classify() = %v, want negative", got)
	}
}

func TestUIStringNodeIDs(t *testing.T) {
	doc := mustDocument(t, `{"nodes": [
	  {"id": "7", "type": "CLIPTextEncode", "widgets_values": ["blurry"]},
	  {"id": "sampler", "type": "KSampler", "inputs": [{"name": "negative", "type": "CONDITIONING", "link": 7}]}
	]}`)
	g := Normalize(doc)

	if !reflect.DeepEqual(g.IDs(), []string{"7", "sampler"}) {
		t.Fatalf("IDs() = %v", g.IDs())
	}
	if got := Classify(g, "7"); got != PromptNegative {
		t.Errorf("Classify() = %v, want negative", got)
	}
}

func TestUILinkIDsAsNodeIDs(t *testing.T) {
	p := New(Options{LinkIDsAsNodeIDs: true})
	g := p.Normalize(mustDocument(t, uiWorkflow))

	sampler, _ := g.Node("3")
	neg, _ := sampler.Inputs.Get("negative")
	if *neg.Edge != (EdgeRef{Source: "6", Slot: 0}) {
		t.Errorf("Expected the link id as source, got %+v", neg.Edge)
	}
}

func TestUICLIPTextEncodeRecords(t *testing.T) {
	tests := []struct {
		name    string
		widgets string
		want    []string
	}{
		{"trimmed", `["\n  hello world \t"]`, []string{"hello world"}},
		{"empty string", `[""]`, []string{}},
		{"missing", `[]`, []string{}},
		{"object", `{"text": "x"}`, []string{}},
		{"number", `[3]`, []string{"3"}},
		{"zero", `[0]`, []string{}},
		{"extra values", `["first", "second"]`, []string{"first"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDocument(t, `{"nodes": [{"id": 1, "type": "CLIPTextEncode", "widgets_values": `+tt.widgets+`}]}`)
			prompts := ExtractPrompts(Normalize(doc))
			got := make([]string, 0, len(prompts))
			for _, p := range prompts {
				got = append(got, p.PromptText)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Prompt texts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWidgetLayoutLengthGate(t *testing.T) {
	tests := []struct {
		name      string
		nodeType  string
		widgets   string
		wantSeed  bool
		wantSteps string
	}{
		{"advanced one short", "KSamplerAdvanced", `[1, 20, 8, "euler"]`, false, ""},
		{"advanced full", "KSamplerAdvanced", `[1, 20, 8, "euler", "normal"]`, true, "20"},
		{"short with control", "KSampler", `[1, "fixed", 20, 8]`, false, ""},
		{"full with control", "KSampler", `[1, "fixed", 20, 8, "euler", "karras", 1]`, true, "fixed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDocument(t, `{"nodes": [{"id": 2, "type": "`+tt.nodeType+`", "widgets_values": `+tt.widgets+`}]}`)
			meta := ExtractMetadata(Normalize(doc))

			if (meta.Seed != nil) != tt.wantSeed {
				t.Fatalf("Seed = %v, want set=%v", meta.Seed, tt.wantSeed)
			}
			if !tt.wantSeed {
				if meta.Steps != nil || meta.CFG != nil || meta.Scheduler != nil {
					t.Errorf("Expected no scalar fields, got %+v", meta)
				}
				if len(meta.Samplers) != 1 || meta.Samplers[0].SamplerName != nil {
					t.Errorf("Expected an empty sampler entry, got %+v", meta.Samplers)
				}
				return
			}
			if fmt.Sprint(meta.Steps) != tt.wantSteps {
				t.Errorf("Steps = %v, want %s", meta.Steps, tt.wantSteps)
			}
		})
	}
}

func TestCustomWidgetLayout(t *testing.T) {
	p := New(Options{WidgetLayouts: map[string]WidgetLayout{
		"CLIPTextEncodeSDXLRefiner": {Fields: []string{"ascore", "width", "height", "text"}},
	}})
	doc := mustDocument(t, `{"nodes": [{"id": 1, "type": "CLIPTextEncodeSDXLRefiner", "widgets_values": [6, 1024, 1024, "refined"]}]}`)

	prompts := p.ExtractPrompts(p.Normalize(doc))
	if len(prompts) != 1 || prompts[0].PromptText != "refined" {
		t.Errorf("Expected the custom layout to be used, got %+v", prompts)
	}
	if _, ok := DefaultWidgetLayouts()["CLIPTextEncodeSDXLRefiner"]; ok {
		t.Error("Custom layouts must not leak into the defaults")
	}
}

func TestEdgeWinsOverWidget(t *testing.T) {
	doc := mustDocument(t, `{"nodes": [
	  {"id": 1, "type": "CLIPTextEncode", "widgets_values": ["from widget"],
	   "inputs": [{"name": "text", "type": "STRING", "link": 2}]},
	  {"id": 2, "type": "PrimitiveNode"}
	]}`)
	g := Normalize(doc)

	n, _ := g.Node("1")
	in, _ := n.Inputs.Get("text")
	if !in.IsEdge() || in.Edge.Source != "2" {
		t.Errorf("Expected the edge to replace the widget value, got %+v", in)
	}
	if len(ExtractPrompts(g)) != 0 {
		t.Error("A node whose text comes from an edge has no literal prompt")
	}
}

func TestGraphMarshalAPI(t *testing.T) {
	g := Normalize(mustDocument(t, `{"nodes": [
	  {"id": 2, "type": "CLIPTextEncode", "title": "Negative", "widgets_values": ["bad"], "inputs": [{"name": "clip", "link": 1}]},
	  {"id": 1, "type": "CheckpointLoaderSimple", "widgets_values": ["m.ckpt"]}
	], "links": [[1, 1, 1, 2, 0, "CLIP"]]}`))

	out, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := `{"2":{"inputs":{"text":"bad","clip":["1",1]},"class_type":"CLIPTextEncode","_meta":{"title":"Negative"}},` +
		`"1":{"inputs":{"ckpt_name":"m.ckpt"},"class_type":"CheckpointLoaderSimple","_meta":{"title":"CheckpointLoaderSimple"}}}`
	if string(out) != want {
		t.Errorf("Marshal = %s\nwant %s", out, want)
	}

	// the API rendering of a UI document parses back to the same prompts
	doc, err := ParseDocument(out)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ExtractPrompts(Normalize(doc)), ExtractPrompts(g)) {
		t.Error("Prompts differ after converting to the API format")
	}
}
