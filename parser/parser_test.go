package parser

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func mustDocument(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(s))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	return doc
}

const apiWorkflow = `{
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd_xl_base-1.0.safetensors"}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "  a cat on a sofa  ", "clip": ["4", 1]}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry", "clip": ["4", 1]}},
  "5": {"class_type": "EmptyLatentImage", "inputs": {"width": 1024, "height": 768, "batch_size": 1}},
  "3": {"class_type": "KSampler", "inputs": {
      "seed": 156680208700286, "steps": 20, "cfg": 8, "sampler_name": "euler", "scheduler": "normal",
      "denoise": 1, "model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0], "latent_image": ["5", 0]}},
  "8": {"class_type": "VAEDecode", "inputs": {"samples": ["3", 0], "vae": ["4", 2]}},
  "10": {"class_type": "VAELoader", "inputs": {"vae_name": "sdxl_vae.safetensors"}},
  "version": 1
}`

func TestDocumentFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		format   Format
		isObject bool
	}{
		{"api", `{"3": {"class_type": "KSampler"}}`, FormatAPI, true},
		{"api wins over nodes", `{"nodes": [], "1": {}}`, FormatAPI, true},
		{"ui", `{"nodes": [{"id": 1, "type": "Note"}], "links": []}`, FormatUI, true},
		{"nodes not array", `{"nodes": {"1": {}}}`, FormatUnknown, true},
		{"negative key", `{"-1": {"class_type": "X"}}`, FormatUnknown, true},
		{"array", `[1, 2]`, FormatUnknown, false},
		{"null", `null`, FormatUnknown, false},
		{"empty", `{}`, FormatUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDocument(t, tt.input)
			if doc.Format() != tt.format {
				t.Errorf("Format() = %v, want %v", doc.Format(), tt.format)
			}
			if doc.IsObject() != tt.isObject {
				t.Errorf("IsObject() = %v, want %v", doc.IsObject(), tt.isObject)
			}
		})
	}

	if _, err := ParseDocument([]byte(`{"1": `)); !errors.Is(err, ErrMalformedJSON) {
		t.Errorf("Expected ErrMalformedJSON, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"valid api", apiWorkflow, ""},
		{"valid ui", `{"nodes": [{"id": 1, "type": "CLIPTextEncode"}]}`, ""},
		{"array", `[]`, "Invalid JSON: not an object"},
		{"null", `null`, "Invalid JSON: not an object"},
		{"string", `"workflow"`, "Invalid JSON: not an object"},
		{"empty", `{}`, "Invalid JSON: empty workflow"},
		{"no nodes", `{"version": 1}`, "Invalid JSON: no nodes found"},
		{"empty nodes", `{"nodes": []}`, "Invalid JSON: no nodes found"},
		{"missing class_type", `{"1": {"class_type": "A"}, "2": {"inputs": {}}}`, "Invalid node 2: missing class_type"},
		{"empty class_type", `{"9": {"class_type": ""}}`, "Invalid node 9: missing class_type"},
		{"null node", `{"9": null}`, "Invalid node 9: missing class_type"},
		{"ui missing type", `{"nodes": [{"id": 1, "type": "A"}, {"id": 12}]}`, "Invalid node 12: missing type"},
		{"ui missing id and type", `{"nodes": [{"id": 1, "type": "A"}, {}]}`, "Invalid node 1: missing type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(mustDocument(t, tt.input))
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.reason {
				t.Fatalf("Validate() = %v, want %q", err, tt.reason)
			}
			if !errors.Is(err, ErrInvalidWorkflow) {
				t.Errorf("Expected error to match ErrInvalidWorkflow")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Reason != tt.reason {
				t.Errorf("Expected a *ValidationError with reason %q", tt.reason)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	res := Check(mustDocument(t, `{}`))
	out, _ := json.Marshal(res)
	if string(out) != `{"valid":false,"error":"Invalid JSON: empty workflow"}` {
		t.Errorf("Unexpected result %s", out)
	}

	res = Check(mustDocument(t, apiWorkflow))
	out, _ = json.Marshal(res)
	if string(out) != `{"valid":true,"error":null}` {
		t.Errorf("Unexpected result %s", out)
	}
}

func TestNormalizeAPIIsIdentity(t *testing.T) {
	doc := mustDocument(t, apiWorkflow)
	g := Normalize(doc)

	wantIDs := []string{"4", "6", "7", "5", "3", "8", "10"}
	if !reflect.DeepEqual(g.IDs(), wantIDs) {
		t.Fatalf("IDs() = %v, want %v", g.IDs(), wantIDs)
	}

	for _, id := range wantIDs {
		raw, _ := doc.Member(id)
		var original struct {
			ClassType string          `json:"class_type"`
			Inputs    json.RawMessage `json:"inputs"`
		}
		if err := json.Unmarshal(raw, &original); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		n, ok := g.Node(id)
		if !ok {
			t.Fatalf("Missing node %s", id)
		}
		if n.ClassType != original.ClassType {
			t.Errorf("Node %s class type %q, want %q", id, n.ClassType, original.ClassType)
		}

		got, err := json.Marshal(n.Inputs)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		var compact strings.Builder
		compactJSON(t, &compact, original.Inputs)
		if string(got) != compact.String() {
			t.Errorf("Node %s inputs %s, want %s", id, got, compact.String())
		}
	}

	sampler, _ := g.Node("3")
	in, _ := sampler.Inputs.Get("positive")
	if !in.IsEdge() || in.Edge.Source != "6" || in.Edge.Slot != 0 {
		t.Errorf("Expected positive to be an edge from 6, got %+v", in)
	}
}

func compactJSON(t *testing.T, sb *strings.Builder, raw json.RawMessage) {
	t.Helper()
	// re-encode through the ordered model so key order is preserved
	doc, err := ParseDocument(raw)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var in Inputs
	for _, k := range doc.Keys() {
		m, _ := doc.Member(k)
		var val interface{}
		d := json.NewDecoder(strings.NewReader(string(m)))
		d.UseNumber()
		if err := d.Decode(&val); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		in.set(k, Input{Literal: val})
	}
	out, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	sb.Write(out)
}

func TestExtractPromptsAPI(t *testing.T) {
	res, err := Parse(mustDocument(t, apiWorkflow))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []Prompt{
		{NodeID: "6", NodeType: "CLIPTextEncode", PromptType: PromptPositive, PromptText: "a cat on a sofa"},
		{NodeID: "7", NodeType: "CLIPTextEncode", PromptType: PromptNegative, PromptText: "blurry"},
	}
	if !reflect.DeepEqual(res.Prompts, want) {
		t.Errorf("Prompts = %+v, want %+v", res.Prompts, want)
	}
	if res.Format != "api" {
		t.Errorf("Format = %q, want api", res.Format)
	}
}

func TestScenarioTitleAndSampler(t *testing.T) {
	doc := mustDocument(t, `{ "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "a cat"} , "_meta": {"title":"Positive"}}, "5": {"class_type":"KSampler","inputs":{"positive": ["3",0]}}}`)
	prompts := ExtractPrompts(Normalize(doc))

	want := []Prompt{{NodeID: "3", NodeType: "CLIPTextEncode", PromptType: PromptPositive, PromptText: "a cat"}}
	if !reflect.DeepEqual(prompts, want) {
		t.Errorf("Prompts = %+v, want %+v", prompts, want)
	}
}

func TestPromptTextSelection(t *testing.T) {
	tests := []struct {
		name   string
		inputs string
		want   string
		found  bool
	}{
		{"text first", `{"prompt": "b", "text": "a"}`, "a", true},
		{"prompt when text empty", `{"text": "", "prompt": "b"}`, "b", true},
		{"positive", `{"positive": "p", "negative": "n"}`, "p", true},
		{"negative only", `{"negative": "n"}`, "n", true},
		{"edge skipped", `{"text": ["1", 0], "prompt": "b"}`, "b", true},
		{"zero ignored", `{"text": 0}`, "", false},
		{"false ignored", `{"text": false, "prompt": "b"}`, "b", true},
		{"number wins", `{"text": 42, "prompt": "b"}`, "42", true},
		{"float kept as written", `{"text": 1.50}`, "1.50", true},
		{"true", `{"text": true}`, "true", true},
		{"whitespace kept as empty", `{"text": "   "}`, "", true},
		{"none", `{"clip": ["1", 1]}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDocument(t, `{"1": {"class_type": "CLIPTextEncode", "inputs": `+tt.inputs+`}}`)
			prompts := ExtractPrompts(Normalize(doc))
			if !tt.found {
				if len(prompts) != 0 {
					t.Fatalf("Expected no prompt, got %+v", prompts)
				}
				return
			}
			if len(prompts) != 1 || prompts[0].PromptText != tt.want {
				t.Fatalf("Expected prompt %q, got %+v", tt.want, prompts)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want PromptType
	}{
		{
			"title with both words is negative",
			`{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}, "_meta": {"title": "Positive / NEGATIVE"}}}`,
			PromptNegative,
		},
		{
			"title positive without consumers",
			`{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}, "_meta": {"title": "Positive Prompt"}}}`,
			PromptPositive,
		},
		{
			"input key negative",
			`{"1": {"class_type": "ConditioningSetArea", "inputs": {"negative": null, "positive": "x"}}}`,
			PromptNegative,
		},
		{
			"sampler negative input",
			`{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}}, "2": {"class_type": "KSamplerAdvanced", "inputs": {"negative": ["1", 0]}}}`,
			PromptNegative,
		},
		{
			"non sampler consumer ignored",
			`{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}}, "2": {"class_type": "ConditioningCombine", "inputs": {"negative": ["1", 0]}}}`,
			PromptUnknown,
		},
		{
			"first matching consumer wins",
			`{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}},
			  "2": {"class_type": "KSampler", "inputs": {"model": ["1", 0], "positive": ["1", 0]}},
			  "3": {"class_type": "KSampler", "inputs": {"negative": ["1", 0]}}}`,
			PromptPositive,
		},
		{
			"nothing matches",
			`{"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}}}`,
			PromptUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Normalize(mustDocument(t, tt.doc))
			if got := Classify(g, "1"); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := Classify(newGraph(), "99"); got != PromptUnknown {
		t.Errorf("Classify() of a missing node = %v, want unknown", got)
	}
}

func TestMetadataAPI(t *testing.T) {
	g := Normalize(mustDocument(t, apiWorkflow))
	meta := ExtractMetadata(g)

	out, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := `{"models":[{"type":"checkpoint","name":"sd_xl_base-1.0.safetensors","nodeId":"4"}],` +
		`"samplers":[{"sampler_name":"euler","scheduler":"normal","nodeId":"3"}],` +
		`"dimensions":{"width":1024,"height":768,"nodeId":"5"},` +
		`"seed":156680208700286,"steps":20,"cfg":8,"scheduler":"normal",` +
		`"vaes":[{"name":"sdxl_vae.safetensors","nodeId":"10"}]}`
	if string(out) != want {
		t.Errorf("Metadata = %s\nwant %s", out, want)
	}

	again, _ := json.Marshal(ExtractMetadata(g))
	if string(again) != string(out) {
		t.Errorf("Metadata extraction is not idempotent:\n%s\n%s", out, again)
	}
}

func TestMetadataLastWriterWins(t *testing.T) {
	doc := mustDocument(t, `{
	  "1": {"class_type": "KSampler", "inputs": {"seed": 1, "steps": 10, "cfg": 7, "scheduler": "karras", "sampler_name": "euler"}},
	  "2": {"class_type": "KSamplerAdvanced", "inputs": {"seed": ["9", 0], "steps": 30}},
	  "3": {"class_type": "EmptyLatentImage", "inputs": {"width": 512, "height": 512}},
	  "4": {"class_type": "LatentUpscale", "inputs": {"width": 0, "height": 1024}},
	  "5": {"class_type": "CheckpointLoader", "inputs": {"ckpt_name": ""}}
	}`)
	meta := ExtractMetadata(Normalize(doc))

	if meta.Seed.(json.Number).String() != "1" {
		t.Errorf("An edge must not overwrite the seed, got %v", meta.Seed)
	}
	if meta.Steps.(json.Number).String() != "30" {
		t.Errorf("Expected steps of the last sampler, got %v", meta.Steps)
	}
	if meta.Scheduler != "karras" || meta.CFG.(json.Number).String() != "7" {
		t.Errorf("Unexpected scheduler/cfg %v %v", meta.Scheduler, meta.CFG)
	}
	if len(meta.Samplers) != 2 || meta.Samplers[1].SamplerName != nil {
		t.Errorf("Unexpected samplers %+v", meta.Samplers)
	}
	if meta.Dimensions == nil || meta.Dimensions.NodeID != "3" {
		t.Errorf("Zero width must not replace dimensions, got %+v", meta.Dimensions)
	}
	if len(meta.Models) != 0 {
		t.Errorf("Empty checkpoint names must be skipped, got %+v", meta.Models)
	}
}

func TestEmptySections(t *testing.T) {
	meta := ExtractMetadata(nil)
	out, _ := json.Marshal(meta)
	want := `{"models":[],"samplers":[],"dimensions":null,"seed":null,"steps":null,"cfg":null,"scheduler":null,"vaes":[]}`
	if string(out) != want {
		t.Errorf("Metadata = %s, want %s", out, want)
	}
	if prompts := ExtractPrompts(nil); prompts == nil || len(prompts) != 0 {
		t.Errorf("Expected an empty prompt list, got %#v", prompts)
	}
}

func TestParseRejectsBeforeExtraction(t *testing.T) {
	_, err := Parse(mustDocument(t, `{"1": {"inputs": {"text": "x"}}}`))
	if !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("Expected a validation error, got %v", err)
	}
}

func TestRoundTripValidation(t *testing.T) {
	docs := []string{
		apiWorkflow,
		`{"nodes": [{"id": 1, "type": "CLIPTextEncode", "widgets_values": ["x"]}]}`,
	}
	for _, s := range docs {
		doc := mustDocument(t, s)
		g := Normalize(doc)
		if g.Len() == 0 {
			t.Fatalf("Expected a non-empty graph for %s", s)
		}
		for _, n := range g.Nodes() {
			if n.ClassType == "" {
				t.Fatalf("Node %s has no class type", n.ID)
			}
		}
		if !Check(doc).Valid {
			t.Errorf("Expected %s to validate", s)
		}
	}
}

func TestGenerateName(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))

	meta := newMetadata()
	if got := GenerateName(meta, now); got != "Workflow - 2024-03-01" {
		t.Errorf("GenerateName() = %q", got)
	}

	meta.Models = append(meta.Models,
		Model{Type: "checkpoint", Name: "sd_xl_base-1.0.safetensors", NodeID: "4"},
		Model{Type: "checkpoint", Name: "other.ckpt", NodeID: "5"},
	)
	if got := GenerateName(meta, now); got != "sd xl base 1.0 - 2024-03-01" {
		t.Errorf("GenerateName() = %q", got)
	}

	if got := DisplayName("  My run ", meta, now); got != "My run" {
		t.Errorf("DisplayName() = %q", got)
	}
	if got := DisplayName(" ", meta, now); got != "sd xl base 1.0 - 2024-03-01" {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestExtendedNodeTypes(t *testing.T) {
	types := DefaultNodeTypes().Extend(ExtraNodeTypes{Prompt: []string{"CLIPTextEncodeFlux"}})
	p := New(Options{NodeTypes: &types})

	doc := mustDocument(t, `{"1": {"class_type": "CLIPTextEncodeFlux", "inputs": {"prompt": "flux"}}}`)
	res, err := p.Parse(doc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Prompts) != 1 || res.Prompts[0].PromptText != "flux" {
		t.Errorf("Expected the extra prompt type to be recognized, got %+v", res.Prompts)
	}

	if DefaultNodeTypes().Prompt.Has("CLIPTextEncodeFlux") {
		t.Error("Extending must not change the default node types")
	}
	if len(ExtractPrompts(Normalize(doc))) != 0 {
		t.Error("The default parser must not see the extra prompt type")
	}
}

func TestLoadDocument(t *testing.T) {
	tests := map[string]string{
		`{"1": `:                "Invalid JSON: malformed JSON",
		`[]`:                    "Invalid JSON: not an object",
		`{"1": {"inputs": {}}}`: "Invalid node 1: missing class_type",
	}
	for input, want := range tests {
		_, err := LoadDocument([]byte(input))
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Reason != want {
			t.Errorf("LoadDocument(%s) = %v, want %q", input, err, want)
		}
	}

	doc, err := LoadDocument([]byte(` {"3": {"class_type": "KSampler", "inputs": {}}} `))
	if err != nil || doc.Format() != FormatAPI {
		t.Errorf("LoadDocument = %v, %v", doc, err)
	}
}
