package parser

import "encoding/json"

type Model struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	NodeID string `json:"nodeId"`
}

type Sampler struct {
	SamplerName interface{} `json:"sampler_name,omitempty"`
	Scheduler   interface{} `json:"scheduler,omitempty"`
	NodeID      string      `json:"nodeId"`
}

type Dimensions struct {
	Width  interface{} `json:"width"`
	Height interface{} `json:"height"`
	NodeID string      `json:"nodeId"`
}

type VAE struct {
	Name   string `json:"name"`
	NodeID string `json:"nodeId"`
}

// Metadata summarizes the generation settings of a workflow. The scalar
// fields hold the values of the last sampler node in graph order.
type Metadata struct {
	Models     []Model     `json:"models"`
	Samplers   []Sampler   `json:"samplers"`
	Dimensions *Dimensions `json:"dimensions"`
	Seed       interface{} `json:"seed"`
	Steps      interface{} `json:"steps"`
	CFG        interface{} `json:"cfg"`
	Scheduler  interface{} `json:"scheduler"`
	VAEs       []VAE       `json:"vaes"`
}

func newMetadata() Metadata {
	return Metadata{
		Models:   make([]Model, 0),
		Samplers: make([]Sampler, 0),
		VAEs:     make([]VAE, 0),
	}
}

// Field is one key of a Metadata summary.
type Field struct {
	Key   string
	Value interface{}
}

// Fields lists the summary as key/value pairs in a fixed order, the way it
// is stored next to a workflow.
func (m Metadata) Fields() []Field {
	return []Field{
		{"models", m.Models},
		{"samplers", m.Samplers},
		{"dimensions", m.Dimensions},
		{"seed", m.Seed},
		{"steps", m.Steps},
		{"cfg", m.CFG},
		{"scheduler", m.Scheduler},
		{"vaes", m.VAEs},
	}
}

// ExtractMetadata scans g once and aggregates the model, sampler, size and VAE
// settings. A failure while scanning is logged and yields an empty summary.
func (p *Parser) ExtractMetadata(g *Graph) (meta Metadata) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Error extracting metadata", "error", r)
			meta = newMetadata()
		}
	}()

	meta = newMetadata()
	for _, n := range g.Nodes() {
		in := n.Inputs

		if p.types.Checkpoint.Has(n.ClassType) {
			if name, ok := stringLiteral(in, "ckpt_name"); ok {
				meta.Models = append(meta.Models, Model{Type: "checkpoint", Name: name, NodeID: n.ID})
			}
		}

		if p.types.Sampler.Has(n.ClassType) {
			s := Sampler{NodeID: n.ID}
			s.SamplerName, _ = in.Literal("sampler_name")
			s.Scheduler, _ = in.Literal("scheduler")
			meta.Samplers = append(meta.Samplers, s)

			if v, ok := in.Literal("seed"); ok {
				meta.Seed = v
			}
			if v, ok := in.Literal("steps"); ok {
				meta.Steps = v
			}
			if v, ok := in.Literal("cfg"); ok {
				meta.CFG = v
			}
			if v, ok := in.Literal("scheduler"); ok {
				meta.Scheduler = v
			}
		}

		if p.types.Latent.Has(n.ClassType) {
			w, wok := in.Literal("width")
			h, hok := in.Literal("height")
			if wok && hok && truthy(w) && truthy(h) {
				meta.Dimensions = &Dimensions{Width: w, Height: h, NodeID: n.ID}
			}
		}

		if p.types.VAE.Has(n.ClassType) {
			if name, ok := stringLiteral(in, "vae_name"); ok {
				meta.VAEs = append(meta.VAEs, VAE{Name: name, NodeID: n.ID})
			}
		}
	}
	return meta
}

func stringLiteral(in Inputs, name string) (string, bool) {
	v, ok := in.Literal(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// truthy reports whether v is a set value: not null, false, zero or empty.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
