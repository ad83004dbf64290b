package parser

import (
	"bytes"
	"encoding/json"
)

// EdgeRef points at an output slot of another node.
type EdgeRef struct {
	Source string
	Slot   int
}

func (e EdgeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Source, e.Slot})
}

// Input is either a literal widget value or an edge from another node.
type Input struct {
	Literal interface{}
	Edge    *EdgeRef
}

func (in Input) IsEdge() bool {
	return in.Edge != nil
}

func (in Input) MarshalJSON() ([]byte, error) {
	if in.Edge != nil {
		return json.Marshal(in.Edge)
	}
	return json.Marshal(in.Literal)
}

// Inputs is the ordered set of named inputs of a node.
type Inputs struct {
	names  []string
	values map[string]Input
}

// set stores v under name. A name that is already present keeps its position.
func (in *Inputs) set(name string, v Input) {
	if in.values == nil {
		in.values = make(map[string]Input)
	}
	if _, ok := in.values[name]; !ok {
		in.names = append(in.names, name)
	}
	in.values[name] = v
}

func (in Inputs) Get(name string) (Input, bool) {
	v, ok := in.values[name]
	return v, ok
}

// Has reports whether the input is present, whatever its value.
func (in Inputs) Has(name string) bool {
	_, ok := in.values[name]
	return ok
}

// Literal returns the literal value of name. Edges report false.
func (in Inputs) Literal(name string) (interface{}, bool) {
	v, ok := in.values[name]
	if !ok || v.IsEdge() {
		return nil, false
	}
	return v.Literal, true
}

// Names returns the input names in document order.
func (in Inputs) Names() []string {
	retv := make([]string, len(in.names))
	copy(retv, in.names)
	return retv
}

func (in Inputs) Len() int {
	return len(in.names)
}

func (in Inputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range in.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(in.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Node is one entry of the canonical graph.
type Node struct {
	ID        string
	ClassType string
	Title     string
	Inputs    Inputs
}

// Graph is the format independent node map every extractor works on. It is
// built once by Normalize and never changes afterwards.
type Graph struct {
	ids   []string
	nodes map[string]Node
}

func newGraph() *Graph {
	return &Graph{
		ids:   make([]string, 0),
		nodes: make(map[string]Node),
	}
}

func (g *Graph) add(n Node) {
	if _, ok := g.nodes[n.ID]; !ok {
		g.ids = append(g.ids, n.ID)
	}
	g.nodes[n.ID] = n
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.ids)
}

// IDs returns the node ids in document order.
func (g *Graph) IDs() []string {
	if g == nil {
		return nil
	}
	retv := make([]string, len(g.ids))
	copy(retv, g.ids)
	return retv
}

func (g *Graph) Node(id string) (Node, bool) {
	if g == nil {
		return Node{}, false
	}
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in document order.
func (g *Graph) Nodes() []Node {
	if g == nil {
		return nil
	}
	retv := make([]Node, 0, len(g.ids))
	for _, id := range g.ids {
		retv = append(retv, g.nodes[id])
	}
	return retv
}

// Connection is an edge leaving a node, seen from the consumer.
type Connection struct {
	TargetNodeID string
	TargetInput  string
	SourceOutput int
}

// Consumers returns every edge whose source is id, in graph order and then
// input order of the consuming node.
func (g *Graph) Consumers(id string) []Connection {
	retv := make([]Connection, 0)
	for _, n := range g.Nodes() {
		for _, name := range n.Inputs.names {
			in := n.Inputs.values[name]
			if in.Edge != nil && in.Edge.Source == id {
				retv = append(retv, Connection{
					TargetNodeID: n.ID,
					TargetInput:  name,
					SourceOutput: in.Edge.Slot,
				})
			}
		}
	}
	return retv
}

// MarshalJSON writes the graph in ComfyUI's API format, keeping node order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	type meta struct {
		Title string `json:"title"`
	}
	type apiNode struct {
		Inputs    Inputs `json:"inputs"`
		ClassType string `json:"class_type"`
		Meta      *meta  `json:"_meta,omitempty"`
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range g.Nodes() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(n.ID)
		if err != nil {
			return nil, err
		}
		an := apiNode{Inputs: n.Inputs, ClassType: n.ClassType}
		if n.Title != "" {
			an.Meta = &meta{Title: n.Title}
		}
		vb, err := json.Marshal(an)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
