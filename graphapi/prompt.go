package graphapi

import (
	"encoding/json"
	"log/slog"
)

// PromptNode is one entry of an API-format workflow, the shape ComfyUI accepts on
// POST /prompt and writes into the "prompt" PNG chunk.
type PromptNode struct {
	// Inputs can be one of:
	//	json.Number
	//	string
	//	bool
	//	[]interface{} where: [0] is string of source node
	//					     [1] is json.Number of the source output slot
	Inputs    *OrderedInputs  `json:"inputs"`
	ClassType string          `json:"class_type"`
	Meta      *PromptNodeMeta `json:"_meta,omitempty"`
}

type PromptNodeMeta struct {
	Title string `json:"title"`
}

// Title returns the node's _meta.title or an empty string.
func (n *PromptNode) Title() string {
	if n.Meta == nil {
		return ""
	}
	return n.Meta.Title
}

func (n *PromptNode) UnmarshalJSON(b []byte) error {
	var temp struct {
		ClassType string          `json:"class_type"`
		Inputs    json.RawMessage `json:"inputs"`
		Meta      json.RawMessage `json:"_meta"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	n.ClassType = temp.ClassType
	n.Inputs = NewOrderedInputs()
	if !IsNull(temp.Inputs) {
		if err := n.Inputs.UnmarshalJSON(temp.Inputs); err != nil {
			// a node with unreadable inputs still has a class type
			slog.Debug("Ignoring unreadable inputs", "class_type", n.ClassType, "error", err)
			n.Inputs = NewOrderedInputs()
		}
	}

	n.Meta = nil
	if !IsNull(temp.Meta) {
		meta := &PromptNodeMeta{}
		if err := json.Unmarshal(temp.Meta, meta); err == nil {
			n.Meta = meta
		}
	}
	return nil
}

// OrderedInputs keeps the inputs of a PromptNode in document order.
type OrderedInputs struct {
	Keys   []string
	Values map[string]interface{}
}

func NewOrderedInputs() *OrderedInputs {
	return &OrderedInputs{
		Keys:   make([]string, 0),
		Values: make(map[string]interface{}),
	}
}

func (oi *OrderedInputs) UnmarshalJSON(b []byte) error {
	keys, members, err := DecodeOrderedObject(b)
	if err != nil {
		return err
	}

	oi.Keys = keys
	oi.Values = make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, err := DecodeValue(members[k])
		if err != nil {
			return err
		}
		oi.Values[k] = v
	}
	return nil
}

func (oi *OrderedInputs) MarshalJSON() ([]byte, error) {
	// keep the key order when writing the inputs back out
	buf := []byte{'{'}
	for i, k := range oi.Keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(oi.Values[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
