package graphapi

import (
	"encoding/json"
	"strconv"
)

// GraphNode is a single node of a UI-format workflow
type GraphNode struct {
	// ID is the numeric node id. Key is the id as text and also covers the
	// string ids some tools write, for which ID stays zero.
	ID           int             `json:"id"`
	Key          string          `json:"-"`
	Type         string          `json:"type"`
	Title        string          `json:"title,omitempty"`
	Mode         int             `json:"mode"`
	Order        int             `json:"order"`
	WidgetValues json.RawMessage `json:"widgets_values,omitempty"`
	Inputs       []Slot          `json:"inputs,omitempty"`
	Outputs      []Slot          `json:"outputs,omitempty"`
	Graph        *Graph          `json:"-"`
}

func (n *GraphNode) UnmarshalJSON(b []byte) error {
	type plain GraphNode
	var temp struct {
		plain
		ID    json.RawMessage `json:"id"`
		Title json.RawMessage `json:"title"`
		Mode  json.RawMessage `json:"mode"`
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	*n = GraphNode(temp.plain)
	n.Key, n.ID = nodeKey(temp.ID)
	// presentation fields of another type are left empty
	_ = json.Unmarshal(temp.Title, &n.Title)
	_ = json.Unmarshal(temp.Mode, &n.Mode)
	_ = json.Unmarshal(temp.Order, &n.Order)
	return nil
}

// nodeKey formats a raw id the way the frontend prints it with String(id).
// The numeric form is returned as well when the id is a whole number.
func nodeKey(raw json.RawMessage) (string, int) {
	if len(raw) == 0 {
		return "undefined", 0
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return string(raw), 0
	}

	switch id := v.(type) {
	case nil:
		return "null", 0
	case string:
		return id, 0
	case bool:
		return strconv.FormatBool(id), 0
	case json.Number:
		f, err := id.Float64()
		if err != nil {
			return id.String(), 0
		}
		if i := int(f); float64(i) == f {
			return strconv.Itoa(i), i
		}
		return strconv.FormatFloat(f, 'f', -1, 64), 0
	}
	return string(raw), 0
}

// DisplayTitle returns the user assigned title, or the node type when the node
// was never renamed.
func (n *GraphNode) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.Type
}

// WidgetValuesArray returns the node's widget values when they are stored as a
// positional array. Some custom nodes store an object instead, in which case ok
// is false.
func (n *GraphNode) WidgetValuesArray() ([]interface{}, bool) {
	if IsNull(n.WidgetValues) {
		return nil, false
	}
	v, err := DecodeValue(n.WidgetValues)
	if err != nil {
		return nil, false
	}
	values, ok := v.([]interface{})
	return values, ok
}

func (n *GraphNode) GetInputLink(slotIndex int) *Link {
	ncount := len(n.Inputs)
	if ncount == 0 || slotIndex >= ncount || n.Graph == nil {
		return nil
	}

	slot := n.Inputs[slotIndex]
	if slot.Link == nil {
		return nil
	}
	return n.Graph.GetLinkById(*slot.Link)
}

func (n *GraphNode) GetNodeForInput(slotIndex int) *GraphNode {
	l := n.GetInputLink(slotIndex)
	if l == nil {
		return nil
	}
	return n.Graph.GetNodeById(l.OriginID)
}

func (n *GraphNode) GetInputWithName(name string) *Slot {
	for i, s := range n.Inputs {
		if s.Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}
