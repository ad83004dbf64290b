package graphapi

import "encoding/json"

// Slot represents a connection point within a GraphNode.
type Slot struct {
	Name  string   `json:"name"`            // The name of the slot, matches the API input name
	Type  SlotType `json:"type"`            // The type of the data the slot accepts
	Link  *int     `json:"link,omitempty"`  // Id of the link feeding an input slot, nil when unconnected
	Links []int    `json:"links,omitempty"` // Ids of the links leaving an output slot
}

// SlotType is the data type name of a slot. Some custom nodes write a list of
// accepted types instead of a single name; those are kept as their JSON text.
type SlotType string

func (st *SlotType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*st = SlotType(s)
		return nil
	}
	if IsNull(b) {
		*st = ""
		return nil
	}
	*st = SlotType(b)
	return nil
}
