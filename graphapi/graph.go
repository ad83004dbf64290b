package graphapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Graph is a UI-format workflow, the shape the ComfyUI frontend saves and writes
// into the "workflow" PNG chunk.
type Graph struct {
	Nodes      []*GraphNode       `json:"nodes"`
	Links      []*Link            `json:"links"`
	LastNodeID int                `json:"last_node_id"`
	LastLinkID int                `json:"last_link_id"`
	Version    float32            `json:"version"`
	NodesByID  map[int]*GraphNode `json:"-"`
	LinksByID  map[int]*Link      `json:"-"`
}

func (t *Graph) UnmarshalJSON(b []byte) error {
	// Only the node list has to be readable. Nodes and links are decoded one
	// at a time so that a single element written by an unusual custom node
	// does not make the whole graph unreadable, and header fields of an
	// unexpected type are ignored.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	var rawNodes []json.RawMessage
	if raw := fields["nodes"]; !IsNull(raw) {
		if err := json.Unmarshal(raw, &rawNodes); err != nil {
			return fmt.Errorf("nodes: %w", err)
		}
	}

	// an unreadable links table is treated as a missing one
	var rawLinks []json.RawMessage
	if raw := fields["links"]; !IsNull(raw) {
		if err := json.Unmarshal(raw, &rawLinks); err != nil {
			slog.Debug("Ignoring unreadable links table", "error", err)
			rawLinks = nil
		}
	}

	*t = Graph{
		Nodes:     make([]*GraphNode, 0, len(rawNodes)),
		Links:     make([]*Link, 0, len(rawLinks)),
		NodesByID: make(map[int]*GraphNode),
		LinksByID: make(map[int]*Link),
	}
	decodeHeader(fields, "last_node_id", &t.LastNodeID)
	decodeHeader(fields, "last_link_id", &t.LastLinkID)
	decodeHeader(fields, "version", &t.Version)

	for i, raw := range rawNodes {
		node := &GraphNode{}
		if err := json.Unmarshal(raw, node); err != nil {
			slog.Warn("Skipping unreadable node", "index", i, "error", err)
			continue
		}
		// Give the node a pointer to it's parent graph
		node.Graph = t
		t.Nodes = append(t.Nodes, node)
		if node.Key == strconv.Itoa(node.ID) {
			t.NodesByID[node.ID] = node
		}
	}

	for i, raw := range rawLinks {
		if IsNull(raw) {
			continue
		}
		link := &Link{}
		if err := json.Unmarshal(raw, link); err != nil {
			slog.Warn("Skipping unreadable link", "index", i, "error", err)
			continue
		}
		t.Links = append(t.Links, link)
		t.LinksByID[link.ID] = link
	}

	return nil
}

func decodeHeader(fields map[string]json.RawMessage, name string, v interface{}) {
	raw := fields[name]
	if IsNull(raw) {
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		slog.Debug("Ignoring workflow header field", "field", name, "error", err)
	}
}

func (t *Graph) GetLinkById(id int) *Link {
	val, ok := t.LinksByID[id]
	if ok {
		return val
	}
	return nil
}

func (t *Graph) GetNodeById(id int) *GraphNode {
	val, ok := t.NodesByID[id]
	if ok {
		return val
	}
	return nil
}

// GetNodesWithType retrieves all nodes in the graph that match a specified type.
//
// Parameters:
//   - nodeType: The type of node to filter by.
//
// Returns:
//   - A slice of pointers to GraphNodes that match the specified type.
func (t *Graph) GetNodesWithType(nodeType string) []*GraphNode {
	retv := make([]*GraphNode, 0)
	for _, n := range t.Nodes {
		if n.Type == nodeType {
			retv = append(retv, n)
		}
	}
	return retv
}

func NewGraphFromJsonReader(r io.Reader) (*Graph, error) {
	fileContent, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	graph := &Graph{}
	err = json.Unmarshal(fileContent, graph)
	if err != nil {
		return nil, err
	}
	return graph, nil
}

func NewGraphFromJsonFile(path string) (*Graph, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewGraphFromJsonReader(freader)
}

func NewGraphFromJsonString(data string) (*Graph, error) {
	return NewGraphFromJsonReader(strings.NewReader(data))
}
