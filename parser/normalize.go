package parser

import (
	"encoding/json"
	"strconv"

	"github.com/KANAsho116/PromptStorage/graphapi"
)

// Normalize builds the canonical graph of doc. It never fails: documents
// without a usable shape produce an empty graph and are rejected by Validate.
func (p *Parser) Normalize(doc *Document) (g *Graph) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Error normalizing workflow", "error", r)
			g = newGraph()
		}
	}()

	if doc == nil {
		return newGraph()
	}
	switch doc.Format() {
	case FormatAPI:
		return p.normalizeAPI(doc)
	case FormatUI:
		return p.normalizeUI(doc)
	default:
		return newGraph()
	}
}

func (p *Parser) normalizeAPI(doc *Document) *Graph {
	g := newGraph()
	for _, id := range doc.NodeKeys() {
		var pn graphapi.PromptNode
		if err := json.Unmarshal(doc.members[id], &pn); err != nil {
			p.logger.Debug("Skipping unreadable node", "node", id, "error", err)
			continue
		}

		n := Node{ID: id, ClassType: pn.ClassType, Title: pn.Title()}
		for _, name := range pn.Inputs.Keys {
			n.Inputs.set(name, apiInput(pn.Inputs.Values[name]))
		}
		g.add(n)
	}
	return g
}

// apiInput turns an API-format input value into an Input. A two element array
// of a node id string and an output slot number is an edge.
func apiInput(v interface{}) Input {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return Input{Literal: v}
	}
	source, ok := arr[0].(string)
	if !ok {
		return Input{Literal: v}
	}
	num, ok := arr[1].(json.Number)
	if !ok {
		return Input{Literal: v}
	}
	slot, err := strconv.Atoi(num.String())
	if err != nil {
		return Input{Literal: v}
	}
	return Input{Edge: &EdgeRef{Source: source, Slot: slot}}
}

func (p *Parser) normalizeUI(doc *Document) *Graph {
	g := newGraph()

	ui := &graphapi.Graph{}
	if err := json.Unmarshal(doc.raw, ui); err != nil {
		p.logger.Debug("Unreadable UI workflow", "error", err)
		return g
	}

	for _, gn := range ui.Nodes {
		g.add(Node{
			ID:        gn.Key,
			ClassType: gn.Type,
			Title:     gn.DisplayTitle(),
			Inputs:    p.decodeInputs(gn),
		})
	}
	return g
}

// decodeInputs merges a UI node's widget values and connected input slots into
// named inputs. Slot edges are added last and win on a name collision.
func (p *Parser) decodeInputs(gn *graphapi.GraphNode) Inputs {
	var in Inputs

	if layout, ok := p.layouts[gn.Type]; ok {
		if values, ok := gn.WidgetValuesArray(); ok {
			layout.decode(values, func(name string, v interface{}) {
				in.set(name, Input{Literal: v})
			})
		}
	}

	for _, slot := range gn.Inputs {
		if slot.Link == nil || slot.Name == "" {
			continue
		}
		edge := p.resolveLink(gn.Graph, *slot.Link)
		in.set(slot.Name, Input{Edge: &edge})
	}
	return in
}

// resolveLink finds the output a link id comes from. When the link table has
// no entry for it, or link resolution is turned off, the link id is taken as
// the source node id with output slot 0.
func (p *Parser) resolveLink(ui *graphapi.Graph, linkID int) EdgeRef {
	if !p.linkIDsAsNodeIDs && ui != nil {
		if l := ui.GetLinkById(linkID); l != nil {
			return EdgeRef{Source: strconv.Itoa(l.OriginID), Slot: l.OriginSlot}
		}
	}
	return EdgeRef{Source: strconv.Itoa(linkID), Slot: 0}
}
