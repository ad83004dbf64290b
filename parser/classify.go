package parser

import "strings"

// Classify decides whether the prompt node id of g is positive or negative
// conditioning. The node title is checked first, then its own input names,
// then the sampler inputs its output is wired into.
func (p *Parser) Classify(g *Graph, id string) PromptType {
	n, ok := g.Node(id)
	if !ok {
		return PromptUnknown
	}
	return p.classifyNode(n, g)
}

func (p *Parser) classifyNode(n Node, g *Graph) PromptType {
	title := strings.ToLower(n.Title)
	if strings.Contains(title, "negative") {
		return PromptNegative
	}
	if strings.Contains(title, "positive") {
		return PromptPositive
	}

	if n.Inputs.Has("negative") {
		return PromptNegative
	}
	if n.Inputs.Has("positive") {
		return PromptPositive
	}

	for _, c := range g.Consumers(n.ID) {
		target, ok := g.Node(c.TargetNodeID)
		if !ok || !p.types.Sampler.Has(target.ClassType) {
			continue
		}
		switch c.TargetInput {
		case "negative":
			return PromptNegative
		case "positive":
			return PromptPositive
		}
	}

	return PromptUnknown
}
