package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type PromptType string

const (
	PromptPositive PromptType = "positive"
	PromptNegative PromptType = "negative"
	PromptUnknown  PromptType = "unknown"
)

// Prompt is the text carried by one prompt-bearing node.
type Prompt struct {
	NodeID     string     `json:"nodeId"`
	NodeType   string     `json:"nodeType"`
	PromptType PromptType `json:"promptType"`
	PromptText string     `json:"promptText"`
}

// inputs checked for prompt text, in priority order
var promptTextInputs = []string{"text", "prompt", "positive", "negative"}

// ExtractPrompts returns one Prompt per prompt-bearing node that carries text,
// in graph order. A failure while scanning is logged and yields no prompts.
func (p *Parser) ExtractPrompts(g *Graph) (prompts []Prompt) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Error extracting prompts", "error", r)
			prompts = []Prompt{}
		}
	}()

	prompts = make([]Prompt, 0)
	for _, n := range g.Nodes() {
		if !p.types.Prompt.Has(n.ClassType) {
			continue
		}
		text, ok := promptText(n)
		if !ok {
			continue
		}
		prompts = append(prompts, Prompt{
			NodeID:     n.ID,
			NodeType:   n.ClassType,
			PromptType: p.classifyNode(n, g),
			PromptText: strings.TrimSpace(text),
		})
	}
	return prompts
}

// promptText returns the first truthy literal among the text inputs. Zero,
// false and the empty string count as absent. Other values are used as text.
func promptText(n Node) (string, bool) {
	for _, name := range promptTextInputs {
		v, ok := n.Inputs.Literal(name)
		if !ok || !truthy(v) {
			continue
		}
		return literalText(v), true
	}
	return "", false
}

func literalText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
