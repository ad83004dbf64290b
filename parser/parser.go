// Package parser turns ComfyUI workflow documents into prompt records and a
// metadata summary.
//
// Both document shapes ComfyUI produces are accepted: the API format written by
// "Save (API Format)" and into the "prompt" PNG chunk, and the UI format saved by
// the frontend and written into the "workflow" PNG chunk. Each is normalized
// into one canonical Graph that the extractors read.
package parser

import (
	"log/slog"
)

// Options configure a Parser. The zero value uses the built-in node types and
// widget layouts and resolves UI links through the links table.
type Options struct {
	// NodeTypes replaces the built-in recognized node types when set.
	NodeTypes *NodeTypes
	// WidgetLayouts adds to or overrides the built-in layouts by class type.
	WidgetLayouts map[string]WidgetLayout
	// LinkIDsAsNodeIDs ignores the UI links table and takes a slot's link id
	// as the id of the source node, output slot 0.
	LinkIDsAsNodeIDs bool
	// SkipControlAfterGenerate drops the control_after_generate value that the
	// frontend saves after a KSampler seed, so later widgets keep their names.
	// Off by default: widget positions are mapped exactly.
	SkipControlAfterGenerate bool
	Logger                   *slog.Logger
}

// Parser holds immutable extraction settings and is safe for concurrent use.
type Parser struct {
	types            NodeTypes
	layouts          map[string]WidgetLayout
	linkIDsAsNodeIDs bool
	logger           *slog.Logger
}

func New(opts Options) *Parser {
	p := &Parser{
		types:            DefaultNodeTypes(),
		layouts:          DefaultWidgetLayouts(),
		linkIDsAsNodeIDs: opts.LinkIDsAsNodeIDs,
		logger:           opts.Logger,
	}
	if opts.NodeTypes != nil {
		p.types = *opts.NodeTypes
	}
	if opts.SkipControlAfterGenerate {
		for _, name := range seedControlled {
			l := p.layouts[name]
			l.ControlAfter = "seed"
			p.layouts[name] = l
		}
	}
	for k, v := range opts.WidgetLayouts {
		p.layouts[k] = v
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

func (p *Parser) NodeTypes() NodeTypes {
	return p.types
}

// Result is everything extracted from one document.
type Result struct {
	Format   string   `json:"format"`
	Prompts  []Prompt `json:"prompts"`
	Metadata Metadata `json:"metadata"`
}

// Parse validates doc, normalizes it once and runs both extractors over the
// same graph. The error is a *ValidationError when doc is rejected.
func (p *Parser) Parse(doc *Document) (Result, error) {
	if err := Validate(doc); err != nil {
		return Result{}, err
	}

	g := p.Normalize(doc)
	return Result{
		Format:   doc.Format().String(),
		Prompts:  p.ExtractPrompts(g),
		Metadata: p.ExtractMetadata(g),
	}, nil
}

var defaultParser = New(Options{})

// Normalize uses a Parser with default options.
func Normalize(doc *Document) *Graph {
	return defaultParser.Normalize(doc)
}

// ExtractPrompts uses a Parser with default options.
func ExtractPrompts(g *Graph) []Prompt {
	return defaultParser.ExtractPrompts(g)
}

// ExtractMetadata uses a Parser with default options.
func ExtractMetadata(g *Graph) Metadata {
	return defaultParser.ExtractMetadata(g)
}

// Classify uses a Parser with default options.
func Classify(g *Graph, id string) PromptType {
	return defaultParser.Classify(g, id)
}

// Parse uses a Parser with default options.
func Parse(doc *Document) (Result, error) {
	return defaultParser.Parse(doc)
}
