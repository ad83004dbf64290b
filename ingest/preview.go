package ingest

import (
	"errors"
	"time"

	"github.com/KANAsho116/PromptStorage/parser"
)

// Preview is what storing a document would extract, without storing it.
type Preview struct {
	Valid    bool             `json:"valid"`
	Error    *string          `json:"error"`
	Format   string           `json:"format,omitempty"`
	Name     string           `json:"name,omitempty"`
	Prompts  []parser.Prompt  `json:"prompts"`
	Metadata *parser.Metadata `json:"metadata"`
}

// PreviewDocument validates b and, when it is valid, extracts its prompts
// and metadata and the name it would be stored under.
func PreviewDocument(p *parser.Parser, b []byte, now time.Time) Preview {
	doc, err := parser.LoadDocument(unwrapString(b))
	if err != nil {
		return invalidPreview(err)
	}
	result, err := p.Parse(doc)
	if err != nil {
		return invalidPreview(err)
	}
	return Preview{
		Valid:    true,
		Format:   result.Format,
		Name:     parser.GenerateName(result.Metadata, now),
		Prompts:  result.Prompts,
		Metadata: &result.Metadata,
	}
}

func invalidPreview(err error) Preview {
	reason := err.Error()
	var verr *parser.ValidationError
	if errors.As(err, &verr) {
		reason = verr.Reason
	}
	return Preview{Valid: false, Error: &reason}
}

// Preview runs PreviewDocument with the service's parser and clock.
func (s *Service) Preview(b []byte) Preview {
	return PreviewDocument(s.parser, b, s.now())
}
