package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidWorkflow is matched by every *ValidationError.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ValidationError carries the human readable reason a document was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidWorkflow
}

func invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationResult is the {valid, error} view of Validate.
type ValidationResult struct {
	Valid bool    `json:"valid"`
	Error *string `json:"error"`
}

// Check runs Validate and reports the outcome as a ValidationResult.
func Check(doc *Document) ValidationResult {
	err := Validate(doc)
	if err == nil {
		return ValidationResult{Valid: true}
	}
	reason := err.Error()
	return ValidationResult{Valid: false, Error: &reason}
}

// Validate checks the raw document before anything is extracted from it.
// It returns nil or a *ValidationError.
func Validate(doc *Document) error {
	if doc == nil || !doc.IsObject() {
		return invalid("Invalid JSON: not an object")
	}
	if len(doc.keys) == 0 {
		return invalid("Invalid JSON: empty workflow")
	}

	switch doc.Format() {
	case FormatAPI:
		return validateAPI(doc)
	case FormatUI:
		return validateUI(doc)
	default:
		return invalid("Invalid JSON: no nodes found")
	}
}

func validateAPI(doc *Document) error {
	for _, id := range doc.NodeKeys() {
		var node struct {
			ClassType interface{} `json:"class_type"`
		}
		if err := json.Unmarshal(doc.members[id], &node); err != nil {
			return invalid("Invalid node %s: missing class_type", id)
		}
		if ct, ok := node.ClassType.(string); !ok || ct == "" {
			return invalid("Invalid node %s: missing class_type", id)
		}
	}
	return nil
}

func validateUI(doc *Document) error {
	var nodes []json.RawMessage
	if err := json.Unmarshal(doc.members["nodes"], &nodes); err != nil || len(nodes) == 0 {
		return invalid("Invalid JSON: no nodes found")
	}

	for i, raw := range nodes {
		var node struct {
			ID   json.RawMessage `json:"id"`
			Type interface{}     `json:"type"`
		}
		if err := json.Unmarshal(raw, &node); err != nil {
			return invalid("Invalid node %s: missing type", strconv.Itoa(i))
		}
		if t, ok := node.Type.(string); !ok || t == "" {
			return invalid("Invalid node %s: missing type", uiNodeLabel(node.ID, i))
		}
	}
	return nil
}

// uiNodeLabel names a UI node in error messages by its id, or by its index
// when it has none.
func uiNodeLabel(id json.RawMessage, index int) string {
	if len(id) == 0 || string(id) == "null" {
		return strconv.Itoa(index)
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

// LoadDocument parses b and validates it. Every failure, malformed JSON
// included, is a *ValidationError.
func LoadDocument(b []byte) (*Document, error) {
	doc, err := ParseDocument(b)
	if err != nil {
		return nil, invalid("Invalid JSON: %v", err)
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
