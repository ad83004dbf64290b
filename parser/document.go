package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KANAsho116/PromptStorage/graphapi"
)

// Format is the shape of a ComfyUI workflow document.
type Format int

const (
	FormatUnknown Format = iota
	FormatAPI            // numeric node id keys mapping to {class_type, inputs, _meta}
	FormatUI             // frontend export with a nodes array and a links table
)

func (f Format) String() string {
	switch f {
	case FormatAPI:
		return "api"
	case FormatUI:
		return "ui"
	default:
		return "unknown"
	}
}

// ErrMalformedJSON is returned by ParseDocument when the input is not JSON at all.
var ErrMalformedJSON = errors.New("malformed JSON")

// Document is a decoded workflow document whose shape has been detected once.
// Values that are valid JSON but not objects produce a Document that reports
// IsObject() == false, so validation can reject them with a reason.
type Document struct {
	raw      []byte
	isObject bool
	keys     []string
	members  map[string]json.RawMessage
	format   Format
}

// ParseDocument decodes b and detects its format. An API document is one with
// at least one non-negative integer key; otherwise a document with a nodes
// array is a UI document.
func ParseDocument(b []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(b)
	if !json.Valid(trimmed) {
		return nil, ErrMalformedJSON
	}

	d := &Document{raw: trimmed}
	keys, members, err := graphapi.DecodeOrderedObject(trimmed)
	if errors.Is(err, graphapi.ErrNotObject) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	d.isObject = true
	d.keys = keys
	d.members = members
	d.format = detectFormat(keys, members)
	return d, nil
}

// NewDocument encodes v and parses the result. Maps lose their key order on
// the way, so callers holding the original bytes should use ParseDocument.
func NewDocument(v interface{}) (*Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ParseDocument(b)
}

func detectFormat(keys []string, members map[string]json.RawMessage) Format {
	for _, k := range keys {
		if isNodeKey(k) {
			return FormatAPI
		}
	}
	if nodes, ok := members["nodes"]; ok && isArray(nodes) {
		return FormatUI
	}
	return FormatUnknown
}

// isNodeKey reports whether k is a non-negative integer string.
func isNodeKey(k string) bool {
	if k == "" {
		return false
	}
	for i := 0; i < len(k); i++ {
		if k[i] < '0' || k[i] > '9' {
			return false
		}
	}
	return true
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func (d *Document) Format() Format {
	return d.format
}

func (d *Document) IsObject() bool {
	return d.isObject
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	retv := make([]string, len(d.keys))
	copy(retv, d.keys)
	return retv
}

// NodeKeys returns the top-level keys that name nodes of an API document.
func (d *Document) NodeKeys() []string {
	retv := make([]string, 0)
	for _, k := range d.keys {
		if isNodeKey(k) {
			retv = append(retv, k)
		}
	}
	return retv
}

// Member returns the raw value of a top-level key.
func (d *Document) Member(key string) (json.RawMessage, bool) {
	raw, ok := d.members[key]
	return raw, ok
}

// Bytes returns the document as it was parsed, without surrounding whitespace.
func (d *Document) Bytes() []byte {
	return d.raw
}
