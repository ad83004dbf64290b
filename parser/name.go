package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	extensionRe = regexp.MustCompile(`\.[^/.]+$`)
	separatorRe = regexp.MustCompile(`[_-]`)
)

// GenerateName derives a display name from the first checkpoint in meta and
// the UTC date of now, e.g. "sd xl base 1.0 - 2024-03-01".
func GenerateName(meta Metadata, now time.Time) string {
	stamp := now.UTC().Format("2006-01-02")

	if len(meta.Models) > 0 {
		name := extensionRe.ReplaceAllString(meta.Models[0].Name, "")
		name = separatorRe.ReplaceAllString(name, " ")
		return fmt.Sprintf("%s - %s", name, stamp)
	}

	return "Workflow - " + stamp
}

// DisplayName trims a user supplied name and falls back to a generated one.
func DisplayName(name string, meta Metadata, now time.Time) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return GenerateName(meta, now)
}
