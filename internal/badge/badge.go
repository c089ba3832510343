// Package badge builds the shields.io endpoint document that renders the
// citation badge.
package badge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/scholar-badge/internal/scholar"
)

// Fixed badge presentation.
const (
	SchemaVersion = 1
	Label         = "citations"
	Color         = "blue"
	CacheSeconds  = 86400
	LogoSVG       = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24" fill="#4285F4">` +
		`<path d="M12 24a7 7 0 1 1 0-14 7 7 0 0 1 0 14zm0-3L9 8l3-5 3 5-3 13z"/></svg>`

	// ContentType is used when the document is stored.
	ContentType = "application/json; charset=utf-8"
)

// StatsDocument is the JSON shape consumed by the badge endpoint. Field order
// is the serialized key order.
type StatsDocument struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
	CacheSeconds  int    `json:"cacheSeconds"`
	LogoSVG       string `json:"logoSvg"`
}

// New returns the document for count. Only the message varies.
func New(count scholar.CitationCount) StatsDocument {
	return StatsDocument{
		SchemaVersion: SchemaVersion,
		Label:         Label,
		Message:       string(count),
		Color:         Color,
		CacheSeconds:  CacheSeconds,
		LogoSVG:       LogoSVG,
	}
}

// Encode writes doc as two-space indented JSON. Markup in the logo and any
// non-ASCII text are written verbatim.
func Encode(w io.Writer, doc StatsDocument) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode stats document: %w", err)
	}
	return nil
}

// Marshal returns the encoded form of doc.
func Marshal(doc StatsDocument) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
