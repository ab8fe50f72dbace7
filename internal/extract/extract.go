// Package extract defines the document extractor collaborator: raw upload
// bytes in, structured text out. The real PDF extraction runs behind this
// interface; the in-tree implementation handles plain text and markdown
// uploads.
package extract

import (
	"strings"
	"unicode/utf8"
)

// Extraction is what an extractor recovered from a document. A zero value
// means nothing was extracted.
type Extraction struct {
	Text   string
	Tables []string
	Images []string
}

func (e Extraction) Empty() bool {
	return strings.TrimSpace(e.Text) == "" && len(e.Tables) == 0 && len(e.Images) == 0
}

type Extractor interface {
	// Extract returns the structured content of a document. An unreadable
	// document yields an empty Extraction, not an error; errors are for
	// infrastructure failures only.
	Extract(raw []byte) (Extraction, error)
}

// Plaintext treats the upload as UTF-8 text and passes it through. Binary
// input yields an empty extraction.
type Plaintext struct{}

func (Plaintext) Extract(raw []byte) (Extraction, error) {
	if !utf8.Valid(raw) {
		return Extraction{}, nil
	}
	return Extraction{Text: strings.TrimSpace(string(raw))}, nil
}

// ToMarkdown renders an extraction as a markdown document, text first, then
// any tables as fenced blocks.
func ToMarkdown(e Extraction) string {
	var b strings.Builder
	b.WriteString(e.Text)
	for _, table := range e.Tables {
		b.WriteString("\n\n```\n")
		b.WriteString(table)
		b.WriteString("\n```\n")
	}
	if !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
