// Package extract pulls the citation total out of a Scholar profile page.
//
// Extraction is an ordered chain of strategies over a parsed Page. Each
// strategy either produces a non-empty value or declines, and the first value
// wins. When every strategy declines the count falls back to "0".
//
// Parsing follows HTML5 tree building, so a <td> outside any <table> is
// dropped and cannot match. Scholar always nests its stats cells in a table.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page wraps a response body with typed DOM lookups. The HTML is parsed on
// first use; a body that cannot be parsed simply has no elements.
type Page struct {
	raw    []byte
	doc    *goquery.Document
	parsed bool
}

// NewPage returns a Page over body. The slice is not copied.
func NewPage(body []byte) *Page {
	return &Page{raw: body}
}

// Raw returns the unparsed body.
func (p *Page) Raw() []byte {
	return p.raw
}

func (p *Page) document() *goquery.Document {
	if !p.parsed {
		p.parsed = true
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.raw))
		if err == nil {
			p.doc = doc
		}
	}
	return p.doc
}

// ElementByID returns the first <tag> element whose id attribute equals id.
func (p *Page) ElementByID(tag, id string) (Element, bool) {
	doc := p.document()
	if doc == nil {
		return Element{}, false
	}
	return first(doc.Find(tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr("id")
		return ok && v == id
	}))
}

// Element is a single node found in a Page.
type Element struct {
	sel *goquery.Selection
}

// FirstByClass returns the first descendant <tag> carrying class.
func (e Element) FirstByClass(tag, class string) (Element, bool) {
	if e.sel == nil {
		return Element{}, false
	}
	return first(e.sel.Find(tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.HasClass(class)
	}))
}

// Text returns the element's text content with surrounding whitespace removed.
func (e Element) Text() string {
	if e.sel == nil {
		return ""
	}
	return strings.TrimSpace(e.sel.Text())
}

func first(sel *goquery.Selection) (Element, bool) {
	if sel.Length() == 0 {
		return Element{}, false
	}
	return Element{sel: sel.First()}, true
}
