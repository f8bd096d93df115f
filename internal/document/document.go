// Package document parses fetched or rendered HTML into the lowercased views
// the classifiers and the evaluator work on.
package document

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hakim/scriptwatch/internal/rules"
)

// Page is a parsed HTML document.
type Page struct {
	doc *goquery.Document

	markup string
	text   string
	title  string
}

// Parse builds a Page from raw HTML. The parser is lenient, so malformed
// markup still yields a document.
func Parse(html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("document: parsing html: %w", err)
	}

	markup, err := doc.Html()
	if err != nil {
		markup = html
	}

	return &Page{
		doc:    doc,
		markup: strings.ToLower(markup),
		text:   strings.ToLower(doc.Text()),
		title:  strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text())),
	}, nil
}

// Markup is the serialized document, lowercased.
func (p *Page) Markup() string { return p.markup }

// Text is the concatenated text content, lowercased.
func (p *Page) Text() string { return p.text }

// Title is the document title, lowercased. Empty when absent.
func (p *Page) Title() string { return p.title }

// ScriptCounts tallies script elements matching tbl in head and body.
// Each element counts once, for its highest-precedence signature.
func (p *Page) ScriptCounts(tbl *rules.Table) rules.Counts {
	counts := rules.Counts{}
	scan := func(selector string, inHead bool) {
		p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			outer, err := goquery.OuterHtml(s)
			if err != nil {
				return
			}
			if cat, ok := tbl.Classify(outer); ok {
				counts.Add(cat, inHead)
			}
		})
	}
	scan("head script", true)
	scan("body script", false)
	return counts
}
