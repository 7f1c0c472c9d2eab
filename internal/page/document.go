// Package page holds the parsed event page: a mutable HTML tree plus
// EventEntry / DateSection views over it.
package page

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	// ErrNoSection means an entry has no date-section ancestor.
	ErrNoSection = errors.New("page: entry has no enclosing date section")
	// ErrNoDateTitle means neither the entry nor its section exposes a date.
	ErrNoDateTitle = errors.New("page: no date title found")
)

// Selectors is the markup contract, one CSS selector per concept.
type Selectors struct {
	Event            string
	Section          string
	DateTitle        string
	EventDate        string
	EventTitle       string
	EventDescription string
}

// Document is a parsed page. It is not safe for concurrent use; callers
// serialize access (the past-event filter owns one behind a mutex).
type Document struct {
	doc *goquery.Document
	sel Selectors
}

// Load parses r as HTML.
func Load(r io.Reader, sel Selectors) (*Document, error) {
	if sel.Event == "" || sel.Section == "" {
		return nil, errors.New("page: event and section selectors are required")
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("page: parse: %w", err)
	}
	return &Document{doc: doc, sel: sel}, nil
}

// Entries returns every event entry currently attached to the document,
// in document order.
func (d *Document) Entries() []*Entry {
	var out []*Entry
	d.doc.Find(d.sel.Event).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Entry{s: s, d: d})
	})
	return out
}

// Sections returns every date section currently attached to the document.
func (d *Document) Sections() []*Section {
	var out []*Section
	d.doc.Find(d.sel.Section).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Section{s: s, d: d})
	})
	return out
}

// Render writes the current tree as HTML.
func (d *Document) Render(w io.Writer) error {
	if len(d.doc.Nodes) == 0 {
		return errors.New("page: empty document")
	}
	return html.Render(w, d.doc.Nodes[0])
}

// attached reports whether n still hangs off the document root.
func (d *Document) attached(n *html.Node) bool {
	if n == nil || len(d.doc.Nodes) == 0 {
		return false
	}
	root := d.doc.Nodes[0]
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

// Entry is one event element.
type Entry struct {
	s *goquery.Selection
	d *Document
}

// Node identifies the entry across passes.
func (e *Entry) Node() *html.Node { return e.s.Get(0) }

// Section returns the closest date-section ancestor.
func (e *Entry) Section() (*Section, error) {
	sec := e.s.Closest(e.d.sel.Section)
	if sec.Length() == 0 {
		return nil, ErrNoSection
	}
	return &Section{s: sec, d: e.d}, nil
}

// DateLabels returns the texts the entry may be classified by, most specific
// first: its own date field when present, then the section's date title.
// Callers take the first one that parses. The error is set only when there
// is no candidate at all.
func (e *Entry) DateLabels() ([]string, error) {
	var labels []string
	if e.d.sel.EventDate != "" {
		if own := e.s.Find(e.d.sel.EventDate).First(); own.Length() > 0 {
			if txt := cleanText(own.Text()); txt != "" {
				labels = append(labels, txt)
			}
		}
	}

	sec, err := e.Section()
	if err != nil {
		if len(labels) > 0 {
			return labels, nil
		}
		return nil, err
	}
	if heading := sec.Heading(); heading != "" {
		labels = append(labels, heading)
	}
	if len(labels) == 0 {
		return nil, ErrNoDateTitle
	}
	return labels, nil
}

func (e *Entry) Title() string {
	if e.d.sel.EventTitle == "" {
		return ""
	}
	return cleanText(e.s.Find(e.d.sel.EventTitle).First().Text())
}

func (e *Entry) Description() string {
	if e.d.sel.EventDescription == "" {
		return ""
	}
	return cleanText(e.s.Find(e.d.sel.EventDescription).First().Text())
}

func (e *Entry) HasClass(class string) bool { return e.s.HasClass(class) }
func (e *Entry) AddClass(class string)      { addClass(e.s, class) }
func (e *Entry) Attached() bool             { return e.d.attached(e.Node()) }

// Detach removes the entry from the document.
func (e *Entry) Detach() { e.s.Remove() }

// Section is one date-heading group.
type Section struct {
	s *goquery.Selection
	d *Document
}

func (s *Section) Node() *html.Node { return s.s.Get(0) }

// Heading is the trimmed text of the section's date title, or "".
func (s *Section) Heading() string {
	return cleanText(s.s.Find(s.d.sel.DateTitle).First().Text())
}

// Entries returns the entries still inside the section.
func (s *Section) Entries() []*Entry {
	var out []*Entry
	s.s.Find(s.d.sel.Event).Each(func(_ int, es *goquery.Selection) {
		out = append(out, &Entry{s: es, d: s.d})
	})
	return out
}

// Remaining counts entries in the section that carry none of the given
// classes.
func (s *Section) Remaining(exclude ...string) int {
	n := 0
	for _, e := range s.Entries() {
		skip := false
		for _, c := range exclude {
			if c != "" && e.HasClass(c) {
				skip = true
				break
			}
		}
		if !skip {
			n++
		}
	}
	return n
}

func (s *Section) HasClass(class string) bool { return s.s.HasClass(class) }
func (s *Section) AddClass(class string)      { addClass(s.s, class) }
func (s *Section) Attached() bool             { return s.d.attached(s.Node()) }
func (s *Section) Detach()                    { s.s.Remove() }

// addClass appends class to the class attribute, keeping it single-spaced.
func addClass(s *goquery.Selection, class string) {
	if class == "" || s.HasClass(class) {
		return
	}
	cur, _ := s.Attr("class")
	s.SetAttr("class", strings.Join(append(strings.Fields(cur), class), " "))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
