// Package locate finds phrases in the text of a PDF document and maps them
// back to page coordinates.
package locate

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/georgepadayatti/tokenstamp/pdf/reader"
)

// Common errors
var (
	ErrEmptyPhrase = errors.New("phrase must not be empty")
	ErrNoGeometry  = errors.New("occurrence has no visible glyphs")
	ErrOccurrence  = errors.New("occurrence out of range")
)

// Rect is a rectangle in PDF user space, y growing upwards.
type Rect struct {
	LLX, LLY, URX, URY float64
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.URX - r.LLX }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.URY - r.LLY }

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		LLX: math.Min(r.LLX, o.LLX),
		LLY: math.Min(r.LLY, o.LLY),
		URX: math.Max(r.URX, o.URX),
		URY: math.Max(r.URY, o.URY),
	}
}

// Glyph is one rune of extracted text and the box it was drawn in.
// Separators inserted by the extractor have zero-area boxes.
type Glyph struct {
	Rune rune
	Box  Rect
}

// PageText is the extracted text of one page. Text has exactly one rune
// per entry in Glyphs.
type PageText struct {
	Number int
	Text   string
	Glyphs []Glyph
}

// Occurrence is one match of a phrase. Page is 1-based; Start and End are
// rune offsets into the page text.
type Occurrence struct {
	Page  int
	Start int
	End   int
}

func (o Occurrence) String() string {
	return fmt.Sprintf("page %d [%d:%d]", o.Page, o.Start, o.End)
}

// Document is a parsed PDF with lazily extracted page text.
type Document struct {
	r     *reader.PdfFileReader
	pages []PageText
}

// Open parses data. The slice is retained and must not be modified.
func Open(data []byte) (*Document, error) {
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}
	return &Document{r: r}, nil
}

// OpenFile reads and parses the file at path.
func OpenFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Open(data)
}

// Reader exposes the underlying parsed file.
func (d *Document) Reader() *reader.PdfFileReader { return d.r }

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return d.r.GetPageCount() }

// Pages returns the extracted text of every page, extracting on first use.
func (d *Document) Pages() ([]PageText, error) {
	if d.pages != nil {
		return d.pages, nil
	}
	pages, err := ExtractText(d)
	if err != nil {
		return nil, err
	}
	d.pages = pages
	return pages, nil
}

// ExtractText interprets every page's content streams and returns the
// text in page order.
func ExtractText(d *Document) ([]PageText, error) {
	e := newExtractor(d.r)
	out := make([]PageText, 0, d.r.GetPageCount())
	for i, page := range d.r.Pages {
		pt, err := e.page(page, i+1)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i+1, err)
		}
		out = append(out, pt)
	}
	return out, nil
}

// Matcher finds an exact, case-sensitive phrase bounded by word
// boundaries on both sides. Letters and digits of every script count as
// word characters, so "café" does not match inside "cafés".
type Matcher struct {
	re *regexp.Regexp
}

// Pattern returns the matcher for phrase.
func Pattern(phrase string) (*Matcher, error) {
	if phrase == "" {
		return nil, ErrEmptyPhrase
	}
	re, err := regexp.Compile(regexp.QuoteMeta(phrase))
	if err != nil {
		return nil, err
	}
	return &Matcher{re: re}, nil
}

// FindAllIndex returns the byte ranges of every match in text.
func (m *Matcher) FindAllIndex(text string) [][]int {
	var matches [][]int
	for pos := 0; pos < len(text); {
		loc := m.re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if isBoundary(text, start) && isBoundary(text, end) {
			matches = append(matches, []int{start, end})
			pos = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
	return matches
}

// MatchString reports whether text contains a match.
func (m *Matcher) MatchString(text string) bool {
	return len(m.FindAllIndex(text)) > 0
}

func (m *Matcher) String() string { return m.re.String() }

// isBoundary reports whether exactly one of the runes around byte offset i
// is a word character. The ends of text count as non-word.
func isBoundary(text string, i int) bool {
	before, after := false, false
	if i > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:i])
		before = isWordRune(r)
	}
	if i < len(text) {
		r, _ := utf8.DecodeRuneInString(text[i:])
		after = isWordRune(r)
	}
	return before != after
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Find returns every occurrence of phrase in page order. No match gives an
// empty slice and a nil error.
func Find(d *Document, phrase string) ([]Occurrence, error) {
	m, err := Pattern(phrase)
	if err != nil {
		return nil, err
	}
	pages, err := d.Pages()
	if err != nil {
		return nil, err
	}

	occurrences := []Occurrence{}
	for _, page := range pages {
		for _, loc := range m.FindAllIndex(page.Text) {
			start := utf8.RuneCountInString(page.Text[:loc[0]])
			end := start + utf8.RuneCountInString(page.Text[loc[0]:loc[1]])
			occurrences = append(occurrences, Occurrence{Page: page.Number, Start: start, End: end})
		}
	}
	return occurrences, nil
}

// FindFile opens path and runs Find on it.
func FindFile(path, phrase string) ([]Occurrence, error) {
	if phrase == "" {
		return nil, ErrEmptyPhrase
	}
	d, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	return Find(d, phrase)
}

// Rects returns the bounding boxes of an occurrence, one per text line it
// spans.
func (d *Document) Rects(occ Occurrence) ([]Rect, error) {
	pages, err := d.Pages()
	if err != nil {
		return nil, err
	}
	if occ.Page < 1 || occ.Page > len(pages) {
		return nil, fmt.Errorf("%w: page %d", ErrOccurrence, occ.Page)
	}
	glyphs := pages[occ.Page-1].Glyphs
	if occ.Start < 0 || occ.End > len(glyphs) || occ.Start >= occ.End {
		return nil, fmt.Errorf("%w: %s", ErrOccurrence, occ)
	}

	var rects []Rect
	var cur *Rect
	for _, g := range glyphs[occ.Start:occ.End] {
		if g.Rune == '\n' {
			cur = nil
			continue
		}
		if g.Box.Empty() {
			continue
		}
		if cur == nil {
			rects = append(rects, g.Box)
			cur = &rects[len(rects)-1]
			continue
		}
		*cur = cur.Union(g.Box)
	}
	if len(rects) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoGeometry, occ)
	}
	return rects, nil
}
