// Package testpdf builds small PDF documents for tests.
package testpdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/georgepadayatti/tokenstamp/pdf/generic"
	"github.com/georgepadayatti/tokenstamp/pdf/writer"
)

// Letter is the US Letter media box.
var Letter = generic.Rectangle{URX: 612, URY: 792}

// Options tweak the generated file.
type Options struct {
	Compress   bool
	XRefStream bool
	MediaBox   *generic.Rectangle
}

// HelveticaResources returns a resource dictionary with Helvetica as /F1.
func HelveticaResources() *generic.DictionaryObject {
	font := generic.NewDictionary()
	font.Set("Type", generic.NameObject("Font"))
	font.Set("Subtype", generic.NameObject("Type1"))
	font.Set("BaseFont", generic.NameObject("Helvetica"))
	font.Set("Encoding", generic.NameObject("WinAnsiEncoding"))
	fonts := generic.NewDictionary()
	fonts.Set("F1", font)
	res := generic.NewDictionary()
	res.Set("Font", fonts)
	return res
}

// Text returns a content stream showing s with /F1 at (x, y).
func Text(x, y, size float64, s string) string {
	return "BT /F1 " + generic.FormatNumber(size) + " Tf " +
		generic.FormatNumber(x) + " " + generic.FormatNumber(y) + " Td " +
		string(generic.EscapeLiteral([]byte(s))) + " Tj ET\n"
}

// Build returns a document with one page per content string.
func Build(t testing.TB, opts Options, pages ...string) []byte {
	t.Helper()
	w := writer.NewPdfFileWriter("1.7")
	w.Compress = opts.Compress
	w.XRefStream = opts.XRefStream
	box := Letter
	if opts.MediaBox != nil {
		box = *opts.MediaBox
	}
	for _, content := range pages {
		if _, err := w.AddPage(box, []byte(content), HelveticaResources()); err != nil {
			t.Fatalf("failed to add page: %v", err)
		}
	}
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("failed to build PDF: %v", err)
	}
	return data
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
