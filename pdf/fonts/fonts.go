// Package fonts provides font metrics and the code-to-text decoding needed
// to measure and extract text from PDF content streams.
package fonts

import (
	"errors"

	"golang.org/x/text/encoding/charmap"
)

// Common errors
var (
	ErrInvalidFont = errors.New("invalid font data")
	ErrInvalidCMap = errors.New("invalid CMap")
)

// StandardFont represents a PDF standard font name.
type StandardFont string

// Standard 14 fonts available in all PDF readers
const (
	Helvetica            StandardFont = "Helvetica"
	HelveticaBold        StandardFont = "Helvetica-Bold"
	HelveticaOblique     StandardFont = "Helvetica-Oblique"
	HelveticaBoldOblique StandardFont = "Helvetica-BoldOblique"
	Times                StandardFont = "Times-Roman"
	TimesBold            StandardFont = "Times-Bold"
	TimesItalic          StandardFont = "Times-Italic"
	TimesBoldItalic      StandardFont = "Times-BoldItalic"
	Courier              StandardFont = "Courier"
	CourierBold          StandardFont = "Courier-Bold"
	CourierOblique       StandardFont = "Courier-Oblique"
	CourierBoldOblique   StandardFont = "Courier-BoldOblique"
	Symbol               StandardFont = "Symbol"
	ZapfDingbats         StandardFont = "ZapfDingbats"
)

// IsStandardFont checks if a font name is a standard font.
func IsStandardFont(name string) bool {
	switch StandardFont(name) {
	case Helvetica, HelveticaBold, HelveticaOblique, HelveticaBoldOblique,
		Times, TimesBold, TimesItalic, TimesBoldItalic,
		Courier, CourierBold, CourierOblique, CourierBoldOblique,
		Symbol, ZapfDingbats:
		return true
	}
	return false
}

// FontMetrics holds the metrics used for text layout, in glyph space units.
type FontMetrics struct {
	Ascender     float64
	Descender    float64
	UnitsPerEm   float64
	Widths       map[rune]float64
	DefaultWidth float64
}

// NewFontMetrics creates new font metrics with defaults.
func NewFontMetrics() *FontMetrics {
	return &FontMetrics{
		Ascender:     800,
		Descender:    -200,
		UnitsPerEm:   1000,
		Widths:       make(map[rune]float64),
		DefaultWidth: 600,
	}
}

// GetWidth returns the width of a character.
func (m *FontMetrics) GetWidth(r rune) float64 {
	if w, ok := m.Widths[r]; ok {
		return w
	}
	return m.DefaultWidth
}

// GetStringWidth calculates the width of a string at a given font size.
func (m *FontMetrics) GetStringWidth(s string, fontSize float64) float64 {
	var width float64
	for _, r := range s {
		width += m.GetWidth(r)
	}
	return width * fontSize / m.UnitsPerEm
}

// GetLineHeight returns the line height at a given font size.
func (m *FontMetrics) GetLineHeight(fontSize float64) float64 {
	return (m.Ascender - m.Descender) * fontSize / m.UnitsPerEm
}

// Widths of the printable ASCII range 0x20..0x7E from the Adobe AFM files.
var (
	helveticaASCII = []float64{
		278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556,
		278, 278, 584, 584, 584, 556, 1015,
		667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833,
		722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611,
		278, 278, 278, 469, 556, 333,
		556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833,
		556, 556, 556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500,
		334, 260, 334, 584,
	}
	helveticaBoldASCII = []float64{
		278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556,
		333, 333, 584, 584, 584, 611, 975,
		722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833,
		722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611,
		333, 278, 333, 584, 556, 333,
		556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889,
		611, 611, 611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500,
		389, 280, 389, 584,
	}
	timesASCII = []float64{
		250, 333, 408, 500, 500, 833, 778, 180, 333, 333, 500, 564, 250, 333, 250, 278,
		500, 500, 500, 500, 500, 500, 500, 500, 500, 500,
		278, 278, 564, 564, 564, 444, 921,
		722, 667, 667, 722, 611, 556, 722, 722, 333, 389, 722, 611, 889,
		722, 722, 556, 722, 667, 556, 611, 722, 722, 944, 722, 722, 611,
		333, 278, 333, 469, 500, 333,
		444, 500, 444, 500, 444, 333, 500, 500, 278, 278, 500, 278, 778,
		500, 500, 500, 500, 333, 389, 278, 500, 500, 722, 500, 500, 444,
		480, 200, 480, 541,
	}
)

func fillASCII(widths map[rune]float64, table []float64) {
	for i, w := range table {
		widths[rune(0x20+i)] = w
	}
}

// StandardMetrics returns metrics for one of the standard 14 fonts. Unknown
// names get Helvetica metrics, which is what viewers substitute for a
// missing sans-serif font.
func StandardMetrics(name StandardFont) *FontMetrics {
	m := NewFontMetrics()
	switch name {
	case HelveticaBold, HelveticaBoldOblique:
		m.Ascender, m.Descender, m.DefaultWidth = 718, -207, 556
		fillASCII(m.Widths, helveticaBoldASCII)
	case Times, TimesBold, TimesItalic, TimesBoldItalic:
		m.Ascender, m.Descender, m.DefaultWidth = 683, -217, 500
		fillASCII(m.Widths, timesASCII)
	case Courier, CourierBold, CourierOblique, CourierBoldOblique:
		m.Ascender, m.Descender, m.DefaultWidth = 629, -157, 600
		for r := rune(0x20); r < 0x7F; r++ {
			m.Widths[r] = 600
		}
	case Symbol, ZapfDingbats:
		// No per-glyph table; every code gets the default.
	default:
		m.Ascender, m.Descender, m.DefaultWidth = 718, -207, 556
		fillASCII(m.Widths, helveticaASCII)
	}
	return m
}

// EncodeWinAnsi encodes s for a font using WinAnsiEncoding. Runes outside
// the code page become '?'; substituted counts them.
func EncodeWinAnsi(s string) (encoded []byte, substituted int) {
	encoded = make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := charmap.Windows1252.EncodeRune(r); ok {
			encoded = append(encoded, b)
		} else {
			encoded = append(encoded, '?')
			substituted++
		}
	}
	return encoded, substituted
}
