package fonts

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// Resolver dereferences indirect objects.
type Resolver interface {
	Resolve(obj generic.PdfObject) (generic.PdfObject, error)
}

// Glyph is one decoded character code.
type Glyph struct {
	Code uint32
	// Text is the Unicode text for the code, possibly empty or several runes.
	Text string
	// Width is the horizontal advance in text space units (1/1000 em).
	Width float64
	// WordSpace is set for single-byte code 32, which Tw applies to.
	WordSpace bool
}

// Font decodes strings shown with one font resource.
type Font struct {
	BaseFont string
	Subtype  string

	metrics   *FontMetrics
	firstChar int
	widths    []float64
	cidWidths map[uint32]float64
	defWidth  float64
	hasWidths bool

	toUnicode *CMap
	encoding  *[256]rune
	twoByte   bool
}

// Load builds a Font from a font dictionary. Missing or damaged entries
// degrade to standard metrics and WinAnsi decoding rather than failing.
func Load(dict *generic.DictionaryObject, r Resolver) *Font {
	f := &Font{
		BaseFont: stripSubsetTag(dict.GetName("BaseFont")),
		Subtype:  dict.GetName("Subtype"),
	}
	f.metrics = StandardMetrics(StandardFont(f.BaseFont))

	if cm := loadCMap(dict.Get("ToUnicode"), r); cm != nil {
		f.toUnicode = cm
	}

	if f.Subtype == "Type0" {
		f.loadType0(dict, r)
		return f
	}

	if fc, ok := number(dict.Get("FirstChar"), r); ok {
		f.firstChar = int(fc)
	}
	if arr := array(dict.Get("Widths"), r); len(arr) > 0 {
		f.hasWidths = true
		f.widths = make([]float64, len(arr))
		for i, w := range arr {
			f.widths[i], _ = number(w, r)
		}
	}
	f.defWidth = f.metrics.DefaultWidth
	if desc := dictionary(dict.Get("FontDescriptor"), r); desc != nil {
		if mw, ok := number(desc.Get("MissingWidth"), r); ok && mw > 0 {
			f.defWidth = mw
		}
	}
	f.encoding = loadEncoding(dict.Get("Encoding"), r)
	return f
}

func (f *Font) loadType0(dict *generic.DictionaryObject, r Resolver) {
	f.twoByte = true
	f.defWidth = 1000
	f.cidWidths = make(map[uint32]float64)

	descendants := array(dict.Get("DescendantFonts"), r)
	if len(descendants) == 0 {
		return
	}
	cid := dictionary(descendants[0], r)
	if cid == nil {
		return
	}
	if dw, ok := number(cid.Get("DW"), r); ok {
		f.defWidth = dw
	}

	w := array(cid.Get("W"), r)
	for i := 0; i < len(w); {
		first, ok := number(w[i], r)
		if !ok || i+1 >= len(w) {
			break
		}
		if list := array(w[i+1], r); list != nil {
			for j, item := range list {
				v, _ := number(item, r)
				f.cidWidths[uint32(first)+uint32(j)] = v
			}
			i += 2
			continue
		}
		if i+2 >= len(w) {
			break
		}
		last, _ := number(w[i+1], r)
		v, _ := number(w[i+2], r)
		for c := uint32(first); c <= uint32(last) && c-uint32(first) < 0x10000; c++ {
			f.cidWidths[c] = v
		}
		i += 3
	}
}

// Decode splits a shown string into glyphs.
func (f *Font) Decode(data []byte) []Glyph {
	var out []Glyph
	for len(data) > 0 {
		var code uint32
		n := 1
		switch {
		case f.twoByte:
			if len(data) < 2 {
				code = uint32(data[0])
			} else {
				code, n = uint32(data[0])<<8|uint32(data[1]), 2
			}
		case f.toUnicode != nil && len(f.toUnicode.codespaces) > 0:
			code, n = f.toUnicode.NextCode(data)
		default:
			code = uint32(data[0])
		}
		data = data[n:]

		out = append(out, Glyph{
			Code:      code,
			Text:      f.text(code),
			Width:     f.width(code),
			WordSpace: n == 1 && code == 32,
		})
	}
	return out
}

func (f *Font) text(code uint32) string {
	if f.toUnicode != nil {
		if s, ok := f.toUnicode.Lookup(code); ok {
			return s
		}
	}
	if f.twoByte {
		return ""
	}
	if f.encoding != nil && code < 256 {
		if r := f.encoding[code]; r != 0 {
			return string(r)
		}
		return ""
	}
	return string(charmap.Windows1252.DecodeByte(byte(code)))
}

func (f *Font) width(code uint32) float64 {
	if f.twoByte {
		if w, ok := f.cidWidths[code]; ok {
			return w
		}
		return f.defWidth
	}
	if f.hasWidths {
		idx := int(code) - f.firstChar
		if idx >= 0 && idx < len(f.widths) {
			return f.widths[idx]
		}
		return f.defWidth
	}
	text := f.text(code)
	if text == "" {
		return f.metrics.DefaultWidth
	}
	var w float64
	for _, r := range text {
		w += f.metrics.GetWidth(r)
	}
	return w
}

// Metrics returns the font's fallback metrics.
func (f *Font) Metrics() *FontMetrics {
	return f.metrics
}

// stripSubsetTag removes an "ABCDEF+" subset prefix.
func stripSubsetTag(name string) string {
	if len(name) > 7 && name[6] == '+' && strings.ToUpper(name[:6]) == name[:6] {
		return name[7:]
	}
	return name
}

func loadCMap(obj generic.PdfObject, r Resolver) *CMap {
	if obj == nil {
		return nil
	}
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	stream, ok := resolved.(*generic.StreamObject)
	if !ok {
		return nil
	}
	cm, err := ParseCMap(stream.DecodedData())
	if err != nil || len(cm.mapping) == 0 {
		return nil
	}
	return cm
}

func baseEncoding(name string) *[256]rune {
	var table [256]rune
	cm := charmap.Windows1252
	if name == "MacRomanEncoding" {
		cm = charmap.Macintosh
	}
	for i := 0; i < 256; i++ {
		r := cm.DecodeByte(byte(i))
		if r != '\ufffd' {
			table[i] = r
		}
	}
	if name == "StandardEncoding" {
		table['\''] = '’'
		table['`'] = '‘'
	}
	return &table
}

func loadEncoding(obj generic.PdfObject, r Resolver) *[256]rune {
	if obj == nil {
		return nil
	}
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	switch enc := resolved.(type) {
	case generic.NameObject:
		return baseEncoding(string(enc))
	case *generic.DictionaryObject:
		table := baseEncoding(enc.GetName("BaseEncoding"))
		code := 0
		for _, item := range array(enc.Get("Differences"), r) {
			switch v := item.(type) {
			case generic.IntegerObject:
				code = int(v)
			case generic.NameObject:
				if code >= 0 && code < 256 {
					table[code] = GlyphRune(string(v))
				}
				code++
			}
		}
		return table
	}
	return nil
}

// GlyphRune maps a glyph name to a rune. It understands single-character
// names, the uniXXXX and uXXXX forms and a list of common names; anything
// else maps to 0.
func GlyphRune(name string) rune {
	if len(name) == 1 {
		return rune(name[0])
	}
	if r, ok := glyphNames[name]; ok {
		return r
	}
	if hex, ok := strings.CutPrefix(name, "uni"); ok && len(hex) >= 4 {
		if v, err := strconv.ParseUint(hex[:4], 16, 32); err == nil {
			return rune(v)
		}
	}
	if hex, ok := strings.CutPrefix(name, "u"); ok && len(hex) >= 4 && len(hex) <= 6 {
		if v, err := strconv.ParseUint(hex, 16, 32); err == nil {
			return rune(v)
		}
	}
	return 0
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#',
	"dollar": '$', "percent": '%', "ampersand": '&', "quotesingle": '\'',
	"parenleft": '(', "parenright": ')', "asterisk": '*', "plus": '+',
	"comma": ',', "hyphen": '-', "period": '.', "slash": '/',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"colon": ':', "semicolon": ';', "less": '<', "equal": '=', "greater": '>',
	"question": '?', "at": '@', "bracketleft": '[', "backslash": '\\',
	"bracketright": ']', "asciicircum": '^', "underscore": '_', "grave": '`',
	"braceleft": '{', "bar": '|', "braceright": '}', "asciitilde": '~',
	"quoteleft": '‘', "quoteright": '’', "quotedblleft": '“',
	"quotedblright": '”', "endash": '–', "emdash": '—',
	"bullet": '•', "ellipsis": '…', "fi": 'ﬁ', "fl": 'ﬂ',
	"minus": '−', "nbspace": ' ', "degree": '°',
	"copyright": '©', "registered": '®', "trademark": '™',
	"Euro": '€', "eacute": 'é', "egrave": 'è', "agrave": 'à',
	"ccedilla": 'ç', "udieresis": 'ü', "odieresis": 'ö',
	"adieresis": 'ä', "germandbls": 'ß',
}

func number(obj generic.PdfObject, r Resolver) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	resolved, err := r.Resolve(obj)
	if err != nil {
		return 0, false
	}
	return generic.Number(resolved)
}

func array(obj generic.PdfObject, r Resolver) generic.ArrayObject {
	if obj == nil {
		return nil
	}
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	arr, _ := resolved.(generic.ArrayObject)
	return arr
}

func dictionary(obj generic.PdfObject, r Resolver) *generic.DictionaryObject {
	if obj == nil {
		return nil
	}
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	dict, _ := resolved.(*generic.DictionaryObject)
	return dict
}
