package locate

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/georgepadayatti/tokenstamp/pdf/content"
	"github.com/georgepadayatti/tokenstamp/pdf/fonts"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
	"github.com/georgepadayatti/tokenstamp/pdf/reader"
)

const (
	// maxFormDepth bounds Form XObject recursion.
	maxFormDepth = 8
	// newlineFactor is the baseline shift, relative to the font size, that
	// starts a new line.
	newlineFactor = 0.5
	// spaceFactor is the horizontal gap, relative to the font size, that
	// counts as a word break.
	spaceFactor = 0.15
)

// matrix is a PDF transformation matrix [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

func translate(tx, ty float64) matrix {
	return matrix{1, 0, 0, 1, tx, ty}
}

type textState struct {
	font    *fonts.Font
	size    float64
	charSp  float64
	wordSp  float64
	hScale  float64
	leading float64
	rise    float64
}

type graphicsState struct {
	ctm  matrix
	text textState
}

// extractor interprets the content streams of one page.
type extractor struct {
	r         *reader.PdfFileReader
	fontCache map[*generic.DictionaryObject]*fonts.Font

	gs    graphicsState
	stack []graphicsState
	tm    matrix
	tlm   matrix

	out     strings.Builder
	glyphs  []Glyph
	hasPrev bool
	prevY   float64
	prevEnd float64
	prevSz  float64
	lastRn  rune

	formsActive map[*generic.StreamObject]bool
}

func newExtractor(r *reader.PdfFileReader) *extractor {
	return &extractor{
		r:           r,
		fontCache:   make(map[*generic.DictionaryObject]*fonts.Font),
		formsActive: make(map[*generic.StreamObject]bool),
	}
}

func (e *extractor) page(page *reader.Page, number int) (PageText, error) {
	e.out.Reset()
	e.glyphs = nil
	e.hasPrev = false
	e.gs = graphicsState{ctm: identity, text: textState{hScale: 1}}
	e.stack = nil

	streams, err := e.r.ContentStreams(page)
	if err != nil {
		return PageText{}, err
	}
	for _, data := range streams {
		// A content stream may end mid-object; keep what was parsed.
		cs, _ := content.Parse(data)
		e.run(cs, page.Resources, 0)
	}
	return PageText{Number: number, Text: e.out.String(), Glyphs: e.glyphs}, nil
}

func (e *extractor) run(cs *content.ContentStream, resources *generic.DictionaryObject, depth int) {
	for _, op := range cs.Operations {
		e.do(op, resources, depth)
	}
}

func (e *extractor) nums(operands []generic.PdfObject, n int) ([]float64, bool) {
	if len(operands) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, o := range operands[len(operands)-n:] {
		v, ok := generic.Number(o)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (e *extractor) do(op content.Operation, resources *generic.DictionaryObject, depth int) {
	ts := &e.gs.text
	switch op.Operator {
	case content.OpSaveState:
		e.stack = append(e.stack, e.gs)
	case content.OpRestoreState:
		if n := len(e.stack); n > 0 {
			e.gs = e.stack[n-1]
			e.stack = e.stack[:n-1]
		}
	case content.OpSetCTM:
		if v, ok := e.nums(op.Operands, 6); ok {
			e.gs.ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.mul(e.gs.ctm)
		}
	case content.OpBeginText:
		e.tm, e.tlm = identity, identity
	case content.OpSetFont:
		if len(op.Operands) >= 2 {
			if name, ok := op.Operands[0].(generic.NameObject); ok {
				ts.font = e.font(resources, string(name))
			}
			ts.size, _ = generic.Number(op.Operands[1])
		}
	case content.OpSetCharSpacing:
		if v, ok := e.nums(op.Operands, 1); ok {
			ts.charSp = v[0]
		}
	case content.OpSetWordSpacing:
		if v, ok := e.nums(op.Operands, 1); ok {
			ts.wordSp = v[0]
		}
	case content.OpSetHScale:
		if v, ok := e.nums(op.Operands, 1); ok {
			ts.hScale = v[0] / 100
		}
	case content.OpSetLeading:
		if v, ok := e.nums(op.Operands, 1); ok {
			ts.leading = v[0]
		}
	case content.OpSetTextRise:
		if v, ok := e.nums(op.Operands, 1); ok {
			ts.rise = v[0]
		}
	case content.OpTextMove:
		if v, ok := e.nums(op.Operands, 2); ok {
			e.moveText(v[0], v[1])
		}
	case content.OpTextMoveSet:
		if v, ok := e.nums(op.Operands, 2); ok {
			ts.leading = -v[1]
			e.moveText(v[0], v[1])
		}
	case content.OpSetTextMatrix:
		if v, ok := e.nums(op.Operands, 6); ok {
			e.tm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			e.tlm = e.tm
		}
	case content.OpTextNextLine:
		e.moveText(0, -ts.leading)
	case content.OpShowText:
		if len(op.Operands) >= 1 {
			e.show(op.Operands[len(op.Operands)-1])
		}
	case content.OpMoveShowText:
		e.moveText(0, -ts.leading)
		if len(op.Operands) >= 1 {
			e.show(op.Operands[len(op.Operands)-1])
		}
	case content.OpMoveSetShow:
		if len(op.Operands) >= 3 {
			ts.wordSp, _ = generic.Number(op.Operands[0])
			ts.charSp, _ = generic.Number(op.Operands[1])
			e.moveText(0, -ts.leading)
			e.show(op.Operands[2])
		}
	case content.OpShowTextArray:
		if len(op.Operands) >= 1 {
			if arr, ok := op.Operands[len(op.Operands)-1].(generic.ArrayObject); ok {
				for _, item := range arr {
					if adj, ok := generic.Number(item); ok {
						e.tm = translate(-adj/1000*ts.size*ts.hScale, 0).mul(e.tm)
						continue
					}
					e.show(item)
				}
			}
		}
	case content.OpPaintXObject:
		if len(op.Operands) >= 1 && depth < maxFormDepth {
			if name, ok := op.Operands[0].(generic.NameObject); ok {
				e.form(resources, string(name), depth)
			}
		}
	}
}

func (e *extractor) moveText(tx, ty float64) {
	e.tlm = translate(tx, ty).mul(e.tlm)
	e.tm = e.tlm
}

func (e *extractor) font(resources *generic.DictionaryObject, name string) *fonts.Font {
	fontDict := e.r.ResolveDict(resources.Get("Font"))
	if fontDict == nil {
		return nil
	}
	dict := e.r.ResolveDict(fontDict.Get(name))
	if dict == nil {
		return nil
	}
	if f, ok := e.fontCache[dict]; ok {
		return f
	}
	f := fonts.Load(dict, e.r)
	e.fontCache[dict] = f
	return f
}

func (e *extractor) form(resources *generic.DictionaryObject, name string, depth int) {
	xobjects := e.r.ResolveDict(resources.Get("XObject"))
	if xobjects == nil {
		return
	}
	obj, err := e.r.Resolve(xobjects.Get(name))
	if err != nil {
		return
	}
	stream, ok := obj.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Subtype") != "Form" || e.formsActive[stream] {
		return
	}
	e.formsActive[stream] = true
	defer delete(e.formsActive, stream)

	saved := e.gs
	savedStack := len(e.stack)
	if m := e.r.ResolveArray(stream.Dictionary.Get("Matrix")); len(m) == 6 {
		var fm matrix
		for i, v := range m {
			fm[i], _ = generic.Number(v)
		}
		e.gs.ctm = fm.mul(e.gs.ctm)
	}

	formResources := e.r.ResolveDict(stream.Dictionary.Get("Resources"))
	if formResources == nil {
		formResources = resources
	}
	cs, _ := content.Parse(stream.DecodedData())
	e.run(cs, formResources, depth+1)

	e.gs = saved
	if len(e.stack) > savedStack {
		e.stack = e.stack[:savedStack]
	}
}

func (e *extractor) show(obj generic.PdfObject) {
	s, ok := obj.(*generic.StringObject)
	if !ok {
		return
	}
	ts := &e.gs.text
	font := ts.font
	if font == nil {
		font = fonts.Load(generic.NewDictionary(), e.r)
		ts.font = font
	}
	metrics := font.Metrics()
	asc := metrics.Ascender / 1000
	desc := metrics.Descender / 1000

	for _, g := range font.Decode(s.Value) {
		w0 := g.Width / 1000
		trm := matrix{ts.size * ts.hScale, 0, 0, ts.size, 0, ts.rise}.mul(e.tm).mul(e.gs.ctm)

		if g.Text != "" {
			ox, oy := trm.apply(0, 0)
			ex, _ := trm.apply(w0, 0)
			box := boundingBox(trm, w0, desc, asc)
			size := math.Hypot(trm[2], trm[3])
			e.emit(g.Text, box, ox, oy, ex, size)
		}

		tx := w0*ts.size + ts.charSp
		if g.WordSpace {
			tx += ts.wordSp
		}
		e.tm = translate(tx*ts.hScale, 0).mul(e.tm)
	}
}

func boundingBox(m matrix, w, desc, asc float64) Rect {
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = m.apply(0, desc)
	xs[1], ys[1] = m.apply(w, desc)
	xs[2], ys[2] = m.apply(0, asc)
	xs[3], ys[3] = m.apply(w, asc)
	r := Rect{LLX: xs[0], LLY: ys[0], URX: xs[0], URY: ys[0]}
	for i := 1; i < 4; i++ {
		r.LLX = math.Min(r.LLX, xs[i])
		r.URX = math.Max(r.URX, xs[i])
		r.LLY = math.Min(r.LLY, ys[i])
		r.URY = math.Max(r.URY, ys[i])
	}
	return r
}

// emit appends decoded text, inserting a newline or space first when the
// glyph starts a new line or word.
func (e *extractor) emit(text string, box Rect, x, y, endX, size float64) {
	first, _ := utf8.DecodeRuneInString(text)
	if e.hasPrev {
		scale := math.Max(size, e.prevSz)
		switch {
		case math.Abs(y-e.prevY) > newlineFactor*scale:
			e.separator('\n', x, y)
		case e.lastRn != ' ' && first != ' ' &&
			(x-e.prevEnd > spaceFactor*size || e.prevEnd-x > size):
			e.separator(' ', x, y)
		}
	}

	n := utf8.RuneCountInString(text)
	step := (box.URX - box.LLX) / float64(n)
	i := 0
	for _, r := range text {
		b := box
		if n > 1 {
			b.LLX = box.LLX + step*float64(i)
			b.URX = b.LLX + step
		}
		e.out.WriteRune(r)
		e.glyphs = append(e.glyphs, Glyph{Rune: r, Box: b})
		e.lastRn = r
		i++
	}

	e.hasPrev = true
	e.prevY = y
	e.prevEnd = endX
	e.prevSz = size
}

func (e *extractor) separator(r rune, x, y float64) {
	e.out.WriteRune(r)
	e.glyphs = append(e.glyphs, Glyph{Rune: r, Box: Rect{LLX: x, LLY: y, URX: x, URY: y}})
	e.lastRn = r
}
