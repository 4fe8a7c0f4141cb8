// Package content parses and builds PDF content streams.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// Operator is a content stream operator.
type Operator string

// Operators the builder emits or the text interpreter acts on.
const (
	OpSaveState    Operator = "q"
	OpRestoreState Operator = "Q"
	OpSetCTM       Operator = "cm"
	OpSetLineWidth Operator = "w"

	OpMoveTo    Operator = "m"
	OpLineTo    Operator = "l"
	OpRectangle Operator = "re"
	OpClosePath Operator = "h"
	OpStroke    Operator = "S"
	OpFill      Operator = "f"

	OpBeginText Operator = "BT"
	OpEndText   Operator = "ET"

	OpSetCharSpacing Operator = "Tc"
	OpSetWordSpacing Operator = "Tw"
	OpSetHScale      Operator = "Tz"
	OpSetLeading     Operator = "TL"
	OpSetFont        Operator = "Tf"
	OpSetRenderMode  Operator = "Tr"
	OpSetTextRise    Operator = "Ts"

	OpTextMove      Operator = "Td"
	OpTextMoveSet   Operator = "TD"
	OpSetTextMatrix Operator = "Tm"
	OpTextNextLine  Operator = "T*"

	OpShowText      Operator = "Tj"
	OpShowTextArray Operator = "TJ"
	OpMoveShowText  Operator = "'"
	OpMoveSetShow   Operator = "\""

	OpSetStrokeGray Operator = "G"
	OpSetFillGray   Operator = "g"
	OpSetStrokeRGB  Operator = "RG"
	OpSetFillRGB    Operator = "rg"

	OpPaintXObject Operator = "Do"

	OpBeginInlineImage Operator = "BI"
	OpBeginImageData   Operator = "ID"
	OpEndInlineImage   Operator = "EI"
)

// ErrUnbalancedState is returned by Validate for unmatched q/Q or BT/ET.
var ErrUnbalancedState = errors.New("unbalanced content stream")

// Operation is one operator with its operands.
type Operation struct {
	Operator Operator
	Operands []generic.PdfObject
}

// ContentStream is a parsed or built content stream.
type ContentStream struct {
	Operations []Operation
}

// NewContentStream creates a new empty content stream.
func NewContentStream() *ContentStream {
	return &ContentStream{}
}

// AddOperation appends an operation.
func (cs *ContentStream) AddOperation(op Operator, operands ...generic.PdfObject) {
	cs.Operations = append(cs.Operations, Operation{Operator: op, Operands: operands})
}

// Render serializes the stream, one operation per line.
func (cs *ContentStream) Render() []byte {
	var buf bytes.Buffer
	for _, op := range cs.Operations {
		for _, operand := range op.Operands {
			operand.Write(&buf)
			buf.WriteByte(' ')
		}
		buf.WriteString(string(op.Operator))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Validate checks that q/Q and BT/ET pairs balance.
func (cs *ContentStream) Validate() error {
	depth, inText := 0, false
	for i, op := range cs.Operations {
		switch op.Operator {
		case OpSaveState:
			depth++
		case OpRestoreState:
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: Q without q at operation %d", ErrUnbalancedState, i)
			}
		case OpBeginText:
			if inText {
				return fmt.Errorf("%w: nested BT at operation %d", ErrUnbalancedState, i)
			}
			inText = true
		case OpEndText:
			if !inText {
				return fmt.Errorf("%w: ET without BT at operation %d", ErrUnbalancedState, i)
			}
			inText = false
		}
	}
	if depth != 0 || inText {
		return fmt.Errorf("%w: %d open q, text open=%v", ErrUnbalancedState, depth, inText)
	}
	return nil
}

// Parse tokenizes a content stream. Inline image data is skipped and
// recorded as a single BI operation.
func Parse(data []byte) (*ContentStream, error) {
	p := generic.NewParserFromBytes(data)
	cs := NewContentStream()
	var operands []generic.PdfObject

	for {
		p.SkipWhitespace()
		if p.AtEOF() {
			break
		}
		obj, err := p.ParseObject()
		if err != nil {
			return cs, fmt.Errorf("content stream at offset %d: %w", p.Pos(), err)
		}
		kw, ok := obj.(generic.Keyword)
		if !ok {
			operands = append(operands, obj)
			continue
		}
		if Operator(kw) == OpBeginInlineImage {
			if err := skipInlineImage(p); err != nil {
				return cs, err
			}
			cs.AddOperation(OpBeginInlineImage)
			operands = nil
			continue
		}
		cs.AddOperation(Operator(kw), operands...)
		operands = nil
	}
	return cs, nil
}

// skipInlineImage moves past "... ID <data> EI". The EI must be followed by
// whitespace or the end of the stream.
func skipInlineImage(p *generic.Parser) error {
	data := p.Data()
	idx := bytes.Index(data[p.Pos():], []byte("ID"))
	if idx < 0 {
		return errors.New("inline image without ID")
	}
	pos := p.Pos() + idx + 3
	for pos < len(data) {
		i := bytes.Index(data[pos:], []byte("EI"))
		if i < 0 {
			break
		}
		end := pos + i + 2
		if generic.IsWhitespace(data[pos+i-1]) && (end == len(data) || generic.IsWhitespace(data[end])) {
			p.Seek(end)
			return nil
		}
		pos = end
	}
	return errors.New("inline image without EI")
}

// ContentBuilder provides a fluent interface for building content streams.
type ContentBuilder struct {
	stream *ContentStream
}

// NewContentBuilder creates a new content builder.
func NewContentBuilder() *ContentBuilder {
	return &ContentBuilder{stream: NewContentStream()}
}

func nums(values ...float64) []generic.PdfObject {
	out := make([]generic.PdfObject, len(values))
	for i, v := range values {
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			out[i] = generic.IntegerObject(int64(v))
		} else {
			out[i] = generic.RealObject(v)
		}
	}
	return out
}

// SaveState saves the graphics state.
func (cb *ContentBuilder) SaveState() *ContentBuilder {
	cb.stream.AddOperation(OpSaveState)
	return cb
}

// RestoreState restores the graphics state.
func (cb *ContentBuilder) RestoreState() *ContentBuilder {
	cb.stream.AddOperation(OpRestoreState)
	return cb
}

// Transform concatenates a matrix to the CTM.
func (cb *ContentBuilder) Transform(a, b, c, d, e, f float64) *ContentBuilder {
	cb.stream.AddOperation(OpSetCTM, nums(a, b, c, d, e, f)...)
	return cb
}

// Translate moves the origin.
func (cb *ContentBuilder) Translate(tx, ty float64) *ContentBuilder {
	return cb.Transform(1, 0, 0, 1, tx, ty)
}

// MoveTo begins a subpath.
func (cb *ContentBuilder) MoveTo(x, y float64) *ContentBuilder {
	cb.stream.AddOperation(OpMoveTo, nums(x, y)...)
	return cb
}

// LineTo appends a line segment.
func (cb *ContentBuilder) LineTo(x, y float64) *ContentBuilder {
	cb.stream.AddOperation(OpLineTo, nums(x, y)...)
	return cb
}

// Rectangle appends a rectangle.
func (cb *ContentBuilder) Rectangle(x, y, width, height float64) *ContentBuilder {
	cb.stream.AddOperation(OpRectangle, nums(x, y, width, height)...)
	return cb
}

// Stroke strokes the path.
func (cb *ContentBuilder) Stroke() *ContentBuilder {
	cb.stream.AddOperation(OpStroke)
	return cb
}

// Fill fills the path.
func (cb *ContentBuilder) Fill() *ContentBuilder {
	cb.stream.AddOperation(OpFill)
	return cb
}

// SetLineWidth sets the line width.
func (cb *ContentBuilder) SetLineWidth(width float64) *ContentBuilder {
	cb.stream.AddOperation(OpSetLineWidth, nums(width)...)
	return cb
}

// SetStrokeRGB sets the stroke color.
func (cb *ContentBuilder) SetStrokeRGB(r, g, b float64) *ContentBuilder {
	cb.stream.AddOperation(OpSetStrokeRGB, nums(r, g, b)...)
	return cb
}

// SetFillRGB sets the fill color.
func (cb *ContentBuilder) SetFillRGB(r, g, b float64) *ContentBuilder {
	cb.stream.AddOperation(OpSetFillRGB, nums(r, g, b)...)
	return cb
}

// SetFillGray sets the fill color (grayscale).
func (cb *ContentBuilder) SetFillGray(gray float64) *ContentBuilder {
	cb.stream.AddOperation(OpSetFillGray, nums(gray)...)
	return cb
}

// BeginText begins a text object.
func (cb *ContentBuilder) BeginText() *ContentBuilder {
	cb.stream.AddOperation(OpBeginText)
	return cb
}

// EndText ends a text object.
func (cb *ContentBuilder) EndText() *ContentBuilder {
	cb.stream.AddOperation(OpEndText)
	return cb
}

// SetFont selects a font resource and size.
func (cb *ContentBuilder) SetFont(font string, size float64) *ContentBuilder {
	cb.stream.AddOperation(OpSetFont, append([]generic.PdfObject{generic.NameObject(font)}, nums(size)...)...)
	return cb
}

// TextPosition moves to the start of the next line, offset from the
// current line start.
func (cb *ContentBuilder) TextPosition(x, y float64) *ContentBuilder {
	cb.stream.AddOperation(OpTextMove, nums(x, y)...)
	return cb
}

// SetTextMatrix sets the text matrix to a translation.
func (cb *ContentBuilder) SetTextMatrix(x, y float64) *ContentBuilder {
	cb.stream.AddOperation(OpSetTextMatrix, nums(1, 0, 0, 1, x, y)...)
	return cb
}

// ShowText shows already font-encoded bytes.
func (cb *ContentBuilder) ShowText(encoded []byte) *ContentBuilder {
	cb.stream.AddOperation(OpShowText, &generic.StringObject{Value: encoded})
	return cb
}

// PaintXObject paints a named XObject.
func (cb *ContentBuilder) PaintXObject(name string) *ContentBuilder {
	cb.stream.AddOperation(OpPaintXObject, generic.NameObject(name))
	return cb
}

// Build returns the content stream.
func (cb *ContentBuilder) Build() *ContentStream {
	return cb.stream
}

// Render renders the content stream to bytes.
func (cb *ContentBuilder) Render() []byte {
	return cb.stream.Render()
}
