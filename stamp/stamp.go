// Package stamp renders the "Digitally Signed by" block and places it on
// PDF pages.
package stamp

import (
	"fmt"
	"image/color"

	"github.com/georgepadayatti/tokenstamp/pdf/content"
	"github.com/georgepadayatti/tokenstamp/pdf/fonts"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// Caption prefixes of the two stamp lines.
const (
	SignedByPrefix  = "Digitally Signed by: "
	TimestampPrefix = "Timestamp: "
)

// StampStyle configures colours and the font of a stamp.
type StampStyle struct {
	// Background color; an alpha of 0 leaves the box unfilled.
	BackgroundColor color.RGBA
	// Border color
	BorderColor color.RGBA
	// Text color
	TextColor color.RGBA
	// Font name (standard PDF fonts)
	FontName string
}

// DefaultStampStyle returns a black outline with black Helvetica text.
func DefaultStampStyle() *StampStyle {
	return &StampStyle{
		BackgroundColor: color.RGBA{255, 255, 255, 0},
		BorderColor:     color.RGBA{0, 0, 0, 255},
		TextColor:       color.RGBA{0, 0, 0, 255},
		FontName:        string(fonts.Helvetica),
	}
}

// Layout fixes the geometry of the stamp box. Text positions are baseline
// offsets from the lower-left corner of the box.
type Layout struct {
	Width       float64
	Height      float64
	TextX       float64
	TextY       float64
	LineSpacing float64
	FontSize    float64
	BorderWidth float64
}

// FallbackLayout is the 300x100 block used when the phrase is not found.
func FallbackLayout() Layout {
	return Layout{
		Width:       300,
		Height:      100,
		TextX:       20,
		TextY:       70,
		LineSpacing: 20,
		FontSize:    12,
		BorderWidth: 1,
	}
}

// AnchoredLayout is the compact block drawn next to each occurrence.
func AnchoredLayout() Layout {
	return Layout{
		Width:       260,
		Height:      36,
		TextX:       6,
		TextY:       22,
		LineSpacing: 12,
		FontSize:    10,
		BorderWidth: 1,
	}
}

// Validate reports a layout that cannot be drawn.
func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("stamp box must have positive size, got %gx%g", l.Width, l.Height)
	}
	if l.FontSize <= 0 {
		return fmt.Errorf("font size must be positive, got %g", l.FontSize)
	}
	if l.BorderWidth < 0 {
		return fmt.Errorf("border width must not be negative, got %g", l.BorderWidth)
	}
	return nil
}

// SignatureStamp is the visual block naming the token holder and the time
// the token was read.
type SignatureStamp struct {
	Username  string
	Timestamp string
	Layout    Layout
	Style     *StampStyle
}

// NewSignatureStamp creates a stamp with the default style.
func NewSignatureStamp(username, timestamp string, layout Layout) *SignatureStamp {
	return &SignatureStamp{
		Username:  username,
		Timestamp: timestamp,
		Layout:    layout,
		Style:     DefaultStampStyle(),
	}
}

// Lines returns the two caption lines.
func (s *SignatureStamp) Lines() []string {
	return []string{
		SignedByPrefix + s.Username,
		TimestampPrefix + s.Timestamp,
	}
}

// Unencodable returns how many runes of the caption the WinAnsi stamp font
// cannot show. They are drawn as '?'.
func (s *SignatureStamp) Unencodable() int {
	n := 0
	for _, line := range s.Lines() {
		_, bad := fonts.EncodeWinAnsi(line)
		n += bad
	}
	return n
}

func (s *SignatureStamp) style() *StampStyle {
	if s.Style == nil {
		return DefaultStampStyle()
	}
	return s.Style
}

// rgb converts an 8-bit colour to PDF colour components.
func rgb(c color.RGBA) (float64, float64, float64) {
	return float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255
}

// Render returns the content stream of the stamp in its own coordinate
// space, origin at the lower-left corner of the box.
func (s *SignatureStamp) Render() []byte {
	l := s.Layout
	style := s.style()
	cb := content.NewContentBuilder().SaveState()

	if style.BackgroundColor.A > 0 {
		cb.SetFillRGB(rgb(style.BackgroundColor)).
			Rectangle(0, 0, l.Width, l.Height).
			Fill()
	}

	if l.BorderWidth > 0 {
		half := l.BorderWidth / 2
		cb.SetLineWidth(l.BorderWidth).
			SetStrokeRGB(rgb(style.BorderColor)).
			Rectangle(half, half, l.Width-l.BorderWidth, l.Height-l.BorderWidth).
			Stroke()
	}

	cb.SetFillRGB(rgb(style.TextColor)).
		BeginText().
		SetFont("F1", l.FontSize)
	y := l.TextY
	for _, line := range s.Lines() {
		text, _ := fonts.EncodeWinAnsi(line)
		cb.SetTextMatrix(l.TextX, y).ShowText(text)
		y -= l.LineSpacing
	}
	cb.EndText().RestoreState()

	return cb.Render()
}

// CreateAppearanceStream wraps Render in a Form XObject carrying its own
// font resource.
func (s *SignatureStamp) CreateAppearanceStream() *generic.StreamObject {
	dict := formDict(s.Layout.Width, s.Layout.Height)

	font := generic.NewDictionary()
	font.Set("Type", generic.NameObject("Font"))
	font.Set("Subtype", generic.NameObject("Type1"))
	font.Set("BaseFont", generic.NameObject(s.style().FontName))
	font.Set("Encoding", generic.NameObject("WinAnsiEncoding"))
	fontRes := generic.NewDictionary()
	fontRes.Set("F1", font)
	resources := generic.NewDictionary()
	resources.Set("Font", fontRes)
	dict.Set("Resources", resources)

	return generic.NewStream(dict, s.Render())
}

// GetDimensions returns the stamp dimensions.
func (s *SignatureStamp) GetDimensions() (width, height float64) {
	return s.Layout.Width, s.Layout.Height
}

func formDict(width, height float64) *generic.DictionaryObject {
	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XObject"))
	dict.Set("Subtype", generic.NameObject("Form"))
	dict.Set("BBox", generic.ArrayObject{
		generic.RealObject(0),
		generic.RealObject(0),
		generic.RealObject(width),
		generic.RealObject(height),
	})
	return dict
}

// HighlightStyle configures the outline drawn around a matched phrase.
type HighlightStyle struct {
	Color     color.RGBA
	LineWidth float64
	Padding   float64
}

// DefaultHighlightStyle returns a thin red outline.
func DefaultHighlightStyle() *HighlightStyle {
	return &HighlightStyle{
		Color:     color.RGBA{255, 0, 0, 255},
		LineWidth: 1,
		Padding:   2,
	}
}

// Highlight is an outline around a rectangle of page space, applied like a
// stamp at Origin.
type Highlight struct {
	Rect  generic.Rectangle
	Style *HighlightStyle
}

// NewHighlight outlines rect with the default style.
func NewHighlight(rect generic.Rectangle) *Highlight {
	return &Highlight{Rect: rect, Style: DefaultHighlightStyle()}
}

func (h *Highlight) style() *HighlightStyle {
	if h.Style == nil {
		return DefaultHighlightStyle()
	}
	return h.Style
}

// Origin returns the page position of the highlight's lower-left corner.
func (h *Highlight) Origin() (x, y float64) {
	pad := h.style().Padding
	return h.Rect.LLX - pad, h.Rect.LLY - pad
}

// GetDimensions returns the outlined area including padding.
func (h *Highlight) GetDimensions() (width, height float64) {
	pad := h.style().Padding
	return h.Rect.Width() + 2*pad, h.Rect.Height() + 2*pad
}

// Render returns the outline content stream.
func (h *Highlight) Render() []byte {
	style := h.style()
	w, ht := h.GetDimensions()
	half := style.LineWidth / 2
	return content.NewContentBuilder().
		SaveState().
		SetLineWidth(style.LineWidth).
		SetStrokeRGB(rgb(style.Color)).
		Rectangle(half, half, w-style.LineWidth, ht-style.LineWidth).
		Stroke().
		RestoreState().
		Render()
}

// CreateAppearanceStream wraps Render in a Form XObject.
func (h *Highlight) CreateAppearanceStream() *generic.StreamObject {
	w, ht := h.GetDimensions()
	return generic.NewStream(formDict(w, ht), h.Render())
}
