package stamp

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/georgepadayatti/tokenstamp/pdf/content"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
	"github.com/georgepadayatti/tokenstamp/pdf/reader"
	"github.com/georgepadayatti/tokenstamp/pdf/writer"
)

// Common errors
var (
	ErrOutputIsInput = errors.New("output path is the input path")
	ErrNoPlacements  = errors.New("nothing to stamp")
)

// Stamper is an interface for objects that can be stamped onto a PDF page.
type Stamper interface {
	// CreateAppearanceStream creates the PDF appearance stream for this stamp.
	CreateAppearanceStream() *generic.StreamObject
	// GetDimensions returns the width and height of the stamp.
	GetDimensions() (width, height float64)
}

// ApplyOptions configures how a stamp is applied to a page.
type ApplyOptions struct {
	// WrapExistingContent wraps existing page content in q/Q to isolate graphics state.
	// Default is true.
	WrapExistingContent bool

	// Rotate is the page /Rotate value. The stamp is counter-rotated so it
	// reads upright in a viewer; (x, y) stays the lower-left corner of the
	// area it covers.
	Rotate int
}

// DefaultApplyOptions returns the default apply options.
func DefaultApplyOptions() *ApplyOptions {
	return &ApplyOptions{
		WrapExistingContent: true,
	}
}

// resourceName returns a fresh XObject name that cannot collide with the
// page's own resources in practice.
func resourceName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate resource name: %w", err)
	}
	return "TS" + hex.EncodeToString(b), nil
}

// ApplyStamp paints stamp on the page at pageIndex (0-based) with its
// lower-left corner at (x, y). Returns the page reference.
func ApplyStamp(w *writer.IncrementalPdfFileWriter, stamp Stamper, pageIndex int, x, y float64, opts *ApplyOptions) (generic.Reference, error) {
	if opts == nil {
		opts = DefaultApplyOptions()
	}

	name, err := resourceName()
	if err != nil {
		return generic.Reference{}, err
	}
	stampRef := w.AddObject(stamp.CreateAppearanceStream())

	xobjects := generic.NewDictionary()
	xobjects.Set(name, stampRef)
	resources := generic.NewDictionary()
	resources.Set("XObject", xobjects)

	if opts.WrapExistingContent {
		qRef := w.AddObject(generic.NewStream(nil, []byte("q\n")))
		if _, err := w.AddStreamToPage(pageIndex, qRef, nil, true); err != nil {
			return generic.Reference{}, err
		}
		bigQRef := w.AddObject(generic.NewStream(nil, []byte("\nQ\n")))
		if _, err := w.AddStreamToPage(pageIndex, bigQRef, nil, false); err != nil {
			return generic.Reference{}, err
		}
	}

	w0, h0 := stamp.GetDimensions()
	m := uprightMatrix(opts.Rotate, x, y, w0, h0)
	paint := content.NewContentBuilder().
		SaveState().
		Transform(m[0], m[1], m[2], m[3], m[4], m[5]).
		PaintXObject(name).
		RestoreState().
		Render()
	wrapperRef := w.AddObject(generic.NewStream(nil, paint))
	return w.AddStreamToPage(pageIndex, wrapperRef, resources, false)
}

// MutateOptions configures Stamp and Mutate.
type MutateOptions struct {
	// InputPath is the file the reader was loaded from. Mutate refuses to
	// write over it.
	InputPath string
	// Highlight outlines each anchored phrase; nil disables it.
	Highlight *HighlightStyle
	Logger    *zap.Logger
}

func (o *MutateOptions) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Stamp applies one signature stamp per placement, plus a highlight around
// each anchored phrase, as an incremental update of r.
func Stamp(ctx context.Context, r *reader.PdfFileReader, placements []Placement, sig *SignatureStamp, opts *MutateOptions) (*writer.IncrementalPdfFileWriter, error) {
	if len(placements) == 0 {
		return nil, ErrNoPlacements
	}
	if err := sig.Layout.Validate(); err != nil {
		return nil, err
	}

	log := opts.logger()
	w := writer.NewIncrementalPdfFileWriter(r)
	wrapped := make(map[int]bool)

	for _, p := range placements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Page < 1 || p.Page > r.GetPageCount() {
			return nil, fmt.Errorf("%w: %d of %d", reader.ErrPageRange, p.Page, r.GetPageCount())
		}
		idx := p.Page - 1

		apply := &ApplyOptions{WrapExistingContent: !wrapped[idx]}
		wrapped[idx] = true

		if p.Around != nil && opts != nil && opts.Highlight != nil {
			h := &Highlight{
				Rect:  generic.Rectangle{LLX: p.Around.LLX, LLY: p.Around.LLY, URX: p.Around.URX, URY: p.Around.URY},
				Style: opts.Highlight,
			}
			hx, hy := h.Origin()
			if _, err := ApplyStamp(w, h, idx, hx, hy, apply); err != nil {
				return nil, fmt.Errorf("failed to highlight %s: %w", p, err)
			}
			apply = &ApplyOptions{}
		}
		apply.Rotate = r.Pages[idx].Rotate

		if _, err := ApplyStamp(w, sig, idx, p.X, p.Y, apply); err != nil {
			return nil, fmt.Errorf("failed to apply stamp on %s: %w", p, err)
		}
		log.Debug("stamp placed",
			zap.Int("page", p.Page),
			zap.Float64("x", p.X),
			zap.Float64("y", p.Y),
			zap.Bool("anchored", p.Around != nil))
	}
	return w, nil
}

// Mutate stamps r and writes the result to outPath. The output is written
// to a temporary file in the same directory and renamed into place, so a
// failed run leaves no partial file behind.
func Mutate(ctx context.Context, r *reader.PdfFileReader, outPath string, placements []Placement, sig *SignatureStamp, opts *MutateOptions) error {
	if opts != nil && opts.InputPath != "" {
		same, err := samePath(opts.InputPath, outPath)
		if err != nil {
			return err
		}
		if same {
			return fmt.Errorf("%w: %s", ErrOutputIsInput, outPath)
		}
	}

	if n := sig.Unencodable(); n > 0 {
		opts.logger().Warn("stamp text has characters outside WinAnsi, drawn as '?'",
			zap.String("username", sig.Username),
			zap.Int("substituted", n))
	}

	w, err := Stamp(ctx, r, placements, sig, opts)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		return fmt.Errorf("failed to serialize %s: %w", outPath, err)
	}
	if err := writeFile(outPath, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	opts.logger().Info("output written",
		zap.String("path", outPath),
		zap.Int("bytes", buf.Len()),
		zap.Int("stamps", len(placements)))
	return nil
}

func writeFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tokenstamp-*.pdf")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// samePath reports whether a and b name the same file, following links
// when both exist.
func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	if absA == absB {
		return true, nil
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	if errA != nil || errB != nil {
		return false, nil
	}
	return os.SameFile(infoA, infoB), nil
}
