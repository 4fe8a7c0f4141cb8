package stamp

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/georgepadayatti/tokenstamp/internal/testpdf"
	"github.com/georgepadayatti/tokenstamp/locate"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
	"github.com/georgepadayatti/tokenstamp/pdf/reader"
	"github.com/georgepadayatti/tokenstamp/pdf/writer"
)

const phrase = "AUTHORISED SIGNATORY"

func near(a, b float64) bool { return math.Abs(a-b) < 0.001 }

func openDoc(t *testing.T, data []byte) *locate.Document {
	t.Helper()
	doc, err := locate.Open(data)
	if err != nil {
		t.Fatalf("Failed to open document: %v", err)
	}
	return doc
}

func plan(t *testing.T, doc *locate.Document) []Placement {
	t.Helper()
	occ, err := locate.Find(doc, phrase)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	placements, err := PlanPlacements(doc, occ, AnchoredLayout(), DefaultOffsets())
	if err != nil {
		t.Fatalf("PlanPlacements failed: %v", err)
	}
	return placements
}

func TestPlanPlacementsAbovePhrase(t *testing.T) {
	doc := openDoc(t, testpdf.Build(t, testpdf.Options{},
		testpdf.Text(72, 700, 12, "Cover"),
		testpdf.Text(72, 700, 12, "Approved by "+phrase),
	))

	placements := plan(t, doc)
	if len(placements) != 1 {
		t.Fatalf("Expected 1 placement, got %d", len(placements))
	}
	p := placements[0]
	if p.Page != 2 {
		t.Errorf("Expected page 2, got %d", p.Page)
	}
	// The phrase starts 70.704pt into the line and its top is 8.616pt
	// above the baseline.
	if !near(p.X, 72+70.704+10) || !near(p.Y, 700+8.616+30) {
		t.Errorf("Unexpected origin %s", p)
	}
	if p.Around == nil || !near(p.Around.LLX, 142.704) {
		t.Errorf("Expected highlight rect at the phrase, got %+v", p.Around)
	}
}

func TestPlanPlacementsNearPageEdges(t *testing.T) {
	doc := openDoc(t, testpdf.Build(t, testpdf.Options{},
		testpdf.Text(72, 760, 12, "Approved by "+phrase),
		testpdf.Text(500, 300, 12, phrase),
	))

	placements := plan(t, doc)
	if len(placements) != 2 {
		t.Fatalf("Expected 2 placements, got %d", len(placements))
	}

	layout := AnchoredLayout()
	top := placements[0]
	if !near(top.Y, 760-2.484-30-layout.Height) {
		t.Errorf("Stamp overflowing the top should go below the phrase, got %s", top)
	}

	right := placements[1]
	if !near(right.X, 612-layout.Width) {
		t.Errorf("Stamp should be clamped to the right edge, got %s", right)
	}
	if !near(right.Y, 300+8.616+30) {
		t.Errorf("Unexpected y %s", right)
	}
}

func TestPlanPlacementsNoOccurrences(t *testing.T) {
	doc := openDoc(t, testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, "nothing")))
	placements, err := PlanPlacements(doc, nil, AnchoredLayout(), DefaultOffsets())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(placements) != 0 {
		t.Errorf("Expected no placements, got %v", placements)
	}
}

func TestFallbackPlacement(t *testing.T) {
	p := FallbackPlacement()
	if p.Page != 1 || p.X != 100 || p.Y != 100 || p.Around != nil {
		t.Errorf("Unexpected fallback %+v", p)
	}
}

func TestApplyStamp(t *testing.T) {
	input := testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, "hello"))
	r, err := reader.NewPdfFileReaderFromBytes(input)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	w := writer.NewIncrementalPdfFileWriter(r)

	s := NewSignatureStamp("ALICE", "2024-01-02 03:04:05", FallbackLayout())
	pageRef, err := ApplyStamp(w, s, 0, 100, 100, nil)
	if err != nil {
		t.Fatalf("ApplyStamp failed: %v", err)
	}
	if pageRef != r.Pages[0].Ref {
		t.Errorf("Expected page ref %v, got %v", r.Pages[0].Ref, pageRef)
	}

	obj, err := w.GetObject(pageRef.ObjectNumber)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	page := obj.(*generic.DictionaryObject)
	contents := page.GetArray("Contents")
	if len(contents) != 4 {
		t.Fatalf("Expected q, original, Q and stamp streams, got %d", len(contents))
	}

	xobjects := page.GetDict("Resources").GetDict("XObject")
	if xobjects == nil || xobjects.Len() != 1 {
		t.Fatal("Expected one XObject resource")
	}
	name := xobjects.Keys()[0]
	if !strings.HasPrefix(name, "TS") || len(name) != 18 {
		t.Errorf("Unexpected resource name %q", name)
	}
	if page.GetDict("Resources").GetDict("Font").GetDict("F1") == nil {
		t.Error("Existing font resources must survive the merge")
	}

	last := contents[3].(generic.Reference)
	paintObj, _ := w.GetObject(last.ObjectNumber)
	paint := paintObj.(*generic.StreamObject)
	expected := "q\n1 0 0 1 100 100 cm\n/" + name + " Do\nQ\n"
	if string(paint.Data) != expected {
		t.Errorf("Paint stream = %q, want %q", paint.Data, expected)
	}
}

func TestApplyStampPageOutOfRange(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(testpdf.Build(t, testpdf.Options{}, "q Q"))
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	w := writer.NewIncrementalPdfFileWriter(r)
	if _, err := ApplyStamp(w, NewSignatureStamp("a", "b", FallbackLayout()), 3, 0, 0, nil); err == nil {
		t.Error("Expected error for a missing page")
	}
}

func TestApplyStampRotatedPage(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(testpdf.Build(t, testpdf.Options{}, "q Q"))
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	w := writer.NewIncrementalPdfFileWriter(r)

	s := NewSignatureStamp("ALICE", "2024-01-02 03:04:05", FallbackLayout())
	pageRef, err := ApplyStamp(w, s, 0, 100, 100, &ApplyOptions{Rotate: 90})
	if err != nil {
		t.Fatalf("ApplyStamp failed: %v", err)
	}
	obj, _ := w.GetObject(pageRef.ObjectNumber)
	page := obj.(*generic.DictionaryObject)
	contents := page.GetArray("Contents")
	name := page.GetDict("Resources").GetDict("XObject").Keys()[0]

	last := contents[len(contents)-1].(generic.Reference)
	paintObj, _ := w.GetObject(last.ObjectNumber)
	expected := "q\n0 1 -1 0 200 100 cm\n/" + name + " Do\nQ\n"
	if got := string(paintObj.(*generic.StreamObject).Data); got != expected {
		t.Errorf("Paint stream = %q, want %q", got, expected)
	}
}

func TestAnchorUsesRotatedFootprint(t *testing.T) {
	box := generic.Rectangle{URX: 612, URY: 792}
	phraseRect := locate.Rect{LLX: 590, LLY: 100, URX: 610, URY: 110}

	w, h := footprint(90, 260, 36)
	x, y := anchor(phraseRect, box, w, h, DefaultOffsets())
	if x != 612-36 {
		t.Errorf("x = %g, want %g", x, 612.0-36)
	}
	if y != 140 {
		t.Errorf("y = %g, want 140", y)
	}
}

func TestMutateAnchoredEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, "Approved by "+phrase))
	inPath := testpdf.WriteFile(t, dir, "in.pdf", input)
	outPath := filepath.Join(dir, "out.pdf")

	doc := openDoc(t, input)
	placements := plan(t, doc)
	sig := NewSignatureStamp("ALICE", "2024-01-02 03:04:05", AnchoredLayout())
	opts := &MutateOptions{InputPath: inPath, Highlight: DefaultHighlightStyle()}

	if err := Mutate(context.Background(), doc.Reader(), outPath, placements, sig, opts); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	onDisk, err := os.ReadFile(inPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, input) {
		t.Error("Input file was modified")
	}

	output, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Output missing: %v", err)
	}
	if !bytes.HasPrefix(output, input) {
		t.Error("Output should be an incremental update of the input")
	}

	stamped := openDoc(t, output)
	if stamped.Reader().Repaired {
		t.Error("Output xref should parse without repair")
	}
	occ, err := locate.Find(stamped, "Digitally Signed by: ALICE")
	if err != nil || len(occ) != 1 {
		t.Fatalf("Expected the stamp text once, got %v (%v)", occ, err)
	}
	rects, err := stamped.Rects(occ[0])
	if err != nil {
		t.Fatalf("Rects failed: %v", err)
	}
	layout := AnchoredLayout()
	if !near(rects[0].LLX, placements[0].X+layout.TextX) {
		t.Errorf("Stamp text at x=%v, want %v", rects[0].LLX, placements[0].X+layout.TextX)
	}

	again, err := locate.Find(stamped, phrase)
	if err != nil || len(again) != 1 {
		t.Errorf("Original phrase should still be found once, got %v (%v)", again, err)
	}

	xobjects := stamped.Reader().Pages[0].Resources.GetDict("XObject")
	if xobjects == nil || xobjects.Len() != 2 {
		t.Errorf("Expected stamp and highlight XObjects, got %v", xobjects)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".tokenstamp-*"))
	if len(leftovers) != 0 {
		t.Errorf("Temporary files left behind: %v", leftovers)
	}
}

func TestMutateFallback(t *testing.T) {
	dir := t.TempDir()
	input := testpdf.Build(t, testpdf.Options{Compress: true, XRefStream: true},
		testpdf.Text(72, 700, 12, "no phrase here"),
		testpdf.Text(72, 700, 12, "second page"),
	)
	outPath := filepath.Join(dir, "out.pdf")

	doc := openDoc(t, input)
	sig := NewSignatureStamp("ALICE", "2024-01-02 03:04:05", FallbackLayout())
	if err := Mutate(context.Background(), doc.Reader(), outPath, []Placement{FallbackPlacement()}, sig, nil); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	stamped, err := locate.OpenFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	occ, err := locate.Find(stamped, "Timestamp: 2024-01-02 03:04:05")
	if err != nil || len(occ) != 1 {
		t.Fatalf("Expected the timestamp once, got %v (%v)", occ, err)
	}
	if occ[0].Page != 1 {
		t.Errorf("Fallback stamp should be on page 1, got %d", occ[0].Page)
	}
	rects, err := stamped.Rects(occ[0])
	if err != nil {
		t.Fatal(err)
	}
	if !near(rects[0].LLX, 120) || !near(rects[0].LLY, 150-0.207*12) {
		t.Errorf("Unexpected timestamp position %+v", rects[0])
	}
}

func TestMutateWarnsOnUnencodableUsername(t *testing.T) {
	dir := t.TempDir()
	doc := openDoc(t, testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, "no phrase here")))
	core, logs := observer.New(zapcore.WarnLevel)
	opts := &MutateOptions{Logger: zap.New(core)}

	sig := NewSignatureStamp("Иван", "2024-01-02 03:04:05", FallbackLayout())
	if got := sig.Unencodable(); got != 4 {
		t.Fatalf("Unencodable = %d, want 4", got)
	}
	if err := Mutate(context.Background(), doc.Reader(), filepath.Join(dir, "out.pdf"), []Placement{FallbackPlacement()}, sig, opts); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected one warning, got %d", len(entries))
	}
	if n := entries[0].ContextMap()["substituted"]; n != int64(4) {
		t.Errorf("substituted = %v, want 4", n)
	}

	logs.TakeAll()
	ascii := NewSignatureStamp("ALICE", "2024-01-02 03:04:05", FallbackLayout())
	if err := Mutate(context.Background(), doc.Reader(), filepath.Join(dir, "out2.pdf"), []Placement{FallbackPlacement()}, ascii, opts); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if logs.Len() != 0 {
		t.Errorf("Unexpected warnings for a WinAnsi username: %v", logs.All())
	}
}

func TestMutateMultipleStampsOnOnePage(t *testing.T) {
	dir := t.TempDir()
	input := testpdf.Build(t, testpdf.Options{},
		testpdf.Text(72, 600, 12, phrase)+testpdf.Text(72, 300, 12, phrase),
	)
	doc := openDoc(t, input)
	placements := plan(t, doc)
	if len(placements) != 2 {
		t.Fatalf("Expected 2 placements, got %d", len(placements))
	}

	outPath := filepath.Join(dir, "out.pdf")
	sig := NewSignatureStamp("ALICE", "t", AnchoredLayout())
	if err := Mutate(context.Background(), doc.Reader(), outPath, placements, sig, nil); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	stamped, err := locate.OpenFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	contents := stamped.Reader().Pages[0].Dict.GetArray("Contents")
	// One q/Q pair plus one paint stream per stamp.
	if len(contents) != 5 {
		t.Errorf("Expected 5 content streams, got %d", len(contents))
	}
	occ, _ := locate.Find(stamped, "Digitally Signed by: ALICE")
	if len(occ) != 2 {
		t.Errorf("Expected 2 stamps, got %d", len(occ))
	}
}

func TestMutateRefusesToOverwriteInput(t *testing.T) {
	dir := t.TempDir()
	input := testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, "x"))
	inPath := testpdf.WriteFile(t, dir, "in.pdf", input)

	doc := openDoc(t, input)
	sig := NewSignatureStamp("a", "b", FallbackLayout())
	opts := &MutateOptions{InputPath: inPath}

	err := Mutate(context.Background(), doc.Reader(), filepath.Join(dir, ".", "in.pdf"), []Placement{FallbackPlacement()}, sig, opts)
	if !errors.Is(err, ErrOutputIsInput) {
		t.Errorf("Expected ErrOutputIsInput, got %v", err)
	}
}

func TestMutateReportsWriteErrors(t *testing.T) {
	input := testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, "x"))
	doc := openDoc(t, input)
	sig := NewSignatureStamp("a", "b", FallbackLayout())

	outPath := filepath.Join(t.TempDir(), "missing", "out.pdf")
	err := Mutate(context.Background(), doc.Reader(), outPath, []Placement{FallbackPlacement()}, sig, nil)
	if err == nil {
		t.Fatal("Expected a write error")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected wrapped not-exist error, got %v", err)
	}
	if !strings.Contains(err.Error(), outPath) {
		t.Errorf("Error should name the output path: %v", err)
	}
}

func TestStampValidation(t *testing.T) {
	input := testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, "x"))
	doc := openDoc(t, input)
	sig := NewSignatureStamp("a", "b", FallbackLayout())
	ctx := context.Background()

	if _, err := Stamp(ctx, doc.Reader(), nil, sig, nil); !errors.Is(err, ErrNoPlacements) {
		t.Errorf("Expected ErrNoPlacements, got %v", err)
	}
	if _, err := Stamp(ctx, doc.Reader(), []Placement{{Page: 2}}, sig, nil); !errors.Is(err, reader.ErrPageRange) {
		t.Errorf("Expected ErrPageRange, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Stamp(cancelled, doc.Reader(), []Placement{FallbackPlacement()}, sig, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
