package writer

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/georgepadayatti/tokenstamp/pdf/generic"
	"github.com/georgepadayatti/tokenstamp/pdf/reader"
)

// Common errors for incremental writer
var (
	ErrNoRoot = errors.New("document has no root reference")
)

// ObjectKey uniquely identifies an object by number and generation
type ObjectKey struct {
	ObjectNumber int
	Generation   int
}

// IncrementalPdfFileWriter appends modifications after the original bytes
// so the original revision stays byte-for-byte intact at the start of the
// output.
type IncrementalPdfFileWriter struct {
	// Reader is the underlying PDF reader
	Reader *reader.PdfFileReader

	// Objects contains modified/new objects to be written
	Objects map[ObjectKey]*generic.IndirectObject

	nextObjNum   int
	originalData []byte
	trailer      *generic.TrailerDictionary
	rootRef      generic.Reference
	infoRef      *generic.Reference
	documentID   generic.ArrayObject

	// streamXRefs is set when the original used cross-reference streams;
	// the update then continues with one.
	streamXRefs bool
}

// NewIncrementalPdfFileWriter creates an incremental writer from an existing PDF.
func NewIncrementalPdfFileWriter(r *reader.PdfFileReader) *IncrementalPdfFileWriter {
	maxObjNum := 0
	for objNum := range r.XRef {
		if objNum > maxObjNum {
			maxObjNum = objNum
		}
	}
	if size, ok := r.Trailer.GetInt("Size"); ok && int(size)-1 > maxObjNum {
		maxObjNum = int(size) - 1
	}

	var rootRef generic.Reference
	if root := r.Trailer.GetRoot(); root != nil {
		rootRef = *root
	}

	return &IncrementalPdfFileWriter{
		Reader:       r,
		Objects:      make(map[ObjectKey]*generic.IndirectObject),
		nextObjNum:   maxObjNum + 1,
		originalData: r.Data(),
		trailer:      r.Trailer,
		rootRef:      rootRef,
		infoRef:      r.Trailer.GetInfo(),
		documentID:   handleDocumentID(r),
		streamXRefs:  r.HasXRefStream && !r.Repaired,
	}
}

// handleDocumentID keeps the first part of the file identifier and derives
// the second from the original bytes, so identical inputs give identical IDs.
func handleDocumentID(r *reader.PdfFileReader) generic.ArrayObject {
	sum := md5.Sum(r.Data())
	id1 := sum[:]
	if idArray := r.Trailer.GetArray("ID"); len(idArray) >= 1 {
		if str, ok := idArray[0].(*generic.StringObject); ok && len(str.Value) > 0 {
			id1 = str.Value
		}
	}
	return generic.ArrayObject{generic.NewHexString(id1), generic.NewHexString(sum[:])}
}

// GetObject retrieves an object by number, preferring modified versions.
func (w *IncrementalPdfFileWriter) GetObject(objNum int) (generic.PdfObject, error) {
	for key, indObj := range w.Objects {
		if key.ObjectNumber == objNum {
			return indObj.Object, nil
		}
	}
	return w.Reader.GetObject(objNum)
}

// GetRoot returns the document catalog.
func (w *IncrementalPdfFileWriter) GetRoot() (*generic.DictionaryObject, error) {
	if w.rootRef.ObjectNumber == 0 {
		return nil, ErrNoRoot
	}
	obj, err := w.GetObject(w.rootRef.ObjectNumber)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*generic.DictionaryObject); ok {
		return dict, nil
	}
	return nil, errors.New("root is not a dictionary")
}

// AddObject adds a new object and returns its reference.
func (w *IncrementalPdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	objNum := w.nextObjNum
	w.nextObjNum++

	key := ObjectKey{ObjectNumber: objNum, Generation: 0}
	w.Objects[key] = generic.NewIndirectObject(objNum, 0, obj)

	return generic.NewReference(objNum, 0)
}

// UpdateObject replaces an existing object in the update section.
func (w *IncrementalPdfFileWriter) UpdateObject(objNum int, obj generic.PdfObject) {
	gen := 0
	if entry := w.Reader.XRef[objNum]; entry != nil {
		gen = entry.Generation
	}

	key := ObjectKey{ObjectNumber: objNum, Generation: gen}
	w.Objects[key] = generic.NewIndirectObject(objNum, gen, obj)
}

// RootRef returns the reference to the document catalog.
func (w *IncrementalPdfFileWriter) RootRef() generic.Reference {
	return w.rootRef
}

// NextObjectNumber returns the number the next added object will get.
func (w *IncrementalPdfFileWriter) NextObjectNumber() int {
	return w.nextObjNum
}

// HasChanges reports whether anything was added or updated.
func (w *IncrementalPdfFileWriter) HasChanges() bool {
	return len(w.Objects) > 0
}

// StreamXRefs reports whether the update section ends in an xref stream.
func (w *IncrementalPdfFileWriter) StreamXRefs() bool {
	return w.streamXRefs
}

// SetStreamXRefs sets whether to use xref streams.
func (w *IncrementalPdfFileWriter) SetStreamXRefs(use bool) {
	w.streamXRefs = use
}

// trailer keys that describe the previous section and are never carried
// over.
var sectionKeys = map[string]bool{
	"Prev": true, "XRefStm": true, "Size": true, "Type": true, "W": true,
	"Index": true, "Length": true, "Filter": true, "DecodeParms": true,
}

func (w *IncrementalPdfFileWriter) populateTrailer(trailer *generic.DictionaryObject, size int) {
	for _, key := range w.trailer.Keys() {
		if !sectionKeys[key] {
			trailer.Set(key, w.trailer.Get(key))
		}
	}

	trailer.Set("Size", generic.IntegerObject(size))
	if len(w.Reader.XRefOffsets) > 0 {
		trailer.Set("Prev", generic.IntegerObject(w.Reader.XRefOffsets[0]))
	}
	trailer.Set("ID", w.documentID)
	trailer.Set("Root", w.rootRef)
	if w.infoRef != nil {
		trailer.Set("Info", *w.infoRef)
	}
}

// Write writes the original bytes followed by the update section. With no
// changes the original is copied unchanged.
func (w *IncrementalPdfFileWriter) Write(out io.Writer) error {
	if len(w.Objects) == 0 {
		_, err := out.Write(w.originalData)
		return err
	}

	var buf bytes.Buffer
	buf.Write(w.originalData)
	if n := len(w.originalData); n > 0 && w.originalData[n-1] != '\n' && w.originalData[n-1] != '\r' {
		buf.WriteByte('\n')
	}

	keys := make([]ObjectKey, 0, len(w.Objects))
	for k := range w.Objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].ObjectNumber < keys[j].ObjectNumber
	})

	rows := make([]xrefRow, 0, len(keys)+1)
	for _, key := range keys {
		rows = append(rows, xrefRow{num: key.ObjectNumber, offset: int64(buf.Len()), generation: key.Generation})
		if err := w.Objects[key].Write(&buf); err != nil {
			return fmt.Errorf("failed to write object %d: %w", key.ObjectNumber, err)
		}
	}

	xrefOffset := int64(buf.Len())
	if w.streamXRefs {
		num := w.nextObjNum
		rows = append(rows, xrefRow{num: num, offset: xrefOffset})
		trailer := generic.NewDictionary()
		w.populateTrailer(trailer, num+1)
		if err := generic.NewIndirectObject(num, 0, buildXRefStream(trailer, rows)).Write(&buf); err != nil {
			return err
		}
	} else {
		w.writeXRefTable(&buf, rows)
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

// writeXRefTable writes a traditional xref table with one subsection per
// run of consecutive object numbers.
func (w *IncrementalPdfFileWriter) writeXRefTable(buf *bytes.Buffer, rows []xrefRow) {
	buf.WriteString("xref\n")
	for i := 0; i < len(rows); {
		j := i
		for j+1 < len(rows) && rows[j+1].num == rows[j].num+1 {
			j++
		}
		fmt.Fprintf(buf, "%d %d\n", rows[i].num, j-i+1)
		for _, row := range rows[i : j+1] {
			fmt.Fprintf(buf, "%010d %05d n \n", row.offset, row.generation)
		}
		i = j + 1
	}

	trailer := generic.NewDictionary()
	w.populateTrailer(trailer, w.nextObjNum)
	buf.WriteString("trailer\n")
	trailer.Write(buf)
	buf.WriteByte('\n')
}

// resolveDict returns a private copy of a dictionary that may be given
// directly or by reference.
func (w *IncrementalPdfFileWriter) resolveDict(obj generic.PdfObject) *generic.DictionaryObject {
	if ref, ok := obj.(generic.Reference); ok {
		resolved, err := w.GetObject(ref.ObjectNumber)
		if err != nil {
			return nil
		}
		obj = resolved
	}
	if dict, ok := obj.(*generic.DictionaryObject); ok {
		return dict.Clone().(*generic.DictionaryObject)
	}
	return nil
}

// AddStreamToPage adds a content stream to the page at a 0-based index,
// prepending or appending it. Resources are merged category by category
// into the page's effective resources, including inherited ones. Returns
// the page reference.
func (w *IncrementalPdfFileWriter) AddStreamToPage(pageIndex int, streamRef generic.Reference, resources *generic.DictionaryObject, prepend bool) (generic.Reference, error) {
	page, err := w.Reader.GetPage(pageIndex)
	if err != nil {
		return generic.Reference{}, fmt.Errorf("failed to get page %d: %w", pageIndex, err)
	}

	current, err := w.GetObject(page.Ref.ObjectNumber)
	if err != nil {
		return generic.Reference{}, fmt.Errorf("failed to load page object: %w", err)
	}
	pageDict, ok := current.(*generic.DictionaryObject)
	if !ok {
		return generic.Reference{}, fmt.Errorf("page %s is not a dictionary", page.Ref)
	}
	pageCopy := pageDict.Clone().(*generic.DictionaryObject)

	var contentArray generic.ArrayObject
	switch c := pageCopy.Get("Contents").(type) {
	case nil:
	case generic.ArrayObject:
		contentArray = c
	case generic.Reference:
		if arr := w.Reader.ResolveArray(c); arr != nil {
			contentArray = arr.Clone().(generic.ArrayObject)
		} else {
			contentArray = generic.ArrayObject{c}
		}
	default:
		contentArray = generic.ArrayObject{c}
	}

	if prepend {
		contentArray = append(generic.ArrayObject{streamRef}, contentArray...)
	} else {
		contentArray = append(contentArray, streamRef)
	}
	pageCopy.Set("Contents", contentArray)

	if resources != nil {
		pageResources := w.resolveDict(pageCopy.Get("Resources"))
		if pageResources == nil {
			pageResources = page.Resources.Clone().(*generic.DictionaryObject)
		}

		for _, key := range resources.Keys() {
			resVal := resources.Get(key)
			resDict, ok := resVal.(*generic.DictionaryObject)
			if !ok {
				pageResources.Set(key, resVal)
				continue
			}
			existing := w.resolveDict(pageResources.Get(key))
			if existing == nil {
				existing = generic.NewDictionary()
			}
			for _, k := range resDict.Keys() {
				existing.Set(k, resDict.Get(k))
			}
			pageResources.Set(key, existing)
		}
		pageCopy.Set("Resources", pageResources)
	}

	w.UpdateObject(page.Ref.ObjectNumber, pageCopy)
	return page.Ref, nil
}
