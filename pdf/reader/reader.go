// Package reader parses PDF files: header, cross-reference chain, object
// lookup and the page tree.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/georgepadayatti/tokenstamp/pdf/filters"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// Common errors
var (
	ErrInvalidPDF     = errors.New("invalid PDF file")
	ErrNoXRef         = errors.New("no xref found")
	ErrInvalidXRef    = errors.New("invalid xref")
	ErrObjectNotFound = errors.New("object not found")
	ErrEncrypted      = errors.New("PDF is encrypted")
	ErrPageRange      = errors.New("page out of range")
)

// DefaultMediaBox is US Letter, used when a page tree declares none.
var DefaultMediaBox = generic.Rectangle{LLX: 0, LLY: 0, URX: 612, URY: 792}

// XRefEntry locates one object.
type XRefEntry struct {
	Offset     int64
	Generation int
	InUse      bool
	// Non-zero for objects stored inside an object stream.
	StreamObject int
	StreamIndex  int
}

// Page is a leaf of the page tree with inherited attributes resolved.
type Page struct {
	Ref       generic.Reference
	Dict      *generic.DictionaryObject
	Resources *generic.DictionaryObject
	MediaBox  generic.Rectangle
	Rotate    int
}

// PdfFileReader gives random access to the objects of a PDF file.
type PdfFileReader struct {
	data    []byte
	Version string
	Trailer *generic.TrailerDictionary
	XRef    map[int]*XRefEntry
	Root    *generic.DictionaryObject
	Pages   []*Page

	// XRefOffsets lists section offsets, newest first.
	XRefOffsets []int64
	// HasXRefStream is set when any section is a cross-reference stream.
	HasXRefStream bool
	// Repaired is set when the xref was rebuilt by scanning the file.
	Repaired bool

	objects map[int]generic.PdfObject
}

// NewPdfFileReader reads all of r and parses it.
func NewPdfFileReader(r io.Reader) (*PdfFileReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF data: %w", err)
	}
	return NewPdfFileReaderFromBytes(data)
}

// NewPdfFileReaderFromBytes parses data. The slice is retained and must
// not be modified afterwards.
func NewPdfFileReaderFromBytes(data []byte) (*PdfFileReader, error) {
	r := &PdfFileReader{
		data:    data,
		XRef:    make(map[int]*XRefEntry),
		objects: make(map[int]generic.PdfObject),
	}
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r, nil
}

// Data returns the original file bytes.
func (r *PdfFileReader) Data() []byte { return r.data }

var headerRegex = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

func (r *PdfFileReader) parse() error {
	head := r.data[:min(1024, len(r.data))]
	m := headerRegex.FindSubmatch(head)
	if m == nil {
		return fmt.Errorf("%w: missing PDF header", ErrInvalidPDF)
	}
	r.Version = string(m[1])

	if err := r.loadXRef(); err != nil {
		// Damaged or missing cross-reference data: rebuild from the body.
		if rerr := r.rebuildXRef(); rerr != nil {
			return fmt.Errorf("%w (rebuild failed: %v)", err, rerr)
		}
	}

	if r.Trailer.Has("Encrypt") {
		return ErrEncrypted
	}
	return r.loadPages()
}

func (r *PdfFileReader) loadXRef() error {
	idx := bytes.LastIndex(r.data, []byte("startxref"))
	if idx < 0 {
		return ErrNoXRef
	}
	p := generic.NewParserFromBytes(r.data[idx+len("startxref"):])
	obj, err := p.ParseObject()
	if err != nil {
		return fmt.Errorf("%w: missing offset after startxref", ErrInvalidXRef)
	}
	offset, ok := obj.(generic.IntegerObject)
	if !ok {
		return fmt.Errorf("%w: bad startxref offset", ErrInvalidXRef)
	}

	visited := make(map[int64]bool)
	next := int64(offset)
	for !visited[next] {
		visited[next] = true
		if next >= int64(len(r.data)) {
			return fmt.Errorf("%w: offset %d out of bounds", ErrInvalidXRef, next)
		}
		r.XRefOffsets = append(r.XRefOffsets, next)

		trailer, err := r.parseSection(int(next))
		if err != nil {
			return err
		}
		if r.Trailer == nil {
			r.Trailer = trailer
		}
		// Hybrid files point at an extra xref stream from the table trailer.
		if stm, ok := trailer.GetInt("XRefStm"); ok && !visited[stm] && stm < int64(len(r.data)) {
			visited[stm] = true
			if _, err := r.parseSection(int(stm)); err != nil {
				return err
			}
		}
		prev, ok := trailer.GetPrev()
		if !ok {
			break
		}
		next = prev
	}

	if r.Trailer == nil || r.Trailer.GetRoot() == nil {
		return fmt.Errorf("%w: trailer has no Root", ErrInvalidXRef)
	}
	return nil
}

func (r *PdfFileReader) parseSection(pos int) (*generic.TrailerDictionary, error) {
	for pos < len(r.data) && generic.IsWhitespace(r.data[pos]) {
		pos++
	}
	if bytes.HasPrefix(r.data[pos:], []byte("xref")) {
		return r.parseXRefTable(pos + len("xref"))
	}
	r.HasXRefStream = true
	return r.parseXRefStream(pos)
}

func (r *PdfFileReader) addEntry(num int, e *XRefEntry) {
	// Newer sections are read first and win.
	if _, exists := r.XRef[num]; !exists {
		r.XRef[num] = e
	}
}

func (r *PdfFileReader) parseXRefTable(pos int) (*generic.TrailerDictionary, error) {
	p := generic.NewParserFromBytes(r.data)
	p.Seek(pos)
	for {
		p.SkipWhitespace()
		if bytes.HasPrefix(r.data[p.Pos():], []byte("trailer")) {
			p.Seek(p.Pos() + len("trailer"))
			break
		}
		start, err1 := p.ParseObject()
		count, err2 := p.ParseObject()
		s, ok1 := start.(generic.IntegerObject)
		n, ok2 := count.(generic.IntegerObject)
		if err1 != nil || err2 != nil || !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: bad subsection header", ErrInvalidXRef)
		}
		for i := 0; i < int(n); i++ {
			off, err1 := p.ParseObject()
			gen, err2 := p.ParseObject()
			flag, err3 := p.ParseObject()
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("%w: truncated table", ErrInvalidXRef)
			}
			o, _ := off.(generic.IntegerObject)
			g, _ := gen.(generic.IntegerObject)
			r.addEntry(int(s)+i, &XRefEntry{
				Offset:     int64(o),
				Generation: int(g),
				InUse:      flag == generic.Keyword("n"),
			})
		}
	}

	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse trailer: %w", err)
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer must be a dictionary", ErrInvalidXRef)
	}
	return &generic.TrailerDictionary{DictionaryObject: dict}, nil
}

func (r *PdfFileReader) parseXRefStream(pos int) (*generic.TrailerDictionary, error) {
	p := r.newParser(pos)
	ind, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse xref stream: %w", err)
	}
	stream, ok := ind.Object.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: expected xref stream at %d", ErrInvalidXRef, pos)
	}
	data, err := filters.Decode(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to decode xref stream: %w", err)
	}

	var w [3]int
	warr := stream.Dictionary.GetArray("W")
	if len(warr) != 3 {
		return nil, fmt.Errorf("%w: invalid W array", ErrInvalidXRef)
	}
	for i, v := range warr {
		n, _ := generic.Number(v)
		w[i] = int(n)
	}
	entrySize := w[0] + w[1] + w[2]
	if entrySize == 0 {
		return nil, fmt.Errorf("%w: zero entry size", ErrInvalidXRef)
	}

	var index []int
	for _, v := range stream.Dictionary.GetArray("Index") {
		n, _ := generic.Number(v)
		index = append(index, int(n))
	}
	if len(index) == 0 {
		size, _ := stream.Dictionary.GetInt("Size")
		index = []int{0, int(size)}
	}

	field := func(b []byte) int64 {
		var v int64
		for _, c := range b {
			v = v<<8 | int64(c)
		}
		return v
	}

	off := 0
	for i := 0; i+1 < len(index); i += 2 {
		for j := 0; j < index[i+1] && off+entrySize <= len(data); j++ {
			row := data[off : off+entrySize]
			off += entrySize
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := index[i] + j
			switch typ {
			case 0:
				r.addEntry(num, &XRefEntry{Generation: int(f3)})
			case 1:
				r.addEntry(num, &XRefEntry{Offset: f2, Generation: int(f3), InUse: true})
			case 2:
				r.addEntry(num, &XRefEntry{StreamObject: int(f2), StreamIndex: int(f3), InUse: true})
			}
		}
	}
	return &generic.TrailerDictionary{DictionaryObject: stream.Dictionary}, nil
}

var objHeaderRegex = regexp.MustCompile(`(?m)(\d+)[ \t\r\n]+(\d+)[ \t\r\n]+obj\b`)

// rebuildXRef scans the whole file for "n g obj" headers and takes the last
// trailer dictionary found, or the first catalog as Root.
func (r *PdfFileReader) rebuildXRef() error {
	r.XRef = make(map[int]*XRefEntry)
	r.XRefOffsets = nil
	r.Trailer = nil
	r.objects = make(map[int]generic.PdfObject)

	for _, m := range objHeaderRegex.FindAllSubmatchIndex(r.data, -1) {
		num, _ := strconv.Atoi(string(r.data[m[2]:m[3]]))
		gen, _ := strconv.Atoi(string(r.data[m[4]:m[5]]))
		// Later definitions override earlier ones, as in an update.
		r.XRef[num] = &XRefEntry{Offset: int64(m[0]), Generation: gen, InUse: true}
	}
	if len(r.XRef) == 0 {
		return fmt.Errorf("%w: no objects found", ErrInvalidPDF)
	}

	if idx := bytes.LastIndex(r.data, []byte("trailer")); idx >= 0 {
		p := generic.NewParserFromBytes(r.data[idx+len("trailer"):])
		if obj, err := p.ParseObject(); err == nil {
			if dict, ok := obj.(*generic.DictionaryObject); ok {
				r.Trailer = &generic.TrailerDictionary{DictionaryObject: dict}
			}
		}
	}
	if r.Trailer == nil {
		r.Trailer = &generic.TrailerDictionary{DictionaryObject: generic.NewDictionary()}
	}
	if r.Trailer.GetRoot() == nil {
		for num := range r.XRef {
			obj, err := r.GetObject(num)
			if err != nil {
				continue
			}
			if d, ok := obj.(*generic.DictionaryObject); ok && d.GetName("Type") == "Catalog" {
				r.Trailer.Set("Root", generic.NewReference(num, r.XRef[num].Generation))
				break
			}
		}
	}
	if r.Trailer.GetRoot() == nil {
		return fmt.Errorf("%w: no catalog found", ErrInvalidPDF)
	}
	r.Repaired = true
	return nil
}

func (r *PdfFileReader) newParser(pos int) *generic.Parser {
	p := generic.NewParserFromBytes(r.data)
	p.Seek(pos)
	p.ResolveLength = func(ref generic.Reference) (int64, bool) {
		obj, err := r.GetObject(ref.ObjectNumber)
		if err != nil {
			return 0, false
		}
		n, ok := obj.(generic.IntegerObject)
		return int64(n), ok
	}
	return p
}

// GetObject returns object objNum, decoding stream data on the way.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.objects[objNum]; ok {
		return obj, nil
	}
	entry, ok := r.XRef[objNum]
	if !ok || !entry.InUse {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, objNum)
	}

	var obj generic.PdfObject
	var err error
	if entry.StreamObject > 0 {
		obj, err = r.objectFromStream(entry.StreamObject, entry.StreamIndex)
	} else {
		obj, err = r.objectAt(entry.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	r.objects[objNum] = obj
	return obj, nil
}

func (r *PdfFileReader) objectAt(offset int64) (generic.PdfObject, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset %d out of bounds", ErrObjectNotFound, offset)
	}
	ind, err := r.newParser(int(offset)).ParseIndirectObject()
	if err != nil {
		return nil, err
	}
	if stream, ok := ind.Object.(*generic.StreamObject); ok {
		if decoded, err := filters.Decode(stream); err == nil {
			stream.Decoded = decoded
		}
	}
	return ind.Object, nil
}

func (r *PdfFileReader) objectFromStream(streamNum, index int) (generic.PdfObject, error) {
	obj, err := r.GetObject(streamNum)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*generic.StreamObject)
	if !ok || stream.Decoded == nil {
		return nil, fmt.Errorf("object stream %d is not a decodable stream", streamNum)
	}
	data := stream.Decoded
	n, _ := stream.Dictionary.GetInt("N")
	first, _ := stream.Dictionary.GetInt("First")
	if index >= int(n) || int(first) > len(data) {
		return nil, fmt.Errorf("index %d out of bounds in object stream %d", index, streamNum)
	}

	header := generic.NewParserFromBytes(data[:first])
	var offset int64 = -1
	for i := 0; i <= index; i++ {
		if _, err := header.ParseObject(); err != nil {
			return nil, err
		}
		off, err := header.ParseObject()
		if err != nil {
			return nil, err
		}
		if v, ok := off.(generic.IntegerObject); ok && i == index {
			offset = int64(v)
		}
	}
	if offset < 0 || int(first+offset) > len(data) {
		return nil, fmt.Errorf("bad offset for index %d in object stream %d", index, streamNum)
	}
	return generic.NewParserFromBytes(data[first+offset:]).ParseObject()
}

// Resolve follows references until a direct object is reached.
func (r *PdfFileReader) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		var err error
		if obj, err = r.GetObject(ref.ObjectNumber); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: reference chain too deep", ErrInvalidPDF)
}

// ResolveDict resolves obj and returns it as a dictionary, or nil.
func (r *PdfFileReader) ResolveDict(obj generic.PdfObject) *generic.DictionaryObject {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	switch v := resolved.(type) {
	case *generic.DictionaryObject:
		return v
	case *generic.StreamObject:
		return v.Dictionary
	}
	return nil
}

// ResolveArray resolves obj and returns it as an array, or nil.
func (r *PdfFileReader) ResolveArray(obj generic.PdfObject) generic.ArrayObject {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	arr, _ := resolved.(generic.ArrayObject)
	return arr
}

// ResolveNumber resolves obj and returns it as a float.
func (r *PdfFileReader) ResolveNumber(obj generic.PdfObject) (float64, bool) {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return 0, false
	}
	return generic.Number(resolved)
}

type inherited struct {
	resources *generic.DictionaryObject
	mediaBox  *generic.Rectangle
	rotate    int
}

func (r *PdfFileReader) loadPages() error {
	root, err := r.Resolve(*r.Trailer.GetRoot())
	if err != nil {
		return fmt.Errorf("failed to load Root: %w", err)
	}
	catalog, ok := root.(*generic.DictionaryObject)
	if !ok {
		return fmt.Errorf("%w: Root must be a dictionary", ErrInvalidPDF)
	}
	r.Root = catalog

	pagesRef, ok := catalog.Get("Pages").(generic.Reference)
	if !ok {
		return fmt.Errorf("%w: missing Pages reference", ErrInvalidPDF)
	}
	return r.walkPages(pagesRef, inherited{}, make(map[int]bool))
}

func (r *PdfFileReader) walkPages(ref generic.Reference, inh inherited, seen map[int]bool) error {
	if seen[ref.ObjectNumber] {
		return fmt.Errorf("%w: page tree cycle at %s", ErrInvalidPDF, ref)
	}
	seen[ref.ObjectNumber] = true

	node := r.ResolveDict(ref)
	if node == nil {
		return fmt.Errorf("%w: page tree node %s is not a dictionary", ErrInvalidPDF, ref)
	}

	if res := r.ResolveDict(node.Get("Resources")); res != nil {
		inh.resources = res
	}
	if box := r.ResolveArray(node.Get("MediaBox")); box != nil {
		if rect, err := generic.NewRectangle(r.resolveAll(box)); err == nil {
			inh.mediaBox = &rect
		}
	}
	if rot, ok := r.ResolveNumber(node.Get("Rotate")); ok {
		inh.rotate = int(rot)
	}

	if node.GetName("Type") == "Page" || (!node.Has("Kids") && node.Has("Contents")) {
		page := &Page{Ref: ref, Dict: node, Resources: inh.resources, MediaBox: DefaultMediaBox, Rotate: ((inh.rotate % 360) + 360) % 360}
		if page.Resources == nil {
			page.Resources = generic.NewDictionary()
		}
		if inh.mediaBox != nil {
			page.MediaBox = *inh.mediaBox
		}
		r.Pages = append(r.Pages, page)
		return nil
	}

	for _, kid := range r.ResolveArray(node.Get("Kids")) {
		kidRef, ok := kid.(generic.Reference)
		if !ok {
			continue
		}
		if err := r.walkPages(kidRef, inh, seen); err != nil {
			return err
		}
	}
	return nil
}

func (r *PdfFileReader) resolveAll(arr generic.ArrayObject) generic.ArrayObject {
	out := make(generic.ArrayObject, len(arr))
	for i, item := range arr {
		if v, err := r.Resolve(item); err == nil {
			out[i] = v
		} else {
			out[i] = generic.NullObject{}
		}
	}
	return out
}

// GetPageCount returns the number of pages.
func (r *PdfFileReader) GetPageCount() int {
	return len(r.Pages)
}

// GetPage returns the page at a 0-based index.
func (r *PdfFileReader) GetPage(index int) (*Page, error) {
	if index < 0 || index >= len(r.Pages) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrPageRange, index, len(r.Pages))
	}
	return r.Pages[index], nil
}

// ContentStreams returns the decoded content streams of a page in order.
func (r *PdfFileReader) ContentStreams(page *Page) ([][]byte, error) {
	var items generic.ArrayObject
	switch c := page.Dict.Get("Contents").(type) {
	case nil:
		return nil, nil
	case generic.Reference:
		resolved, err := r.Resolve(c)
		if err != nil {
			return nil, err
		}
		if arr, ok := resolved.(generic.ArrayObject); ok {
			items = arr
		} else {
			items = generic.ArrayObject{c}
		}
	case generic.ArrayObject:
		items = c
	default:
		items = generic.ArrayObject{c}
	}

	var out [][]byte
	for _, item := range items {
		obj, err := r.Resolve(item)
		if err != nil {
			return nil, err
		}
		stream, ok := obj.(*generic.StreamObject)
		if !ok {
			continue
		}
		if stream.Decoded == nil {
			if stream.Decoded, err = filters.Decode(stream); err != nil {
				return nil, err
			}
		}
		out = append(out, stream.Decoded)
	}
	return out, nil
}
