// Package writer provides PDF file writing and incremental update support.
package writer

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/georgepadayatti/tokenstamp/pdf/filters"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// PdfFileWriter creates new PDF files.
type PdfFileWriter struct {
	Version    string
	Objects    map[int]*generic.IndirectObject
	nextObjNum int
	Root       *generic.DictionaryObject
	Info       *generic.DictionaryObject
	Pages      *generic.DictionaryObject
	pagesRef   generic.Reference
	pageRefs   []generic.Reference

	// Compress flate-encodes page content streams.
	Compress bool
	// XRefStream writes a cross-reference stream instead of a table.
	XRefStream bool
}

// NewPdfFileWriter creates a new PDF writer.
func NewPdfFileWriter(version string) *PdfFileWriter {
	if version == "" {
		version = "1.7"
	}

	w := &PdfFileWriter{
		Version:    version,
		Objects:    make(map[int]*generic.IndirectObject),
		nextObjNum: 1,
	}

	w.Root = generic.NewDictionary()
	w.Root.Set("Type", generic.NameObject("Catalog"))

	w.Pages = generic.NewDictionary()
	w.Pages.Set("Type", generic.NameObject("Pages"))
	w.Pages.Set("Kids", generic.ArrayObject{})
	w.Pages.Set("Count", generic.IntegerObject(0))

	w.pagesRef = w.AddObject(w.Pages)
	w.Root.Set("Pages", w.pagesRef)

	w.Info = generic.NewDictionary()
	w.Info.Set("Producer", generic.NewTextString("tokenstamp"))

	return w
}

// AddObject adds an object and returns its reference.
func (w *PdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	objNum := w.nextObjNum
	w.nextObjNum++

	w.Objects[objNum] = generic.NewIndirectObject(objNum, 0, obj)
	return generic.NewReference(objNum, 0)
}

// AddPage adds a page with one content stream. A nil resources dictionary
// leaves the page without /Resources so it inherits from the tree.
func (w *PdfFileWriter) AddPage(mediaBox generic.Rectangle, contents []byte, resources *generic.DictionaryObject) (generic.Reference, error) {
	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", w.pagesRef)
	page.Set("MediaBox", mediaBox.ToArray())
	if resources != nil {
		page.Set("Resources", resources)
	}

	if contents != nil {
		stream := generic.NewStream(nil, contents)
		if w.Compress {
			encoded, err := filters.FlateEncode(contents)
			if err != nil {
				return generic.Reference{}, err
			}
			stream.Data = encoded
			stream.Decoded = contents
			stream.Dictionary.Set("Filter", generic.NameObject("FlateDecode"))
		}
		page.Set("Contents", w.AddObject(stream))
	}

	pageRef := w.AddObject(page)
	w.pageRefs = append(w.pageRefs, pageRef)

	kids := append(w.Pages.GetArray("Kids"), pageRef)
	w.Pages.Set("Kids", kids)
	w.Pages.Set("Count", generic.IntegerObject(len(w.pageRefs)))

	return pageRef, nil
}

// PageCount returns the number of pages added so far.
func (w *PdfFileWriter) PageCount() int {
	return len(w.pageRefs)
}

// Write writes the PDF to the given writer.
func (w *PdfFileWriter) Write(out io.Writer) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%%PDF-%s\n", w.Version)
	// Binary comment
	buf.Write([]byte{0x25, 0xE2, 0xE3, 0xCF, 0xD3, 0x0A})

	objects := make(map[int]*generic.IndirectObject, len(w.Objects)+2)
	for k, v := range w.Objects {
		objects[k] = v
	}
	size := w.nextObjNum
	rootRef := generic.NewReference(size, 0)
	objects[size] = generic.NewIndirectObject(size, 0, w.Root)
	size++
	infoRef := generic.NewReference(size, 0)
	objects[size] = generic.NewIndirectObject(size, 0, w.Info)
	size++

	offsets := make([]int64, size)
	for objNum := 1; objNum < size; objNum++ {
		offsets[objNum] = int64(buf.Len())
		if err := objects[objNum].Write(&buf); err != nil {
			return fmt.Errorf("failed to write object %d: %w", objNum, err)
		}
	}

	sum := md5.Sum(buf.Bytes())
	trailer := generic.NewDictionary()
	trailer.Set("Size", generic.IntegerObject(size))
	trailer.Set("Root", rootRef)
	trailer.Set("Info", infoRef)
	trailer.Set("ID", generic.ArrayObject{generic.NewHexString(sum[:]), generic.NewHexString(sum[:])})

	xrefOffset := int64(buf.Len())
	if w.XRefStream {
		entries := make([]xrefRow, 0, size)
		for objNum := 1; objNum < size; objNum++ {
			entries = append(entries, xrefRow{num: objNum, offset: offsets[objNum]})
		}
		entries = append(entries, xrefRow{num: size, offset: xrefOffset})
		trailer.Set("Size", generic.IntegerObject(size+1))
		stream := buildXRefStream(trailer, entries)
		if err := generic.NewIndirectObject(size, 0, stream).Write(&buf); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(&buf, "xref\n0 %d\n", size)
		buf.WriteString("0000000000 65535 f \n")
		for objNum := 1; objNum < size; objNum++ {
			fmt.Fprintf(&buf, "%010d %05d n \n", offsets[objNum], 0)
		}
		buf.WriteString("trailer\n")
		if err := trailer.Write(&buf); err != nil {
			return err
		}
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

// Bytes renders the document.
func (w *PdfFileWriter) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type xrefRow struct {
	num        int
	offset     int64
	generation int
}

// buildXRefStream encodes rows as a type-1 cross-reference stream with
// W [1 4 2]. Rows must be sorted by object number.
func buildXRefStream(dict *generic.DictionaryObject, rows []xrefRow) *generic.StreamObject {
	var data bytes.Buffer
	var index generic.ArrayObject
	for i := 0; i < len(rows); {
		j := i
		for j+1 < len(rows) && rows[j+1].num == rows[j].num+1 {
			j++
		}
		index = append(index, generic.IntegerObject(rows[i].num), generic.IntegerObject(j-i+1))
		for _, row := range rows[i : j+1] {
			data.WriteByte(1)
			data.Write([]byte{byte(row.offset >> 24), byte(row.offset >> 16), byte(row.offset >> 8), byte(row.offset)})
			data.Write([]byte{byte(row.generation >> 8), byte(row.generation)})
		}
		i = j + 1
	}

	dict.Set("Type", generic.NameObject("XRef"))
	dict.Set("W", generic.ArrayObject{generic.IntegerObject(1), generic.IntegerObject(4), generic.IntegerObject(2)})
	dict.Set("Index", index)
	return generic.NewStream(dict, data.Bytes())
}
