package generic

import (
	"bytes"
	"testing"
)

func render(t *testing.T, obj PdfObject) string {
	t.Helper()
	var buf bytes.Buffer
	if err := obj.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return buf.String()
}

func TestWriteObjects(t *testing.T) {
	dict := NewDictionary()
	dict.Set("Type", NameObject("XObject"))
	dict.Set("BBox", ArrayObject{IntegerObject(0), IntegerObject(0), RealObject(300), RealObject(100.5)})

	tests := []struct {
		obj      PdfObject
		expected string
	}{
		{NullObject{}, "null"},
		{BooleanObject(true), "true"},
		{IntegerObject(-3), "-3"},
		{RealObject(0.1 + 0.2), "0.3"},
		{RealObject(1e-9), "0"},
		{NameObject("A B#"), "/A#20B#23"},
		{NewLiteralString("a(b)\\"), `(a\(b\)\\)`},
		{NewHexString([]byte{0xDE, 0xAD}), "<dead>"},
		{NewReference(12, 0), "12 0 R"},
		{dict, "<< /Type /XObject /BBox [0 0 300 100.5] >>"},
	}

	for _, tt := range tests {
		if got := render(t, tt.obj); got != tt.expected {
			t.Errorf("Write(%#v) = %q, want %q", tt.obj, got, tt.expected)
		}
	}
}

func TestStreamWriteSetsLength(t *testing.T) {
	stream := NewStream(nil, []byte("q Q"))
	out := render(t, stream)
	expected := "<< /Length 3 >>\nstream\nq Q\nendstream"
	if out != expected {
		t.Errorf("Expected %q, got %q", expected, out)
	}
}

func TestDictionaryOrderAndDelete(t *testing.T) {
	d := NewDictionary()
	d.Set("B", IntegerObject(1))
	d.Set("A", IntegerObject(2))
	d.Set("C", IntegerObject(3))
	d.Delete("A")
	d.Set("B", IntegerObject(4))

	keys := d.Keys()
	if len(keys) != 2 || keys[0] != "B" || keys[1] != "C" {
		t.Errorf("Unexpected keys %v", keys)
	}
	if v, _ := d.GetInt("B"); v != 4 {
		t.Errorf("Expected B=4, got %d", v)
	}
	d.Set("C", nil)
	if d.Has("C") {
		t.Error("Setting nil should delete the key")
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := NewDictionary()
	d.Set("Kids", ArrayObject{NewReference(1, 0)})
	clone := d.Clone().(*DictionaryObject)
	clone.Set("Extra", BooleanObject(true))
	if d.Has("Extra") {
		t.Error("Clone shares storage with the original")
	}
}

func TestTextString(t *testing.T) {
	ascii := NewTextString("plain")
	if string(ascii.Value) != "plain" {
		t.Errorf("Expected plain bytes, got %q", ascii.Value)
	}

	uni := NewTextString("Zoë ✓")
	if uni.Value[0] != 0xFE || uni.Value[1] != 0xFF {
		t.Fatalf("Expected UTF-16BE BOM, got % x", uni.Value[:2])
	}
	if uni.Text() != "Zoë ✓" {
		t.Errorf("Round trip failed: %q", uni.Text())
	}
}

func TestNewRectangle(t *testing.T) {
	r, err := NewRectangle(ArrayObject{IntegerObject(612), IntegerObject(792), IntegerObject(0), RealObject(0)})
	if err != nil {
		t.Fatalf("NewRectangle failed: %v", err)
	}
	if r.LLX != 0 || r.URY != 792 || r.Width() != 612 {
		t.Errorf("Rectangle not normalized: %+v", r)
	}
	if _, err := NewRectangle(ArrayObject{IntegerObject(1)}); err == nil {
		t.Error("Expected error for short array")
	}
}
