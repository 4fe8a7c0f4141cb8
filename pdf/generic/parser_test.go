package generic

import (
	"bytes"
	"testing"
)

func TestParseScalars(t *testing.T) {
	tests := []struct {
		input    string
		expected PdfObject
	}{
		{"null", NullObject{}},
		{"true", BooleanObject(true)},
		{"false", BooleanObject(false)},
		{"42", IntegerObject(42)},
		{"-17", IntegerObject(-17)},
		{"+5", IntegerObject(5)},
		{"3.25", RealObject(3.25)},
		{"-.5", RealObject(-0.5)},
		{"/Helvetica", NameObject("Helvetica")},
		{"/A#20B", NameObject("A B")},
		{"Tj", Keyword("Tj")},
		{"T*", Keyword("T*")},
	}

	for _, tt := range tests {
		obj, err := NewParserFromBytes([]byte(tt.input)).ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		if obj != tt.expected {
			t.Errorf("ParseObject(%q) = %#v, want %#v", tt.input, obj, tt.expected)
		}
	}
}

func TestParseStrings(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"(Hello)", "Hello"},
		{"(a (nested) b)", "a (nested) b"},
		{`(esc \( \) \\)`, `esc ( ) \`},
		{`(\101\102)`, "AB"},
		{`(line\nbreak)`, "line\nbreak"},
		{"(split \\\nline)", "split line"},
		{"<48656C6C6F>", "Hello"},
		{"<48 65 6c 6>", "Hel`"},
	}

	for _, tt := range tests {
		obj, err := NewParserFromBytes([]byte(tt.input)).ParseObject()
		if err != nil {
			t.Fatalf("ParseObject(%q) failed: %v", tt.input, err)
		}
		s, ok := obj.(*StringObject)
		if !ok {
			t.Fatalf("Expected *StringObject for %q, got %T", tt.input, obj)
		}
		if string(s.Value) != tt.expected {
			t.Errorf("ParseObject(%q) = %q, want %q", tt.input, s.Value, tt.expected)
		}
	}
}

func TestParseReferenceLookahead(t *testing.T) {
	p := NewParserFromBytes([]byte("[1 0 R 2 3 4 0 R]"))
	obj, err := p.ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}
	arr := obj.(ArrayObject)
	if len(arr) != 4 {
		t.Fatalf("Expected 4 items, got %d: %v", len(arr), arr)
	}
	if arr[0] != NewReference(1, 0) {
		t.Errorf("Expected 1 0 R, got %v", arr[0])
	}
	if arr[1] != IntegerObject(2) || arr[2] != IntegerObject(3) {
		t.Errorf("Expected plain integers, got %v %v", arr[1], arr[2])
	}
	if arr[3] != NewReference(4, 0) {
		t.Errorf("Expected 4 0 R, got %v", arr[3])
	}
}

func TestParseDictionary(t *testing.T) {
	input := "<< /Type /Page /MediaBox [0 0 612 792] /Parent 3 0 R /Skip null /Sub << /A 1 >> >>"
	obj, err := NewParserFromBytes([]byte(input)).ParseObject()
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}
	dict := obj.(*DictionaryObject)

	if dict.GetName("Type") != "Page" {
		t.Errorf("Expected Type Page, got %q", dict.GetName("Type"))
	}
	if len(dict.GetArray("MediaBox")) != 4 {
		t.Errorf("Expected 4-entry MediaBox")
	}
	if ref, ok := dict.Get("Parent").(Reference); !ok || ref.ObjectNumber != 3 {
		t.Errorf("Expected Parent 3 0 R, got %v", dict.Get("Parent"))
	}
	if dict.Has("Skip") {
		t.Error("null entries should be dropped")
	}
	if v, _ := dict.GetDict("Sub").GetInt("A"); v != 1 {
		t.Errorf("Expected nested A=1, got %d", v)
	}
}

func TestParseIndirectStream(t *testing.T) {
	input := "7 0 obj\n<< /Length 5 >>\nstream\nHELLO\nendstream\nendobj"
	obj, err := NewParserFromBytes([]byte(input)).ParseIndirectObject()
	if err != nil {
		t.Fatalf("ParseIndirectObject failed: %v", err)
	}
	if obj.ObjectNumber != 7 {
		t.Errorf("Expected object 7, got %d", obj.ObjectNumber)
	}
	stream, ok := obj.Object.(*StreamObject)
	if !ok {
		t.Fatalf("Expected stream, got %T", obj.Object)
	}
	if string(stream.Data) != "HELLO" {
		t.Errorf("Expected HELLO, got %q", stream.Data)
	}
}

func TestParseStreamWithWrongLength(t *testing.T) {
	input := "1 0 obj\n<< /Length 99 >>\nstream\r\nABC\r\nendstream\nendobj"
	obj, err := NewParserFromBytes([]byte(input)).ParseIndirectObject()
	if err != nil {
		t.Fatalf("ParseIndirectObject failed: %v", err)
	}
	if got := obj.Object.(*StreamObject).Data; !bytes.Equal(got, []byte("ABC")) {
		t.Errorf("Expected ABC, got %q", got)
	}
}

func TestParseStreamIndirectLength(t *testing.T) {
	input := "1 0 obj\n<< /Length 2 0 R >>\nstream\nXY Z\nendstream\nendobj"
	p := NewParserFromBytes([]byte(input))
	p.ResolveLength = func(ref Reference) (int64, bool) {
		if ref.ObjectNumber == 2 {
			return 4, true
		}
		return 0, false
	}
	obj, err := p.ParseIndirectObject()
	if err != nil {
		t.Fatalf("ParseIndirectObject failed: %v", err)
	}
	if got := string(obj.Object.(*StreamObject).Data); got != "XY Z" {
		t.Errorf("Expected 'XY Z', got %q", got)
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{"(unterminated", "<4G>", "[1 2", "<< /A 1"}
	for _, input := range inputs {
		if _, err := NewParserFromBytes([]byte(input)).ParseObject(); err == nil {
			t.Errorf("Expected error for %q", input)
		}
	}
}
