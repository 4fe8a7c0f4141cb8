package generic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Common errors
var (
	ErrUnexpectedEOF    = errors.New("unexpected end of data")
	ErrInvalidObject    = errors.New("invalid PDF object")
	ErrInvalidStream    = errors.New("invalid PDF stream")
	ErrInvalidString    = errors.New("invalid PDF string")
	ErrInvalidName      = errors.New("invalid PDF name")
	ErrInvalidReference = errors.New("invalid PDF reference")
)

// Keyword is a bare token that is not a number, boolean or null: "obj",
// "stream", "R", or a content stream operator such as "Tj".
type Keyword string

// Write implements PdfObject.
func (k Keyword) Write(w io.Writer) error {
	_, err := io.WriteString(w, string(k))
	return err
}

// Clone implements PdfObject.
func (k Keyword) Clone() PdfObject { return k }

// LengthResolver resolves an indirect /Length while a stream is parsed.
type LengthResolver func(ref Reference) (int64, bool)

// Parser reads PDF objects from a byte slice.
type Parser struct {
	data []byte
	pos  int

	// ResolveLength is consulted when a stream's /Length is a reference.
	ResolveLength LengthResolver
}

// NewParserFromBytes creates a parser positioned at the start of data.
func NewParserFromBytes(data []byte) *Parser {
	return &Parser{data: data}
}

// Pos returns the current offset.
func (p *Parser) Pos() int { return p.pos }

// Seek moves to offset pos.
func (p *Parser) Seek(pos int) { p.pos = pos }

// Data returns the underlying buffer.
func (p *Parser) Data() []byte { return p.data }

// AtEOF reports whether only whitespace and comments remain.
func (p *Parser) AtEOF() bool {
	p.SkipWhitespace()
	return p.pos >= len(p.data)
}

// SkipWhitespace advances past whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if IsWhitespace(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		return
	}
}

// IsWhitespace reports whether c is PDF whitespace.
func IsWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool {
	return !IsWhitespace(c) && !isDelimiter(c)
}

// ParseObject parses the next object. Integers followed by "gen R" are
// returned as a Reference. Bare words come back as Keyword.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.SkipWhitespace()
	if p.pos >= len(p.data) {
		return nil, ErrUnexpectedEOF
	}

	switch c := p.data[p.pos]; {
	case c == '/':
		return p.parseName()
	case c == '(':
		return p.parseLiteral()
	case c == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			return p.parseDictionary()
		}
		return p.parseHex()
	case c == '[':
		return p.parseArray()
	case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
		p.pos++
		return Keyword([]byte{c}), nil
	}

	word := p.readWord()
	if word == "" {
		return nil, fmt.Errorf("%w: unexpected byte %q at %d", ErrInvalidObject, p.data[p.pos], p.pos)
	}
	switch word {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	}

	if isNumeric(word) {
		if i, err := strconv.ParseInt(word, 10, 64); err == nil {
			if ref, ok := p.tryReference(i); ok {
				return ref, nil
			}
			return IntegerObject(i), nil
		}
		if f, err := parseReal(word); err == nil {
			return RealObject(f), nil
		}
	}
	return Keyword(word), nil
}

func (p *Parser) readWord() string {
	start := p.pos
	for p.pos < len(p.data) && isRegular(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

func isNumeric(word string) bool {
	c := word[0]
	return (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'
}

// parseReal accepts forms like "-.5" and "3." that strconv handles, and
// degrades malformed ones like "0.-5" seen in the wild to their prefix.
func parseReal(word string) (float64, error) {
	if f, err := strconv.ParseFloat(word, 64); err == nil {
		return f, nil
	}
	for end := len(word) - 1; end > 0; end-- {
		if f, err := strconv.ParseFloat(word[:end], 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidObject, word)
}

// tryReference looks ahead for "gen R" after an object number.
func (p *Parser) tryReference(objNum int64) (Reference, bool) {
	save := p.pos
	p.SkipWhitespace()
	gen := p.readWord()
	g, err := strconv.Atoi(gen)
	if err != nil || objNum < 0 || g < 0 {
		p.pos = save
		return Reference{}, false
	}
	p.SkipWhitespace()
	if p.pos < len(p.data) && p.data[p.pos] == 'R' &&
		(p.pos+1 == len(p.data) || !isRegular(p.data[p.pos+1])) {
		p.pos++
		return NewReference(int(objNum), g), true
	}
	p.pos = save
	return Reference{}, false
}

func (p *Parser) parseName() (NameObject, error) {
	p.pos++ // '/'
	var buf bytes.Buffer
	for p.pos < len(p.data) && isRegular(p.data[p.pos]) {
		c := p.data[p.pos]
		if c == '#' && p.pos+2 < len(p.data) {
			if v, err := strconv.ParseUint(string(p.data[p.pos+1:p.pos+3]), 16, 8); err == nil {
				buf.WriteByte(byte(v))
				p.pos += 3
				continue
			}
		}
		buf.WriteByte(c)
		p.pos++
	}
	return NameObject(buf.String()), nil
}

func (p *Parser) parseLiteral() (*StringObject, error) {
	p.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return &StringObject{Value: buf.Bytes()}, nil
			}
		case '\r':
			// EOL inside a literal is read as a single newline.
			if p.pos < len(p.data) && p.data[p.pos] == '\n' {
				p.pos++
			}
			buf.WriteByte('\n')
			continue
		case '\\':
			p.parseEscape(&buf)
			continue
		}
		buf.WriteByte(c)
	}
	return nil, fmt.Errorf("%w: unterminated literal", ErrInvalidString)
}

func (p *Parser) parseEscape(buf *bytes.Buffer) {
	if p.pos >= len(p.data) {
		return
	}
	c := p.data[p.pos]
	p.pos++
	switch c {
	case 'n':
		buf.WriteByte('\n')
	case 'r':
		buf.WriteByte('\r')
	case 't':
		buf.WriteByte('\t')
	case 'b':
		buf.WriteByte('\b')
	case 'f':
		buf.WriteByte('\f')
	case '\r':
		if p.pos < len(p.data) && p.data[p.pos] == '\n' {
			p.pos++
		}
	case '\n':
	default:
		if c >= '0' && c <= '7' {
			v := int(c - '0')
			for i := 0; i < 2 && p.pos < len(p.data); i++ {
				d := p.data[p.pos]
				if d < '0' || d > '7' {
					break
				}
				v = v*8 + int(d-'0')
				p.pos++
			}
			buf.WriteByte(byte(v))
			return
		}
		buf.WriteByte(c)
	}
}

func (p *Parser) parseHex() (*StringObject, error) {
	p.pos++ // '<'
	var out []byte
	var hi byte
	half := false
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		p.pos++
		if c == '>' {
			if half {
				out = append(out, hi<<4)
			}
			return &StringObject{Value: out, IsHex: true}, nil
		}
		if IsWhitespace(c) {
			continue
		}
		v, ok := hexValue(c)
		if !ok {
			return nil, fmt.Errorf("%w: bad hex digit %q", ErrInvalidString, c)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (p *Parser) parseArray() (ArrayObject, error) {
	p.pos++ // '['
	arr := ArrayObject{}
	for {
		p.SkipWhitespace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated array", ErrUnexpectedEOF)
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return arr, nil
		}
		obj, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	p.pos += 2 // '<<'
	dict := NewDictionary()
	for {
		p.SkipWhitespace()
		if p.pos+1 < len(p.data) && p.data[p.pos] == '>' && p.data[p.pos+1] == '>' {
			p.pos += 2
			return dict, nil
		}
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrUnexpectedEOF)
		}
		if p.data[p.pos] != '/' {
			return nil, fmt.Errorf("%w: dictionary key at %d is not a name", ErrInvalidObject, p.pos)
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		value, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		if _, isNull := value.(NullObject); isNull {
			continue
		}
		dict.Set(string(key), value)
	}
}

// ParseIndirectObject parses "n g obj ... endobj", including stream data.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	num, err := p.expectInt()
	if err != nil {
		return nil, err
	}
	gen, err := p.expectInt()
	if err != nil {
		return nil, err
	}
	p.SkipWhitespace()
	if kw := p.readWord(); kw != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got %q", ErrInvalidObject, kw)
	}

	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}

	save := p.pos
	p.SkipWhitespace()
	if dict, ok := obj.(*DictionaryObject); ok && bytes.HasPrefix(p.data[p.pos:], []byte("stream")) {
		p.pos += len("stream")
		data, err := p.readStreamData(dict)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", num, err)
		}
		obj = &StreamObject{Dictionary: dict, Data: data}
	} else {
		p.pos = save
	}

	return NewIndirectObject(num, gen, obj), nil
}

func (p *Parser) expectInt() (int, error) {
	p.SkipWhitespace()
	word := p.readWord()
	v, err := strconv.Atoi(word)
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %q", ErrInvalidObject, word)
	}
	return v, nil
}

// readStreamData reads the bytes between "stream" EOL and "endstream".
// A missing or wrong /Length falls back to scanning for the keyword.
func (p *Parser) readStreamData(dict *DictionaryObject) ([]byte, error) {
	if p.pos < len(p.data) && p.data[p.pos] == '\r' {
		p.pos++
	}
	if p.pos < len(p.data) && p.data[p.pos] == '\n' {
		p.pos++
	}
	start := p.pos

	length := int64(-1)
	switch v := dict.Get("Length").(type) {
	case IntegerObject:
		length = int64(v)
	case Reference:
		if p.ResolveLength != nil {
			if l, ok := p.ResolveLength(v); ok {
				length = l
			}
		}
	}

	if length >= 0 && start+int(length) <= len(p.data) {
		end := start + int(length)
		rest := p.data[end:]
		trimmed := bytes.TrimLeft(rest, "\r\n \t")
		if bytes.HasPrefix(trimmed, []byte("endstream")) {
			p.pos = end + (len(rest) - len(trimmed)) + len("endstream")
			return p.data[start:end], nil
		}
	}

	idx := bytes.Index(p.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing endstream", ErrInvalidStream)
	}
	end := start + idx
	p.pos = end + len("endstream")
	for end > start && (p.data[end-1] == '\n' || p.data[end-1] == '\r') {
		end--
	}
	return p.data[start:end], nil
}
