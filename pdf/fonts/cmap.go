package fonts

import (
	"fmt"
	"unicode/utf16"

	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

type codespace struct {
	n         int
	low, high uint32
}

// CMap maps character codes to Unicode text, as read from a ToUnicode
// stream.
type CMap struct {
	codespaces []codespace
	mapping    map[uint32]string
	// code lengths seen in bfchar/bfrange entries, used when the CMap
	// declares no codespace
	lengths map[int]bool
}

// ParseCMap reads codespacerange, bfchar and bfrange sections. Other CMap
// operators are ignored.
func ParseCMap(data []byte) (*CMap, error) {
	cm := &CMap{mapping: make(map[uint32]string), lengths: make(map[int]bool)}
	p := generic.NewParserFromBytes(data)

	var operands []generic.PdfObject
	for {
		p.SkipWhitespace()
		if p.AtEOF() {
			break
		}
		obj, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCMap, err)
		}
		kw, ok := obj.(generic.Keyword)
		if !ok {
			operands = append(operands, obj)
			continue
		}
		switch kw {
		case "endcodespacerange":
			for i := 0; i+1 < len(operands); i += 2 {
				lo, ok1 := operands[i].(*generic.StringObject)
				hi, ok2 := operands[i+1].(*generic.StringObject)
				if ok1 && ok2 && len(lo.Value) == len(hi.Value) && len(lo.Value) > 0 {
					cm.codespaces = append(cm.codespaces, codespace{n: len(lo.Value), low: codeOf(lo.Value), high: codeOf(hi.Value)})
				}
			}
		case "endbfchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, ok1 := operands[i].(*generic.StringObject)
				dst, ok2 := operands[i+1].(*generic.StringObject)
				if ok1 && ok2 {
					cm.set(src.Value, decodeUTF16BE(dst.Value))
				}
			}
		case "endbfrange":
			for i := 0; i+2 < len(operands); i += 3 {
				cm.addRange(operands[i], operands[i+1], operands[i+2])
			}
		}
		operands = nil
	}
	return cm, nil
}

func (cm *CMap) set(src []byte, text string) {
	cm.mapping[codeOf(src)] = text
	cm.lengths[len(src)] = true
}

func (cm *CMap) addRange(loObj, hiObj, dstObj generic.PdfObject) {
	lo, ok1 := loObj.(*generic.StringObject)
	hi, ok2 := hiObj.(*generic.StringObject)
	if !ok1 || !ok2 || len(lo.Value) == 0 {
		return
	}
	n := len(lo.Value)
	start, end := codeOf(lo.Value), codeOf(hi.Value)
	if end < start || end-start > 0xFFFF {
		return
	}

	switch dst := dstObj.(type) {
	case *generic.StringObject:
		base := utf16.Decode(utf16BE(dst.Value))
		if len(base) == 0 {
			return
		}
		for code := start; code <= end; code++ {
			runes := append([]rune(nil), base...)
			runes[len(runes)-1] += rune(code - start)
			cm.set(bytesOf(code, n), string(runes))
		}
	case generic.ArrayObject:
		for i, item := range dst {
			s, ok := item.(*generic.StringObject)
			if !ok || start+uint32(i) > end {
				continue
			}
			cm.set(bytesOf(start+uint32(i), n), decodeUTF16BE(s.Value))
		}
	}
}

// NextCode splits the next character code off data and returns the code
// and its length in bytes.
func (cm *CMap) NextCode(data []byte) (uint32, int) {
	for n := 1; n <= 4 && n <= len(data); n++ {
		code := codeOf(data[:n])
		for _, cs := range cm.codespaces {
			if cs.n == n && code >= cs.low && code <= cs.high {
				return code, n
			}
		}
	}
	if len(cm.codespaces) == 0 {
		for n := 1; n <= 4 && n <= len(data); n++ {
			if cm.lengths[n] {
				return codeOf(data[:n]), n
			}
		}
	}
	return uint32(data[0]), 1
}

// Lookup returns the text for a code.
func (cm *CMap) Lookup(code uint32) (string, bool) {
	s, ok := cm.mapping[code]
	return s, ok
}

func codeOf(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func bytesOf(code uint32, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(code)
		code >>= 8
	}
	return out
}

func utf16BE(b []byte) []uint16 {
	out := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return out
}

func decodeUTF16BE(b []byte) string {
	if len(b) == 1 {
		return string(rune(b[0]))
	}
	return string(utf16.Decode(utf16BE(b)))
}
