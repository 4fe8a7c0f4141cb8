// Package filters decodes PDF stream filters.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"errors"
	"fmt"
	"io"

	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// Common errors
var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrDecodeFailed      = errors.New("decode failed")
)

// Decoder undoes one filter.
type Decoder interface {
	Decode(data []byte, params *generic.DictionaryObject) ([]byte, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte, params *generic.DictionaryObject) ([]byte, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	return f(data, params)
}

// Registry maps filter names, including the inline-image abbreviations, to
// decoders. Image-only filters (DCT, JPX, CCITT, JBIG2) are absent: content
// streams never use them.
var Registry = map[string]Decoder{
	"FlateDecode":     DecoderFunc(flateDecode),
	"Fl":              DecoderFunc(flateDecode),
	"ASCIIHexDecode":  DecoderFunc(asciiHexDecode),
	"AHx":             DecoderFunc(asciiHexDecode),
	"ASCII85Decode":   DecoderFunc(ascii85Decode),
	"A85":             DecoderFunc(ascii85Decode),
	"RunLengthDecode": DecoderFunc(runLengthDecode),
	"RL":              DecoderFunc(runLengthDecode),
}

// Decode applies the stream's /Filter chain with its /DecodeParms.
func Decode(stream *generic.StreamObject) ([]byte, error) {
	names, params := filterChain(stream.Dictionary)
	data := stream.Data
	for i, name := range names {
		dec, ok := Registry[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		}
		var err error
		data, err = dec.Decode(data, params[i])
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
	}
	return data, nil
}

func filterChain(dict *generic.DictionaryObject) ([]string, []*generic.DictionaryObject) {
	var names []string
	switch f := dict.Get("Filter").(type) {
	case generic.NameObject:
		names = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			if n, ok := item.(generic.NameObject); ok {
				names = append(names, string(n))
			}
		}
	}

	params := make([]*generic.DictionaryObject, len(names))
	switch p := dict.Get("DecodeParms").(type) {
	case *generic.DictionaryObject:
		if len(params) > 0 {
			params[0] = p
		}
	case generic.ArrayObject:
		for i := 0; i < len(p) && i < len(params); i++ {
			params[i], _ = p[i].(*generic.DictionaryObject)
		}
	}
	return names, params
}

// FlateEncode compresses data with zlib.
func FlateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func flateDecode(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		// Truncated streams are common; keep what inflated cleanly.
		if buf.Len() == 0 || !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
	}
	return applyPredictor(buf.Bytes(), params)
}

func intParam(params *generic.DictionaryObject, key string, def int) int {
	if v, ok := params.GetInt(key); ok {
		return int(v)
	}
	return def
}

func applyPredictor(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor < 10 {
		return data, nil
	}

	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	bpp := (colors*bpc + 7) / 8
	rowLen := (columns*colors*bpc + 7) / 8

	out := make([]byte, 0, len(data))
	prev := make([]byte, rowLen)
	for i := 0; i+1+rowLen <= len(data); i += rowLen + 1 {
		tag := data[i]
		row := append([]byte(nil), data[i+1:i+1+rowLen]...)
		for j := range row {
			var left, upLeft byte
			if j >= bpp {
				left = row[j-bpp]
				upLeft = prev[j-bpp]
			}
			up := prev[j]
			switch tag {
			case 1:
				row[j] += left
			case 2:
				row[j] += up
			case 3:
				row[j] += byte((int(left) + int(up)) / 2)
			case 4:
				row[j] += paeth(left, up, upLeft)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func asciiHexDecode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	out := make([]byte, 0, len(data)/2)
	var hi byte
	half := false
	for _, c := range data {
		if c == '>' {
			break
		}
		if generic.IsWhitespace(c) {
			continue
		}
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return nil, fmt.Errorf("%w: invalid hex digit %q", ErrDecodeFailed, c)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

func ascii85Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	if end := bytes.Index(data, []byte("~>")); end >= 0 {
		data = data[:end]
	}
	data = bytes.TrimPrefix(bytes.TrimSpace(data), []byte("<~"))
	out, err := io.ReadAll(ascii85.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

func runLengthDecode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			if i+n+1 > len(data) {
				return nil, fmt.Errorf("%w: truncated run-length data", ErrDecodeFailed)
			}
			out.Write(data[i : i+n+1])
			i += n + 1
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("%w: truncated run-length data", ErrDecodeFailed)
			}
			out.Write(bytes.Repeat(data[i:i+1], 257-n))
			i++
		}
	}
	return out.Bytes(), nil
}
