package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// errDecodeFailed is wrapped into goreason.ErrParsingFailed by the engine's
// Ingest, which wraps every Parser.Parse error uniformly; it exists here so
// the decode-chain failure carries its own message (spec.md §4.1: "failure
// to decode is fatal for that file").
var errDecodeFailed = errors.New("text: no candidate encoding decoded this file")

// TextParser handles plain text (.txt) files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

// decodeFallbacks is the deterministic fallback chain tried after UTF-8
// fails to validate (spec.md §4.1: "Text files try UTF-8, then a
// deterministic list of fallback encodings"). UTF-16 is checked first via
// BOM, then the two legacy 8-bit Western encodings most common in scanned
// legal document exports. ISO-8859-1 maps every byte value, so it never
// itself fails to decode — it is the terminal fallback.
var decodeFallbacks = []struct {
	name string
	enc  encoding.Encoding
}{
	{"windows-1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content, decodedAs, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errDecodeFailed, path, err)
	}

	if content == "" {
		return &ParseResult{Method: "native"}, nil
	}

	return &ParseResult{
		Sections: []Section{
			{
				Heading: filepath.Base(path),
				Content: content,
				Level:   1,
				Type:    "paragraph",
			},
		},
		Method:   "native",
		Metadata: map[string]string{"encoding": decodedAs},
	}, nil
}

// decodeText tries UTF-8 first, then UTF-16 via BOM sniffing, then the
// deterministic 8-bit fallback chain. Returns the decoded text and the
// name of the encoding that succeeded.
func decodeText(data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "utf-8", nil
	}
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}

	if enc, ok := utf16BOMEncoding(data); ok {
		out, err := enc.NewDecoder().Bytes(data)
		if err == nil && utf8.Valid(out) {
			return string(out), "utf-16", nil
		}
	}

	for _, fb := range decodeFallbacks {
		out, err := fb.enc.NewDecoder().Bytes(data)
		if err == nil && utf8.Valid(out) {
			return string(out), fb.name, nil
		}
	}

	return "", "", fmt.Errorf("no candidate encoding produced valid text")
}

// utf16BOMEncoding returns the UTF-16 encoding matching a leading
// byte-order mark, if present.
func utf16BOMEncoding(data []byte) (encoding.Encoding, bool) {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), true
	case len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF:
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), true
	default:
		return nil, false
	}
}
