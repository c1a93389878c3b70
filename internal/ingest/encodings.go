package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// Canonical candidate names
const (
	EncodingUTF8    = "utf-8"
	EncodingGBK     = "gbk"
	EncodingUTF16LE = "utf-16le"
	EncodingUTF16BE = "utf-16be"
	EncodingGB2312  = "gb2312"
	EncodingLatin1  = "latin-1"
	EncodingCP1252  = "cp1252"
	EncodingUTF8Sig = "utf-8-sig"
)

// DefaultEncodings is the candidate order used when none is configured
var DefaultEncodings = []string{
	EncodingUTF8, EncodingGBK, EncodingUTF16LE, EncodingGB2312,
	EncodingLatin1, EncodingCP1252, EncodingUTF8Sig,
}

var (
	// ErrUnknownEncoding is returned for names no decoder is registered for
	ErrUnknownEncoding = errors.New("unknown encoding")
	// ErrDecode is returned when bytes are not valid in the tried encoding
	ErrDecode = errors.New("invalid byte sequence")
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// aliases maps spellings seen in configs and detector output to canonical names
var aliases = map[string]string{
	"utf8":         EncodingUTF8,
	"utf-8":        EncodingUTF8,
	"utf_8":        EncodingUTF8,
	"utf-8-sig":    EncodingUTF8Sig,
	"utf_8_sig":    EncodingUTF8Sig,
	"utf8-sig":     EncodingUTF8Sig,
	"gbk":          EncodingGBK,
	"cp936":        EncodingGBK,
	"gb2312":       EncodingGB2312,
	"euc-cn":       EncodingGB2312,
	"utf-16le":     EncodingUTF16LE,
	"utf16le":      EncodingUTF16LE,
	"utf_16_le":    EncodingUTF16LE,
	"utf-16be":     EncodingUTF16BE,
	"utf16be":      EncodingUTF16BE,
	"utf_16_be":    EncodingUTF16BE,
	"latin-1":      EncodingLatin1,
	"latin1":       EncodingLatin1,
	"iso-8859-1":   EncodingLatin1,
	"iso8859-1":    EncodingLatin1,
	"cp1252":       EncodingCP1252,
	"windows-1252": EncodingCP1252,
	"gb-18030":     "gb18030",
}

// CanonicalName normalizes an encoding name
func CanonicalName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if c, ok := aliases[n]; ok {
		return c
	}
	return n
}

// Decode decodes data with the named encoding. A decode that produces
// replacement or NUL characters fails with ErrDecode; NULs mean the
// code-unit width was wrong.
func Decode(name string, data []byte) (string, error) {
	name = CanonicalName(name)

	switch name {
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s: %w", name, ErrDecode)
		}
		return checkDecoded(name, string(bytes.TrimPrefix(data, utf8BOM)))
	case EncodingUTF8Sig:
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s: %w", name, ErrDecode)
		}
		return checkDecoded(name, string(data))
	case EncodingGB2312:
		if err := validEUCCN(data); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
	case EncodingUTF16LE:
		if bytes.HasPrefix(data, utf16BEBOM) {
			return "", fmt.Errorf("%s: %w: big-endian byte order mark", name, ErrDecode)
		}
		data = bytes.TrimPrefix(data, utf16LEBOM)
	case EncodingUTF16BE:
		if bytes.HasPrefix(data, utf16LEBOM) {
			return "", fmt.Errorf("%s: %w: little-endian byte order mark", name, ErrDecode)
		}
		data = bytes.TrimPrefix(data, utf16BEBOM)
	}

	enc, err := lookup(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", name, ErrDecode, err)
	}
	return checkDecoded(name, strings.TrimPrefix(string(out), "\uFEFF"))
}

// Encode encodes UTF-8 text into the named encoding
func Encode(name string, text string) ([]byte, error) {
	name = CanonicalName(name)
	switch name {
	case EncodingUTF8:
		return []byte(text), nil
	case EncodingUTF8Sig:
		return append(append([]byte{}, utf8BOM...), text...), nil
	}
	enc, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return enc.NewEncoder().Bytes([]byte(text))
}

// Supported reports whether name resolves to a decoder
func Supported(name string) bool {
	switch CanonicalName(name) {
	case EncodingUTF8, EncodingUTF8Sig:
		return true
	}
	_, err := lookup(CanonicalName(name))
	return err == nil
}

func lookup(name string) (encoding.Encoding, error) {
	switch name {
	case EncodingGBK, EncodingGB2312:
		return simplifiedchinese.GBK, nil
	case "gb18030":
		return simplifiedchinese.GB18030, nil
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case EncodingLatin1:
		return charmap.ISO8859_1, nil
	case EncodingCP1252:
		return charmap.Windows1252, nil
	}

	if enc, err := htmlindex.Get(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, name)
}

func checkDecoded(name, text string) (string, error) {
	if i := strings.IndexAny(text, "\uFFFD\x00"); i >= 0 {
		return "", fmt.Errorf("%s: %w at offset %d", name, ErrDecode, i)
	}
	return text, nil
}

// validEUCCN checks that every multi-byte pair lies in the GB2312 EUC-CN
// plane, which GBK extends.
func validEUCCN(data []byte) error {
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b < 0x80 {
			continue
		}
		if b < 0xA1 || b > 0xF7 || i+1 >= len(data) {
			return fmt.Errorf("%w: byte 0x%02X at offset %d", ErrDecode, b, i)
		}
		t := data[i+1]
		if t < 0xA1 || t > 0xFE {
			return fmt.Errorf("%w: trail byte 0x%02X at offset %d", ErrDecode, t, i+1)
		}
		i++
	}
	return nil
}
