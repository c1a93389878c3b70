package ingest

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// DiagnoseWindow is the number of leading bytes the classifier inspects
const DiagnoseWindow = 4096

// DiagnosisKind classifies the probable encoding family of a file
type DiagnosisKind string

const (
	KindUTF8      DiagnosisKind = "utf-8"
	KindUTF8BOM   DiagnosisKind = "utf-8-bom"
	KindUTF16LE   DiagnosisKind = "utf-16le"
	KindUTF16BE   DiagnosisKind = "utf-16be"
	KindUTF32     DiagnosisKind = "utf-32"
	KindWideText  DiagnosisKind = "wide-text"
	KindLegacy    DiagnosisKind = "legacy-8bit"
	KindBinary    DiagnosisKind = "binary"
	KindEmpty     DiagnosisKind = "empty"
	KindUndecided DiagnosisKind = "unknown"
)

// Diagnosis is the classifier verdict plus remediation hints
type Diagnosis struct {
	Kind          DiagnosisKind `json:"kind"`
	BOM           string        `json:"bom,omitempty"`
	NULRatio      float64       `json:"nul_ratio"`
	HighByteRatio float64       `json:"high_byte_ratio"`
	ValidUTF8     bool          `json:"valid_utf8"`
	Summary       string        `json:"summary"`
	Hints         []string      `json:"hints,omitempty"`
}

// Diagnose classifies the leading bytes of a file. It only feeds error
// messages and the diagnose command; the resolver never trusts it.
func Diagnose(data []byte) Diagnosis {
	head := data
	if len(head) > DiagnoseWindow {
		head = head[:DiagnoseWindow]
	}

	d := Diagnosis{Kind: KindUndecided}
	if len(head) == 0 {
		d.Kind = KindEmpty
		d.Summary = "the file is empty"
		d.Hints = []string{"export the measurement again; the file has no content"}
		return d
	}

	var nul, high int
	for _, b := range head {
		switch {
		case b == 0:
			nul++
		case b >= 0x80:
			high++
		}
	}
	d.NULRatio = float64(nul) / float64(len(head))
	d.HighByteRatio = float64(high) / float64(len(head))
	d.ValidUTF8 = utf8.Valid(trimPartialRune(head, len(data) > len(head)))

	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE, 0x00, 0x00}), bytes.HasPrefix(head, []byte{0x00, 0x00, 0xFE, 0xFF}):
		d.Kind, d.BOM = KindUTF32, "utf-32"
		d.Summary = "UTF-32 byte order mark found; UTF-32 is not a supported input encoding"
		d.Hints = []string{"re-save the file as UTF-8"}
	case bytes.HasPrefix(head, utf8BOM):
		d.Kind, d.BOM = KindUTF8BOM, "utf-8"
		d.Summary = "UTF-8 byte order mark found"
		if !d.ValidUTF8 {
			d.Summary += " but the content is not valid UTF-8"
			d.Hints = []string{"the file was probably edited with mixed encodings; re-save it as UTF-8"}
		}
	case bytes.HasPrefix(head, utf16LEBOM):
		d.Kind, d.BOM = KindUTF16LE, EncodingUTF16LE
		d.Summary = "UTF-16 little-endian byte order mark found"
	case bytes.HasPrefix(head, utf16BEBOM):
		d.Kind, d.BOM = KindUTF16BE, EncodingUTF16BE
		d.Summary = "UTF-16 big-endian byte order mark found; only little-endian is tried by default"
		d.Hints = []string{"re-save the file as UTF-8 or UTF-16 little-endian, or add utf-16be to the candidate encodings"}
	case head[0] == 0xFF:
		d.Kind = KindBinary
		d.Summary = "the file starts with byte 0xFF, which is not valid text in any tried encoding"
		d.Hints = []string{
			"the file may be a UTF-16 export without a complete byte order mark, or not a text export",
			"open it in a text editor and re-save as UTF-8",
		}
	case d.NULRatio > 0.3:
		d.Kind = KindWideText
		d.Summary = fmt.Sprintf("%.0f%% NUL bytes suggest UTF-16 text without a byte order mark", d.NULRatio*100)
		d.Hints = []string{"re-save the file as UTF-8", "or add utf-16le to the candidate encodings"}
	case d.NULRatio > 0:
		d.Kind = KindBinary
		d.Summary = "stray NUL bytes found; the file is probably binary or truncated"
		d.Hints = []string{"check that the file is the analyzer's text export"}
	case d.ValidUTF8:
		d.Kind = KindUTF8
		d.Summary = "the content is valid UTF-8"
	case d.HighByteRatio > 0:
		d.Kind = KindLegacy
		d.Summary = fmt.Sprintf("%.1f%% non-ASCII bytes that are not valid UTF-8 suggest a legacy code page such as GBK or Windows-1252", d.HighByteRatio*100)
		d.Hints = []string{"run `polar transcode` to convert the file to UTF-8", "or re-save it as UTF-8"}
	}
	return d
}

// trimPartialRune drops an incomplete rune cut off at the window boundary
func trimPartialRune(b []byte, truncated bool) []byte {
	if !truncated {
		return b
	}
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			break
		}
	}
	return b
}

// String renders the diagnosis for terminal output
func (d Diagnosis) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "kind: %s\n", d.Kind)
	if d.BOM != "" {
		fmt.Fprintf(&b, "bom: %s\n", d.BOM)
	}
	fmt.Fprintf(&b, "valid utf-8: %t\n", d.ValidUTF8)
	fmt.Fprintf(&b, "nul bytes: %.2f%%\n", d.NULRatio*100)
	fmt.Fprintf(&b, "non-ascii bytes: %.2f%%\n", d.HighByteRatio*100)
	fmt.Fprintf(&b, "%s\n", d.Summary)
	for _, h := range d.Hints {
		fmt.Fprintf(&b, "  - %s\n", h)
	}
	return b.String()
}
