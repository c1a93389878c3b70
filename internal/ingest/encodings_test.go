package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalName(t *testing.T) {
	tests := map[string]string{
		"UTF-8":        EncodingUTF8,
		" utf8 ":       EncodingUTF8,
		"UTF_8_SIG":    EncodingUTF8Sig,
		"CP936":        EncodingGBK,
		"ISO-8859-1":   EncodingLatin1,
		"Windows-1252": EncodingCP1252,
		"GB-18030":     "gb18030",
		"Shift_JIS":    "shift_jis",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalName(in), in)
	}
}

func TestDecode(t *testing.T) {
	gbk, err := Encode(EncodingGBK, "偏振 φ [°]")
	require.NoError(t, err)
	wide, err := Encode(EncodingUTF16LE, "No\tDOP [%]")
	require.NoError(t, err)
	wideBE, err := Encode(EncodingUTF16BE, "No\tDOP [%]")
	require.NoError(t, err)

	tests := []struct {
		name     string
		encoding string
		data     []byte
		want     string
		wantErr  error
	}{
		{name: "utf-8", encoding: EncodingUTF8, data: []byte("φ [°]"), want: "φ [°]"},
		{name: "utf-8 strips bom", encoding: EncodingUTF8, data: []byte("\xEF\xBB\xBFNo"), want: "No"},
		{name: "utf-8-sig", encoding: EncodingUTF8Sig, data: []byte("\xEF\xBB\xBFNo"), want: "No"},
		{name: "utf-8 rejects gbk bytes", encoding: EncodingUTF8, data: gbk, wantErr: ErrDecode},
		{name: "utf-8 rejects NUL", encoding: EncodingUTF8, data: []byte("N\x00o\x00"), wantErr: ErrDecode},
		{name: "gbk", encoding: EncodingGBK, data: gbk, want: "偏振 φ [°]"},
		{name: "gbk rejects 0xFF", encoding: EncodingGBK, data: []byte{0xFF, 0xFE, 'N', 0}, wantErr: ErrDecode},
		{name: "gb2312 accepts EUC-CN", encoding: EncodingGB2312, data: gbk, want: "偏振 φ [°]"},
		{name: "gb2312 rejects GBK extension", encoding: EncodingGB2312, data: []byte{0x81, 0x40}, wantErr: ErrDecode},
		{name: "utf-16le", encoding: EncodingUTF16LE, data: wide, want: "No\tDOP [%]"},
		{name: "utf-16le strips bom", encoding: EncodingUTF16LE, data: append([]byte{0xFF, 0xFE}, wide...), want: "No\tDOP [%]"},
		{name: "utf-16le rejects big-endian bom", encoding: EncodingUTF16LE, data: append([]byte{0xFE, 0xFF}, wideBE...), wantErr: ErrDecode},
		{name: "utf-16be", encoding: EncodingUTF16BE, data: append([]byte{0xFE, 0xFF}, wideBE...), want: "No\tDOP [%]"},
		{name: "utf-16le odd length", encoding: EncodingUTF16LE, data: []byte{'N', 0, 'o'}, wantErr: ErrDecode},
		{name: "latin-1", encoding: EncodingLatin1, data: []byte{'A', 0xB0}, want: "A°"},
		{name: "cp1252", encoding: EncodingCP1252, data: []byte{0x80}, want: "€"},
		{name: "unknown", encoding: "klingon", data: []byte("x"), wantErr: ErrUnknownEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.encoding, tt.data)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSupported(t *testing.T) {
	for _, enc := range DefaultEncodings {
		assert.True(t, Supported(enc), enc)
	}
	assert.True(t, Supported("gb18030"))
	assert.False(t, Supported("klingon"))
}
