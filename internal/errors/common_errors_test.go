package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name        string
		appError    *AppError
		wantMessage string
	}{
		{
			name:        "error without reason or cause",
			appError:    NewAppValidationError("bad input"),
			wantMessage: "[VALIDATION] bad input",
		},
		{
			name:        "ingestion error with reason",
			appError:    NewIngestionError(ReasonMissingColumn, "missing columns: PER [dB]", nil),
			wantMessage: "[INGESTION/MissingColumn] missing columns: PER [dB]",
		},
		{
			name:        "io error with cause",
			appError:    NewIOError(ReasonWriteFailed, "write out.csv", fmt.Errorf("disk full")),
			wantMessage: "[IO/WriteFailed] write out.csv: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMessage, tt.appError.Error())
		})
	}
}

func TestAppError_Is(t *testing.T) {
	err := fmt.Errorf("load sample.txt: %w",
		NewIngestionError(ReasonEncodingUnresolved, "no encoding matched", nil))

	assert.True(t, errors.Is(err, ErrEncodingUnresolved))
	assert.True(t, errors.Is(err, ErrIngestion), "type-only sentinel matches any reason")
	assert.False(t, errors.Is(err, ErrMissingColumn))
	assert.False(t, errors.Is(err, ErrNoData))

	conv := NewConversionError(ReasonNoData, "nothing loaded", nil)
	assert.True(t, errors.Is(conv, ErrNoData))
	assert.True(t, errors.Is(conv, ErrConversion))
	assert.False(t, errors.Is(conv, ErrIngestion))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewIOError(ReasonWriteFailed, "write", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestAppError_WithContextAndHint(t *testing.T) {
	err := NewIngestionError(ReasonMalformedRow, "line 7", nil).
		WithContext("line", 7).
		WithHint("check the decimal separator")

	assert.Equal(t, 7, err.Context["line"])
	require.Len(t, err.Hints, 1)
	assert.Equal(t, "check the decimal separator", err.Hints[0])
}

func TestDiagnostic(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name: "encoding problem names the cause and hints",
			err: NewIngestionError(ReasonEncodingUnresolved, "tried 7 encodings", nil).
				WithHint("re-save the file as UTF-8"),
			contains: []string{"Encoding problem", "tried 7 encodings", "re-save the file as UTF-8"},
		},
		{
			name:     "missing column",
			err:      NewIngestionError(ReasonMissingColumn, "missing columns: No", nil),
			contains: []string{"Column problem", "missing columns: No"},
		},
		{
			name:     "degenerate input",
			err:      NewConversionError(ReasonNumericDegeneracy, "3 rows", nil),
			contains: []string{"Degenerate input", "3 rows"},
		},
		{
			name:     "plain error passes through",
			err:      errors.New("boom"),
			contains: []string{"boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Diagnose(tt.err)
			for _, want := range tt.contains {
				assert.Contains(t, msg, want)
			}
		})
	}
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonFileNotFound,
		ReasonOf(fmt.Errorf("wrap: %w", NewIngestionError(ReasonFileNotFound, "x", nil))))
	assert.Equal(t, Reason(""), ReasonOf(errors.New("plain")))
}
