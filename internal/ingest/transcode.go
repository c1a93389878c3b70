package ingest

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	apperrors "polarcli/internal/errors"
)

// BackupSuffix is appended to the original file before it is rewritten
const BackupSuffix = ".bak"

// DefaultTranscodeEncodings are the legacy code pages tried by Transcode
var DefaultTranscodeEncodings = []string{EncodingGBK, EncodingGB2312, EncodingLatin1, EncodingCP1252}

// TranscodeOptions controls Transcode
type TranscodeOptions struct {
	Encodings []string
	DryRun    bool
}

// TranscodeResult reports what Transcode did
type TranscodeResult struct {
	Path       string `json:"path"`
	Encoding   string `json:"encoding"`
	BackupPath string `json:"backup_path,omitempty"`
	Changed    bool   `json:"changed"`
	DryRun     bool   `json:"dry_run"`
}

// Transcode rewrites a legacy-encoded export as UTF-8. The original is
// copied to path+BackupSuffix first. Files that are already UTF-8 are left
// untouched.
func Transcode(path string, opts TranscodeOptions) (*TranscodeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
				fmt.Sprintf("file not found: %s", path), err)
		}
		return nil, apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("cannot read %s", path), err)
	}

	result := &TranscodeResult{Path: path, DryRun: opts.DryRun}
	if utf8.Valid(data) && bytes.IndexByte(data, 0) < 0 {
		result.Encoding = EncodingUTF8
		return result, nil
	}

	encodings := opts.Encodings
	if len(encodings) == 0 {
		encodings = DefaultTranscodeEncodings
	}

	var text string
	for _, enc := range encodings {
		if text, err = Decode(enc, data); err == nil {
			result.Encoding = CanonicalName(enc)
			break
		}
	}
	if result.Encoding == "" {
		diag := Diagnose(data)
		e := apperrors.NewIngestionError(apperrors.ReasonEncodingUnresolved,
			fmt.Sprintf("could not decode %s with any of: %s", path, strings.Join(encodings, ", ")), err)
		for _, h := range diag.Hints {
			e.WithHint(h)
		}
		return nil, e
	}
	if opts.DryRun {
		return result, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.NewIOError(apperrors.ReasonWriteFailed, "cannot stat "+path, err)
	}

	backup := path + BackupSuffix
	if err := os.WriteFile(backup, data, info.Mode().Perm()); err != nil {
		return nil, apperrors.NewIOError(apperrors.ReasonWriteFailed,
			fmt.Sprintf("cannot write backup %s", backup), err)
	}
	if err := os.WriteFile(path, []byte(text), info.Mode().Perm()); err != nil {
		return nil, apperrors.NewIOError(apperrors.ReasonWriteFailed,
			fmt.Sprintf("cannot rewrite %s as UTF-8", path), err).
			WithHint("the original is preserved at " + backup)
	}

	result.BackupPath = backup
	result.Changed = true
	return result, nil
}
