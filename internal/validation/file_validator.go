package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"polarcli/internal/config"
	apperrors "polarcli/internal/errors"
	"polarcli/internal/infrastructure"
)

// FileValidator checks analyzer inputs and output directories before any
// decoding starts, so CLI and watch users get a precise error instead of a
// decoding failure
type FileValidator struct {
	extensions []string
	maxBytes   int64
	logger     *slog.Logger
}

// NewFileValidator creates a validator accepting the configured extensions
// up to the configured size. An empty extension list accepts any file.
func NewFileValidator(cfg config.IngestConfig, logger *slog.Logger) *FileValidator {
	exts := make([]string, 0, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts = append(exts, strings.ToLower(ext))
	}
	return &FileValidator{
		extensions: exts,
		maxBytes:   cfg.MaxFileBytes,
		logger:     infrastructure.WithComponent(logger, "validation"),
	}
}

// ValidateInputFile checks that path is an existing, readable regular file
// with an accepted extension and within the size limit
func (v *FileValidator) ValidateInputFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("Input file does not exist", slog.String("file", path))
		return apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("input file %s does not exist", path), err).
			WithContext("path", path)
	}
	if err != nil {
		v.logger.Error("Failed to stat input file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("failed to stat %s", path), err)
	}
	if info.IsDir() {
		return apperrors.NewAppValidationError(fmt.Sprintf("%s is a directory, not a file", path)).
			WithHint("Use polar batch to convert every file in a directory")
	}

	if !v.ExtensionAllowed(path) {
		v.logger.Warn("Unsupported input extension",
			slog.String("file", path),
			slog.String("extension", filepath.Ext(path)))
		return apperrors.NewAppValidationError(
			fmt.Sprintf("%s has unsupported extension %q", path, filepath.Ext(path))).
			WithContext("allowed", v.extensions).
			WithHint("Accepted extensions: " + strings.Join(v.extensions, ", "))
	}

	if v.maxBytes > 0 && info.Size() > v.maxBytes {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("%s is %d bytes, above the %d byte limit", path, info.Size(), v.maxBytes)).
			WithContext("size", info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		v.logger.Error("Input file is not readable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("input file %s is not readable", path), err)
	}
	f.Close()

	v.logger.Debug("Input file validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ExtensionAllowed reports whether the extension of name is accepted
func (v *FileValidator) ExtensionAllowed(name string) bool {
	if len(v.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range v.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ValidateInputDirectory checks that dir exists and is a directory
func (v *FileValidator) ValidateInputDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		v.logger.Error("Input directory does not exist", slog.String("directory", dir))
		return apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("input directory %s does not exist", dir), err)
	}
	if err != nil {
		return apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("failed to stat directory %s", dir), err)
	}
	if !info.IsDir() {
		return apperrors.NewAppValidationError(fmt.Sprintf("%s is not a directory", dir))
	}
	return nil
}

// ValidateOutputDirectory ensures dir exists or can be created, and is
// writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewIOError(apperrors.ReasonWriteFailed,
			fmt.Sprintf("failed to create output directory %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewIOError(apperrors.ReasonWriteFailed,
			fmt.Sprintf("output directory %s is not writable", dir), err).
			WithHint("Choose a directory you can write to with --out")
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)

	v.logger.Debug("Output directory validated", slog.String("directory", dir))
	return nil
}
