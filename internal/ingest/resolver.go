package ingest

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"polarcli/internal/config"
	apperrors "polarcli/internal/errors"
	"polarcli/internal/infrastructure"
	"polarcli/pkg/contracts/domain"
)

// Options controls decoding and parsing of analyzer exports
type Options struct {
	Encodings          []string
	SkipRows           int
	Delimiter          rune
	DetectionEnabled   bool
	DetectionThreshold float64
	AzimuthColumn      string
	AzimuthPosition    int
	MaxFileBytes       int64
}

// DefaultOptions returns the options of an analyzer text export
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Ingest)
}

// OptionsFromConfig converts the ingest config section
func OptionsFromConfig(cfg config.IngestConfig) Options {
	delim := '\t'
	if r, _ := utf8.DecodeRuneInString(cfg.Delimiter); r != utf8.RuneError {
		delim = r
	}
	encodings := cfg.Encodings
	if len(encodings) == 0 {
		encodings = DefaultEncodings
	}
	return Options{
		Encodings:          append([]string(nil), encodings...),
		SkipRows:           cfg.SkipRows,
		Delimiter:          delim,
		DetectionEnabled:   cfg.DetectionEnabled,
		DetectionThreshold: cfg.DetectionThreshold,
		AzimuthColumn:      cfg.AzimuthColumn,
		AzimuthPosition:    cfg.AzimuthPosition,
		MaxFileBytes:       cfg.MaxFileBytes,
	}
}

// Resolver turns analyzer exports into RawSampleTables, resolving the
// text encoding by trying candidates in order and falling back to
// statistical detection.
type Resolver struct {
	opts     Options
	detector Detector
	logger   *slog.Logger
	metrics  *infrastructure.Metrics
	tracer   trace.Tracer
}

// ResolverOption customizes a Resolver
type ResolverOption func(*Resolver)

// WithDetector replaces the statistical detector. nil disables detection.
func WithDetector(d Detector) ResolverOption {
	return func(r *Resolver) { r.detector = d }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the instruments load outcomes are recorded on
func WithMetrics(m *infrastructure.Metrics) ResolverOption {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) ResolverOption {
	return func(r *Resolver) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewResolver creates a resolver. Detection uses chardet when enabled in
// opts unless WithDetector overrides it.
func NewResolver(opts Options, options ...ResolverOption) *Resolver {
	if len(opts.Encodings) == 0 {
		opts.Encodings = DefaultEncodings
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = '\t'
	}
	if opts.AzimuthColumn == "" {
		opts.AzimuthColumn = domain.ColumnAzimuth
	}

	r := &Resolver{
		opts:    opts,
		logger:  infrastructure.WithComponent(nil, "ingest"),
		metrics: infrastructure.NoopMetrics(),
		tracer:  otel.Tracer(infrastructure.InstrumentationName),
	}
	if opts.DetectionEnabled {
		r.detector = NewChardetDetector()
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Options returns the resolver options
func (r *Resolver) Options() Options {
	return r.opts
}

// Load reads and parses the file at path
func (r *Resolver) Load(ctx context.Context, path string) (*domain.RawSampleTable, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
				fmt.Sprintf("file not found: %s", path), err).
				WithContext("path", path)
		}
		return nil, apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("cannot access %s", path), err).
			WithContext("path", path)
	}
	if info.IsDir() {
		return nil, apperrors.NewAppValidationError(fmt.Sprintf("%s is a directory", path))
	}
	if r.opts.MaxFileBytes > 0 && info.Size() > r.opts.MaxFileBytes {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("%s is %d bytes, larger than the %d byte limit", path, info.Size(), r.opts.MaxFileBytes))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
			fmt.Sprintf("cannot read %s", path), err).
			WithContext("path", path)
	}
	return r.Parse(ctx, filepath.Base(path), data)
}

// Parse parses an in-memory export. name is used for metadata and to
// recognize workbooks by extension.
func (r *Resolver) Parse(ctx context.Context, name string, data []byte) (table *domain.RawSampleTable, err error) {
	ctx, span := r.tracer.Start(ctx, "ingest.load", trace.WithAttributes(
		attribute.String("source", name),
		attribute.Int("size", len(data)),
	))
	defer span.End()

	start := time.Now()
	logger := r.logger.With(slog.String("source", name))

	var fallback bool
	defer func() {
		encoding, resolution := "", ""
		if table != nil {
			encoding, resolution = table.Source.Encoding, string(table.Source.Resolution)
			span.SetAttributes(
				attribute.String("encoding", encoding),
				attribute.String("resolution", resolution),
				attribute.Int("rows", table.Len()),
			)
		}
		if err != nil {
			infrastructure.RecordError(ctx, err)
		}
		r.metrics.RecordLoad(ctx, encoding, resolution, fallback, err)
	}()

	if r.opts.MaxFileBytes > 0 && int64(len(data)) > r.opts.MaxFileBytes {
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("%s is %d bytes, larger than the %d byte limit", name, len(data), r.opts.MaxFileBytes))
	}

	var res *resolved
	if IsWorkbook(name, data) {
		res, err = r.parseWorkbook(data)
	} else {
		res, err = r.resolveText(ctx, logger, data)
	}
	if err != nil {
		logger.WarnContext(ctx, "Failed to load export",
			slog.String("reason", string(apperrors.ReasonOf(err))),
			slog.String("error", err.Error()))
		return nil, err
	}
	fallback = res.fallback

	digest := blake2b.Sum256(data)
	res.table.Source = domain.SourceInfo{
		Name:              name,
		Encoding:          res.encoding,
		Resolution:        res.resolution,
		Confidence:        res.confidence,
		Digest:            hex.EncodeToString(digest[:]),
		Size:              int64(len(data)),
		SkippedLines:      res.records.skipped,
		Header:            res.records.header,
		AzimuthColumn:     res.layout.azimuthName,
		AzimuthPositional: res.layout.azimuthPositional,
		LoadedAt:          time.Now().UTC(),
	}

	if res.layout.azimuthPositional {
		logger.WarnContext(ctx, "Azimuth column not found by name, using positional column",
			slog.String("expected", r.opts.AzimuthColumn),
			slog.Int("position", res.layout.azimuth),
			slog.String("column", res.layout.azimuthName))
	}
	logger.InfoContext(ctx, "Export loaded",
		slog.String("encoding", res.encoding),
		slog.String("resolution", string(res.resolution)),
		slog.Int("rows", res.table.Len()),
		slog.Duration("duration", time.Since(start)))

	return res.table, nil
}

// resolved is an accepted parse before metadata is attached
type resolved struct {
	table      *domain.RawSampleTable
	records    *records
	layout     *columnLayout
	encoding   string
	resolution domain.EncodingResolution
	confidence int
	fallback   bool
}

// attempt decodes data with one encoding and builds the table. Errors are
// ErrDecode / ErrUnknownEncoding, errShape, or an *AppError for missing
// columns and malformed cells.
func (r *Resolver) attempt(encoding string, data []byte) (*resolved, error) {
	text, err := Decode(encoding, data)
	if err != nil {
		return nil, err
	}
	rec, err := splitText(text, r.opts.Delimiter, r.opts.SkipRows)
	if err != nil {
		return nil, err
	}
	return r.build(rec, CanonicalName(encoding))
}

func (r *Resolver) build(rec *records, encoding string) (*resolved, error) {
	layout, err := resolveColumns(rec.header, r.opts.AzimuthColumn, r.opts.AzimuthPosition)
	if err != nil {
		return nil, err
	}
	table, err := buildTable(rec, layout)
	if err != nil {
		return nil, err
	}
	return &resolved{table: table, records: rec, layout: layout, encoding: encoding}, nil
}

// resolveText tries every candidate encoding in order. A candidate is
// accepted when it decodes cleanly, forms a table and carries every
// required column. Candidates that decode to a well-formed table without
// the required columns are remembered: if no later candidate is accepted
// the first one's MissingColumn error is returned.
func (r *Resolver) resolveText(ctx context.Context, logger *slog.Logger, data []byte) (*resolved, error) {
	var (
		tentative error
		shapeErr  error
		attempts  []string
	)

	for i, enc := range r.opts.Encodings {
		res, err := r.attempt(enc, data)
		if err == nil {
			res.resolution = domain.ResolutionCandidate
			res.fallback = i > 0
			if res.fallback {
				logger.InfoContext(ctx, "Resolved encoding after fallback",
					slog.String("encoding", res.encoding),
					slog.Any("failed", attempts))
			}
			return res, nil
		}

		attempts = append(attempts, CanonicalName(enc))
		switch {
		case apperrors.ReasonOf(err) == apperrors.ReasonMissingColumn:
			if tentative == nil {
				tentative = err
			}
		case apperrors.ReasonOf(err) == apperrors.ReasonMalformedRow:
			// Decoded and carries every column, so the encoding is right.
			return nil, err
		case errors.Is(err, errShape):
			if shapeErr == nil {
				shapeErr = fmt.Errorf("%s: %w", CanonicalName(enc), err)
			}
		}
		logger.DebugContext(ctx, "Encoding candidate rejected",
			slog.String("encoding", CanonicalName(enc)),
			slog.String("error", err.Error()))
	}

	if tentative != nil {
		return nil, tentative
	}

	if res, err := r.detect(ctx, logger, data); res != nil || err != nil {
		return res, err
	}

	diag := Diagnose(data)
	if shapeErr != nil {
		e := apperrors.NewIngestionError(apperrors.ReasonMalformedRow,
			"the file decodes as text but does not form a table", shapeErr).
			WithContext("encodings_tried", attempts).
			WithHint("check that the export is tab-separated with the header on the third line")
		return nil, e
	}

	e := apperrors.NewIngestionError(apperrors.ReasonEncodingUnresolved,
		fmt.Sprintf("could not decode the file with any of: %s", strings.Join(attempts, ", ")), nil).
		WithContext("encodings_tried", attempts).
		WithContext("diagnosis", string(diag.Kind))
	if diag.Summary != "" {
		e.WithHint(diag.Summary)
	}
	for _, h := range diag.Hints {
		e.WithHint(h)
	}
	if len(diag.Hints) == 0 {
		e.WithHint("re-save the file as UTF-8").WithHint("or run `polar transcode` on it")
	}
	return nil, e
}

// detect runs statistical detection. It returns nil, nil when detection is
// unavailable or inconclusive and the caller should keep its own error.
func (r *Resolver) detect(ctx context.Context, logger *slog.Logger, data []byte) (*resolved, error) {
	if r.detector == nil {
		logger.DebugContext(ctx, "Charset detection unavailable")
		return nil, nil
	}

	det, err := r.detector.Detect(data)
	if err != nil {
		logger.DebugContext(ctx, "Charset detection failed", slog.String("error", err.Error()))
		return nil, nil
	}
	if det.Confidence <= r.opts.DetectionThreshold {
		logger.DebugContext(ctx, "Charset detection inconclusive",
			slog.String("charset", det.Charset),
			slog.Float64("confidence", det.Confidence),
			slog.Float64("threshold", r.opts.DetectionThreshold))
		return nil, nil
	}

	res, err := r.attempt(det.Charset, data)
	if err != nil {
		if apperrors.ReasonOf(err) != "" {
			return nil, err
		}
		logger.DebugContext(ctx, "Detected charset did not decode",
			slog.String("charset", det.Charset),
			slog.String("error", err.Error()))
		return nil, nil
	}

	logger.InfoContext(ctx, "Resolved encoding by detection",
		slog.String("charset", det.Charset),
		slog.Float64("confidence", det.Confidence))
	res.resolution = domain.ResolutionDetected
	res.confidence = int(det.Confidence*100 + 0.5)
	res.fallback = true
	return res, nil
}

// IsWorkbook reports whether the upload is an xlsx workbook, by extension
// or by the zip signature
func IsWorkbook(name string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return true
	}
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}
