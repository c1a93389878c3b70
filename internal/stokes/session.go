package stokes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"polarcli/internal/config"
	apperrors "polarcli/internal/errors"
	"polarcli/internal/exporter"
	"polarcli/internal/infrastructure"
	"polarcli/pkg/contracts/domain"
)

// Loader produces sample tables from export files
type Loader interface {
	Load(ctx context.Context, path string) (*domain.RawSampleTable, error)
}

// ProgressFunc receives stage updates while a file is processed
type ProgressFunc func(domain.Progress)

// Options controls conversion and export
type Options struct {
	StrictNumerics     bool
	RoundTripTolerance float64
	IncludeProperties  bool
	BOM                bool
}

// DefaultOptions returns the options of the default configuration
func DefaultOptions() Options {
	cfg := config.Default()
	return OptionsFromConfig(cfg.Engine, cfg.Export)
}

// OptionsFromConfig combines the engine and export config sections
func OptionsFromConfig(engine config.EngineConfig, export config.ExportConfig) Options {
	return Options{
		StrictNumerics:     engine.StrictNumerics,
		RoundTripTolerance: engine.RoundTripTolerance,
		IncludeProperties:  export.IncludeProperties,
		BOM:                export.BOM,
	}
}

// state is swapped as a whole so raw and Stokes tables always belong to
// the same file
type state struct {
	raw    *domain.RawSampleTable
	stokes *domain.StokesTable
}

// Session owns the tables of one conversion pipeline. Methods are safe for
// concurrent use; each call sees a consistent raw/Stokes pair.
type Session struct {
	mu    sync.RWMutex
	state state

	loader   Loader
	opts     Options
	writer   *exporter.CSVWriter
	logger   *slog.Logger
	metrics  *infrastructure.Metrics
	tracer   trace.Tracer
	progress ProgressFunc
}

// SessionOption customizes a Session
type SessionOption func(*Session)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the instruments conversions and exports are recorded on
func WithMetrics(m *infrastructure.Metrics) SessionOption {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) SessionOption {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithProgress registers a progress callback used by Process
func WithProgress(fn ProgressFunc) SessionOption {
	return func(s *Session) { s.progress = fn }
}

// WithWriter sets the CSV writer used by Save
func WithWriter(w *exporter.CSVWriter) SessionOption {
	return func(s *Session) {
		if w != nil {
			s.writer = w
		}
	}
}

// NewSession creates an empty session reading input through loader
func NewSession(loader Loader, opts Options, options ...SessionOption) *Session {
	if opts.RoundTripTolerance <= 0 {
		opts.RoundTripTolerance = DefaultRoundTripTolerance
	}
	s := &Session{
		loader:  loader,
		opts:    opts,
		logger:  infrastructure.WithComponent(nil, "stokes"),
		metrics: infrastructure.NoopMetrics(),
		tracer:  otel.Tracer(infrastructure.InstrumentationName),
	}
	for _, o := range options {
		o(s)
	}
	if s.writer == nil {
		s.writer = exporter.NewCSVWriter(nil).WithLogger(s.logger)
	}
	return s
}

// Options returns the session options
func (s *Session) Options() Options {
	return s.opts
}

// Load reads path and makes it the current table, dropping any Stokes
// table of the previous file. On failure the current tables are kept.
func (s *Session) Load(ctx context.Context, path string) (*domain.RawSampleTable, error) {
	raw, err := s.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	s.replace(raw)
	return raw, nil
}

func (s *Session) replace(raw *domain.RawSampleTable) {
	s.mu.Lock()
	s.state = state{raw: raw}
	s.mu.Unlock()
}

// Convert runs the forward transform on the current table and keeps the
// result. With StrictNumerics any degenerate row fails the whole table.
func (s *Session) Convert(ctx context.Context) (*domain.StokesTable, error) {
	ctx, span := s.tracer.Start(ctx, "stokes.convert")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	raw := s.state.raw
	if raw == nil {
		err := apperrors.NewConversionError(apperrors.ReasonNoData, "no data loaded", nil).
			WithHint("Load an analyzer export before converting")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger := s.logger.With(slog.String("source", raw.Source.Name))
	start := time.Now()

	table, err := Forward(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		infrastructure.RecordError(ctx, err)
		return nil, err
	}

	if table.DegenerateRows > 0 {
		degenerate := DegenerateIndices(table)
		samples := make([]int64, 0, len(degenerate))
		for _, i := range degenerate {
			samples = append(samples, table.No[i])
		}
		logger.WarnContext(ctx, "Degenerate samples in conversion",
			slog.Int("count", table.DegenerateRows),
			slog.Any("samples", firstN(samples, 20)))

		if s.opts.StrictNumerics {
			err := apperrors.NewConversionError(apperrors.ReasonNumericDegeneracy,
				fmt.Sprintf("%d of %d samples produced non-finite Stokes parameters", table.DegenerateRows, table.Len()), nil).
				WithContext("samples", firstN(samples, 20)).
				WithHint("Check PER [dB] (must be > 0) and Intensity [%] (must be > 0) for the listed samples")
			span.SetStatus(codes.Error, err.Error())
			infrastructure.RecordError(ctx, err)
			return nil, err
		}
	}

	duration := time.Since(start)
	s.metrics.RecordConversion(ctx, table.Len(), table.DegenerateRows, duration)
	span.SetAttributes(
		attribute.Int("rows", table.Len()),
		attribute.Int("degenerate", table.DegenerateRows),
	)
	logger.InfoContext(ctx, "Converted to Stokes parameters",
		slog.Int("rows", table.Len()),
		slog.Duration("duration", duration))

	s.state = state{raw: raw, stokes: table}
	return table, nil
}

// Properties derives polarization properties from the current Stokes
// table. The result is recomputed on every call.
func (s *Session) Properties(ctx context.Context) (*domain.PropertyTable, error) {
	_, span := s.tracer.Start(ctx, "stokes.properties")
	defer span.End()

	st := s.snapshot().stokes
	if st == nil {
		return nil, errNotConverted()
	}
	return DeriveProperties(st)
}

// Save writes the current Stokes table, joined with its properties when
// includeProperties is set, to path
func (s *Session) Save(ctx context.Context, path string, includeProperties bool) (err error) {
	ctx, span := s.tracer.Start(ctx, "stokes.save", trace.WithAttributes(
		attribute.String("path", path),
		attribute.Bool("include_properties", includeProperties),
	))
	defer span.End()

	export, err := s.export(includeProperties)
	if err != nil {
		return err
	}

	defer func() {
		s.metrics.RecordExport(ctx, err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			infrastructure.RecordError(ctx, err)
		}
	}()

	if werr := s.writer.SaveStokes(path, export, s.opts.BOM); werr != nil {
		return apperrors.NewIOError(apperrors.ReasonWriteFailed,
			fmt.Sprintf("cannot write %s", path), werr).
			WithContext("path", path).
			WithHint("Check that the output directory is writable and the file is not open in another program")
	}

	s.logger.InfoContext(ctx, "Stokes parameters saved",
		slog.String("path", path),
		slog.Int("rows", export.Stokes.Len()),
		slog.Bool("include_properties", includeProperties))
	return nil
}

// WriteCSV streams the export Save would write to w
func (s *Session) WriteCSV(ctx context.Context, w io.Writer, includeProperties bool) (err error) {
	export, err := s.export(includeProperties)
	if err != nil {
		return err
	}
	defer func() { s.metrics.RecordExport(ctx, err) }()

	if werr := s.writer.WriteStokes(w, export, s.opts.BOM); werr != nil {
		return apperrors.NewIOError(apperrors.ReasonWriteFailed, "cannot stream export", werr)
	}
	return nil
}

func (s *Session) export(includeProperties bool) (exporter.StokesExport, error) {
	st := s.snapshot().stokes
	if st == nil {
		return exporter.StokesExport{}, errNotConverted()
	}
	export := exporter.StokesExport{Stokes: st}
	if includeProperties {
		props, err := DeriveProperties(st)
		if err != nil {
			return exporter.StokesExport{}, err
		}
		export.Properties = props
	}
	return export, nil
}

// Summary returns statistics of the current Stokes table
func (s *Session) Summary() (domain.ConversionSummary, error) {
	st := s.snapshot()
	if st.stokes == nil {
		return domain.ConversionSummary{}, errNotConverted()
	}
	return Summarize(st.raw, st.stokes)
}

// SummaryText renders Summary as the plain-text report
func (s *Session) SummaryText() (string, error) {
	summary, err := s.Summary()
	if err != nil {
		return "", err
	}
	return summary.String(), nil
}

// RoundTrip compares measured DOP and azimuth against the values derived
// from the current Stokes table
func (s *Session) RoundTrip(ctx context.Context) (*domain.RoundTripReport, error) {
	st := s.snapshot()
	if st.stokes == nil {
		return nil, errNotConverted()
	}
	props, err := DeriveProperties(st.stokes)
	if err != nil {
		return nil, err
	}
	report, err := RoundTrip(st.raw, props, s.opts.RoundTripTolerance)
	if err != nil {
		return nil, err
	}
	if !report.Passed() {
		s.logger.WarnContext(ctx, "Round trip outside tolerance",
			slog.String("source", st.raw.Source.Name),
			slog.Int("outliers", len(report.Outliers)),
			slog.Float64("tolerance", report.Tolerance))
	}
	return report, nil
}

// Raw returns the current sample table, nil before the first load
func (s *Session) Raw() *domain.RawSampleTable {
	return s.snapshot().raw
}

// Stokes returns the current Stokes table, nil before Convert
func (s *Session) Stokes() *domain.StokesTable {
	return s.snapshot().stokes
}

// Source returns metadata of the current table
func (s *Session) Source() (domain.SourceInfo, bool) {
	raw := s.snapshot().raw
	if raw == nil {
		return domain.SourceInfo{}, false
	}
	return raw.Source, true
}

func (s *Session) snapshot() state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Result describes one file taken through Process
type Result struct {
	Input    string                   `json:"input"`
	Output   string                   `json:"output"`
	Source   domain.SourceInfo        `json:"source"`
	Summary  domain.ConversionSummary `json:"summary"`
	Duration time.Duration            `json:"duration"`
}

// Process loads input, converts it and saves the export to output,
// reporting progress at each stage
func (s *Session) Process(ctx context.Context, input, output string) (*Result, error) {
	start := time.Now()
	name := filepath.Base(input)

	s.emit(name, domain.StageLoading, "")
	raw, err := s.Load(ctx, input)
	if err != nil {
		s.emit(name, domain.StageFailed, err.Error())
		return nil, err
	}

	s.emit(name, domain.StageConverting, fmt.Sprintf("%d samples", raw.Len()))
	if _, err := s.Convert(ctx); err != nil {
		s.emit(name, domain.StageFailed, err.Error())
		return nil, err
	}
	if err := s.Save(ctx, output, s.opts.IncludeProperties); err != nil {
		s.emit(name, domain.StageFailed, err.Error())
		return nil, err
	}

	summary, err := s.Summary()
	if err != nil {
		s.emit(name, domain.StageFailed, err.Error())
		return nil, err
	}

	s.emit(name, domain.StageDone, output)
	return &Result{
		Input:    input,
		Output:   output,
		Source:   raw.Source,
		Summary:  summary,
		Duration: time.Since(start),
	}, nil
}

func (s *Session) emit(source string, stage domain.ProgressStage, message string) {
	if s.progress == nil {
		return
	}
	s.progress(domain.Progress{
		Source:    source,
		Stage:     stage,
		Percent:   stage.Percent(),
		Message:   message,
		Timestamp: time.Now(),
	})
}

func errNotConverted() *apperrors.AppError {
	return apperrors.NewConversionError(apperrors.ReasonNoData, "no stokes parameters computed", nil).
		WithHint("Run convert after loading a file")
}

func firstN(values []int64, n int) []int64 {
	if len(values) > n {
		return values[:n]
	}
	return values
}
