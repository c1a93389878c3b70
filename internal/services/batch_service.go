package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"polarcli/internal/config"
	apperrors "polarcli/internal/errors"
	"polarcli/internal/exporter"
	"polarcli/internal/infrastructure"
	"polarcli/internal/stokes"
	ws "polarcli/internal/websocket"
	"polarcli/pkg/contracts/domain"
)

// BatchReportPrefix starts the file name of every batch report
const BatchReportPrefix = "batch_report_"

// BatchReportHeaders is the column order of the batch report CSV
var BatchReportHeaders = []string{
	"input", "output", "status", "encoding", "resolution", "rows",
	"degenerate_rows", "dop_deviation_mean", "dop_deviation_max", "duration_ms", "error",
}

// BatchOptions controls one batch run
type BatchOptions struct {
	// OutputDir receives one CSV per input. Empty writes next to each input.
	OutputDir string
	// Suffix replaces the input extension in output names
	Suffix string
	// Workers bounds parallel files; values below 1 mean one
	Workers int
	// FailFast cancels the remaining files after the first failure
	FailFast bool
	// Report writes batch_report_<timestamp>.csv into ReportDir
	Report bool
	// ReportDir receives the report. Empty uses OutputDir; with both
	// empty the report goes to the reports directory set with
	// WithReportPaths, or is not written.
	ReportDir string
}

// BatchOptionsFromConfig returns the options of cfg writing into outputDir
func BatchOptionsFromConfig(cfg *config.Config, outputDir string) BatchOptions {
	return BatchOptions{
		OutputDir: outputDir,
		Suffix:    cfg.Export.Suffix,
		Workers:   cfg.Batch.Workers,
		Report:    true,
	}
}

// FileResult is the outcome of one input of a batch
type FileResult struct {
	Input  string
	Output string
	Result *stokes.Result
	Err    error
}

// OK reports whether the file converted
func (r FileResult) OK() bool {
	return r.Err == nil
}

// BatchReport lists the per-file outcomes in input order
type BatchReport struct {
	Files      []FileResult
	Succeeded  int
	Failed     int
	Duration   time.Duration
	ReportPath string
}

// BatchService converts independent files in parallel, one Session per file
type BatchService struct {
	loader      stokes.Loader
	opts        stokes.Options
	broadcaster ws.ProgressBroadcaster
	writer      *exporter.CSVWriter
	reports     *exporter.CSVWriter
	logger      *slog.Logger
	metrics     *infrastructure.Metrics
	tracer      trace.Tracer
}

// BatchOption customizes a BatchService
type BatchOption func(*BatchService)

// WithBroadcaster forwards progress and failures to b
func WithBroadcaster(b ws.ProgressBroadcaster) BatchOption {
	return func(s *BatchService) { s.broadcaster = b }
}

// WithReportPaths writes reports without a directory into paths.ReportsDir
func WithReportPaths(paths *config.Paths) BatchOption {
	return func(s *BatchService) {
		s.reports = exporter.NewCSVWriter(paths).WithLogger(s.logger)
	}
}

// WithBatchMetrics sets the instruments handed to each session
func WithBatchMetrics(m *infrastructure.Metrics) BatchOption {
	return func(s *BatchService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBatchTracer sets the tracer handed to each session
func WithBatchTracer(t trace.Tracer) BatchOption {
	return func(s *BatchService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewBatchService creates a batch service. The loader must be safe for
// concurrent use.
func NewBatchService(loader stokes.Loader, opts stokes.Options, logger *slog.Logger, options ...BatchOption) *BatchService {
	logger = infrastructure.WithComponent(logger, "batch_service")
	s := &BatchService{
		loader:  loader,
		opts:    opts,
		writer:  exporter.NewCSVWriter(nil).WithLogger(logger),
		reports: exporter.NewCSVWriter(nil).WithLogger(logger),
		logger:  logger,
		metrics: infrastructure.NoopMetrics(),
		tracer:  otel.Tracer(infrastructure.InstrumentationName),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Run converts every input. Per-file failures are recorded in the report
// and do not stop the others unless FailFast is set; the returned error is
// then the first failure. Results keep the order of inputs.
func (s *BatchService) Run(ctx context.Context, inputs []string, opts BatchOptions) (*BatchReport, error) {
	ctx, span := s.tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.Int("files", len(inputs)),
		attribute.Int("workers", opts.Workers),
	))
	defer span.End()

	start := time.Now()
	report := &BatchReport{Files: make([]FileResult, len(inputs))}
	if len(inputs) == 0 {
		s.logger.WarnContext(ctx, "Batch has no input files")
		return report, nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	suffix := opts.Suffix
	if suffix == "" {
		suffix = config.Default().Export.Suffix
	}

	s.logger.InfoContext(ctx, "Batch started",
		slog.Int("files", len(inputs)),
		slog.Int("workers", workers),
		slog.String("output_dir", opts.OutputDir))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var completed atomic.Int64
	for i, input := range inputs {
		output := config.OutputPathFor(input, opts.OutputDir, suffix)
		report.Files[i] = FileResult{Input: input, Output: output}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				report.Files[i].Err = err
				return nil
			}

			res, err := s.convert(gctx, input, output)
			report.Files[i].Result = res
			report.Files[i].Err = err

			done := completed.Add(1)
			s.broadcast(ws.TypeBatch, map[string]any{
				"completed": done,
				"total":     len(inputs),
				"file":      filepath.Base(input),
				"ok":        err == nil,
			})

			if err != nil && opts.FailFast {
				return fmt.Errorf("%s: %w", input, err)
			}
			return nil
		})
	}
	firstErr := g.Wait()

	for _, f := range report.Files {
		if f.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	report.Duration = time.Since(start)

	reportDir := opts.ReportDir
	if reportDir == "" {
		reportDir = opts.OutputDir
	}
	if opts.Report && (reportDir != "" || s.reports.ReportsDir() != "") {
		path, err := s.writeReport(reportDir, report)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to write batch report", slog.String("error", err.Error()))
		} else {
			report.ReportPath = path
		}
	}

	s.logger.InfoContext(ctx, "Batch completed",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))

	if firstErr != nil {
		infrastructure.RecordError(ctx, firstErr)
		return report, firstErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// convert takes one file through its own session
func (s *BatchService) convert(ctx context.Context, input, output string) (*stokes.Result, error) {
	session := stokes.NewSession(s.loader, s.opts,
		stokes.WithLogger(s.logger),
		stokes.WithMetrics(s.metrics),
		stokes.WithTracer(s.tracer),
		stokes.WithWriter(s.writer),
		stokes.WithProgress(s.progress),
	)

	res, err := session.Process(ctx, input, output)
	if err != nil {
		s.logger.WarnContext(ctx, "File failed",
			slog.String("input", input),
			slog.String("reason", string(apperrors.ReasonOf(err))),
			slog.String("error", err.Error()))
		if s.broadcaster != nil {
			s.broadcaster.BroadcastError(filepath.Base(input), err)
		}
		return nil, err
	}
	return res, nil
}

func (s *BatchService) progress(p domain.Progress) {
	s.logger.Debug("File progress",
		slog.String("source", p.Source),
		slog.String("stage", string(p.Stage)),
		slog.Int("percent", p.Percent))
	if s.broadcaster != nil {
		s.broadcaster.BroadcastProgress(p)
	}
}

func (s *BatchService) broadcast(messageType string, data any) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(messageType, data)
	}
}

// writeReport streams one row per file into a timestamped CSV in dir, or
// in the reports directory when dir is empty
func (s *BatchService) writeReport(dir string, report *BatchReport) (path string, err error) {
	name := fmt.Sprintf("%s%s.csv", BatchReportPrefix, time.Now().Format("20060102_150405"))
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve report directory: %w", err)
		}
		name = filepath.Join(abs, name)
	}
	stream, err := s.reports.CreateStreamWriter(name, BatchReportHeaders)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, f := range report.Files {
		if err := stream.WriteRecord(reportRecord(f)); err != nil {
			return "", fmt.Errorf("failed to write report row: %w", err)
		}
	}
	return stream.Path(), nil
}

func reportRecord(f FileResult) []string {
	rec := []string{f.Input, f.Output, "ok", "", "", "", "", "", "", "", ""}
	if f.Err != nil {
		rec[1] = ""
		rec[2] = "failed"
		if reason := apperrors.ReasonOf(f.Err); reason != "" {
			rec[2] = string(reason)
		} else if errors.Is(f.Err, context.Canceled) {
			rec[2] = "cancelled"
		}
		rec[10] = f.Err.Error()
		return rec
	}
	r := f.Result
	rec[3] = r.Source.Encoding
	rec[4] = string(r.Source.Resolution)
	rec[5] = exporter.FormatInt(int64(r.Summary.Rows))
	rec[6] = exporter.FormatInt(int64(r.Summary.DegenerateRows))
	rec[7] = exporter.FormatFloat(float64(r.Summary.DOPDeviationMean))
	rec[8] = exporter.FormatFloat(float64(r.Summary.DOPDeviationMax))
	rec[9] = exporter.FormatInt(r.Duration.Milliseconds())
	return rec
}
