package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"polarcli/internal/config"
	apperrors "polarcli/internal/errors"
	"polarcli/internal/exporter"
	"polarcli/internal/ingest"
	"polarcli/internal/shared/testutil"
	"polarcli/internal/stokes"
	ws "polarcli/internal/websocket"
	"polarcli/pkg/contracts/domain"
)

func newResolver(t *testing.T) *ingest.Resolver {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return ingest.NewResolver(ingest.DefaultOptions(), ingest.WithLogger(logger), ingest.WithDetector(nil))
}

func standardExport() []byte {
	return testutil.NewExportFixture().AddSamples(testutil.StandardSamples()...).Bytes()
}

func brokenExport() []byte {
	return []byte("banner\nbanner\nNo\tfoo\n1\t2\n")
}

func TestBatchService_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "converted")
	inputs := []string{
		testutil.WriteFile(t, in, "run1.txt", standardExport()),
		testutil.WriteFile(t, in, "broken.txt", brokenExport()),
		testutil.WriteFile(t, in, "run3.dat", standardExport()),
		testutil.WriteFile(t, in, "run4.csv", testutil.NewExportFixture().AddSamples(testutil.ReferenceSample).GBK(t)),
	}

	logger, _ := testutil.NewTestLogger(t)
	rec := newRecordingBroadcaster()
	svc := NewBatchService(newResolver(t), stokes.DefaultOptions(), logger, WithBroadcaster(rec))

	report, err := svc.Run(context.Background(), inputs, BatchOptions{
		OutputDir: out,
		Suffix:    "_stokes.csv",
		Workers:   3,
		Report:    true,
	})
	require.NoError(t, err)

	require.Len(t, report.Files, 4)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	for i, f := range report.Files {
		assert.Equal(t, inputs[i], f.Input, "results keep input order")
	}

	assert.True(t, report.Files[0].OK())
	assert.Equal(t, filepath.Join(out, "run1_stokes.csv"), report.Files[0].Output)
	assert.FileExists(t, report.Files[0].Output)
	assert.Equal(t, 5, report.Files[0].Result.Summary.Rows)

	assert.False(t, report.Files[1].OK())
	assert.True(t, errors.Is(report.Files[1].Err, apperrors.ErrMissingColumn))
	assert.NoFileExists(t, filepath.Join(out, "broken_stokes.csv"))

	assert.Equal(t, "gbk", report.Files[3].Result.Source.Encoding)

	assert.Equal(t, []domain.ProgressStage{domain.StageLoading, domain.StageConverting, domain.StageDone}, rec.stages("run1.txt"))
	assert.Equal(t, []domain.ProgressStage{domain.StageLoading, domain.StageFailed}, rec.stages("broken.txt"))
	assert.Contains(t, rec.errors, "broken.txt")
	assert.Len(t, rec.messages, 4)
	assert.Equal(t, ws.TypeBatch, rec.messages[0])

	require.NotEmpty(t, report.ReportPath)
	content, err := os.ReadFile(report.ReportPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, exporter.BOM))
	rows, err := csv.NewReader(bytes.NewReader(content[len(exporter.BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, BatchReportHeaders, rows[0])
	assert.Equal(t, "ok", rows[1][2])
	assert.Equal(t, "utf-8", rows[1][3])
	assert.Equal(t, "5", rows[1][5])
	assert.Equal(t, string(apperrors.ReasonMissingColumn), rows[2][2])
	assert.NotEmpty(t, rows[2][10])
}

func TestBatchService_FailFast(t *testing.T) {
	defer goleak.VerifyNone(t)

	in := t.TempDir()
	inputs := []string{testutil.WriteFile(t, in, "broken.txt", brokenExport())}
	for i := 0; i < 5; i++ {
		inputs = append(inputs, testutil.WriteFile(t, in, fmt.Sprintf("run%d.txt", i), standardExport()))
	}

	logger, _ := testutil.NewTestLogger(t)
	svc := NewBatchService(newResolver(t), stokes.DefaultOptions(), logger)

	report, err := svc.Run(context.Background(), inputs, BatchOptions{
		OutputDir: filepath.Join(t.TempDir(), "out"),
		Workers:   1,
		FailFast:  true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMissingColumn))
	assert.Contains(t, err.Error(), "broken.txt")
	assert.Empty(t, report.ReportPath)
	assert.Equal(t, len(inputs), report.Succeeded+report.Failed)
	assert.GreaterOrEqual(t, report.Failed, 1)
}

func TestBatchService_CancelledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	in := t.TempDir()
	inputs := []string{
		testutil.WriteFile(t, in, "run1.txt", standardExport()),
		testutil.WriteFile(t, in, "run2.txt", standardExport()),
	}

	logger, _ := testutil.NewTestLogger(t)
	svc := NewBatchService(newResolver(t), stokes.DefaultOptions(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := svc.Run(ctx, inputs, BatchOptions{OutputDir: t.TempDir(), Workers: 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Failed)
}

func TestBatchService_NoInputs(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	svc := NewBatchService(newResolver(t), stokes.DefaultOptions(), logger)

	report, err := svc.Run(context.Background(), nil, BatchOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Files)
	assert.True(t, handler.ContainsMessage("Batch has no input files"))
}

func TestBatchService_OutputNextToInput(t *testing.T) {
	in := t.TempDir()
	input := testutil.WriteFile(t, in, "run1.txt", standardExport())

	logger, _ := testutil.NewTestLogger(t)
	svc := NewBatchService(newResolver(t), stokes.DefaultOptions(), logger)

	report, err := svc.Run(context.Background(), []string{input}, BatchOptions{Workers: 0, Report: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(in, "run1_stokes.csv"), report.Files[0].Output)
	assert.FileExists(t, report.Files[0].Output)
	assert.Empty(t, report.ReportPath, "no report without an output directory")
}

func TestBatchService_ReportDir(t *testing.T) {
	in := t.TempDir()
	reports := filepath.Join(t.TempDir(), "reports")
	input := testutil.WriteFile(t, in, "run1.txt", standardExport())

	logger, _ := testutil.NewTestLogger(t)
	svc := NewBatchService(newResolver(t), stokes.DefaultOptions(), logger)

	report, err := svc.Run(context.Background(), []string{input}, BatchOptions{Report: true, ReportDir: reports})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(in, "run1_stokes.csv"), report.Files[0].Output)
	assert.Equal(t, reports, filepath.Dir(report.ReportPath))
	assert.True(t, strings.HasPrefix(filepath.Base(report.ReportPath), BatchReportPrefix))
}

func TestBatchService_ReportPaths(t *testing.T) {
	in := t.TempDir()
	paths := &config.Paths{ReportsDir: filepath.Join(t.TempDir(), "reports")}
	input := testutil.WriteFile(t, in, "run1.txt", standardExport())

	logger, _ := testutil.NewTestLogger(t)
	svc := NewBatchService(newResolver(t), stokes.DefaultOptions(), logger, WithReportPaths(paths))

	report, err := svc.Run(context.Background(), []string{input}, BatchOptions{Report: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(in, "run1_stokes.csv"), report.Files[0].Output, "outputs stay next to their input")
	assert.Equal(t, paths.ReportsDir, filepath.Dir(report.ReportPath))
	assert.FileExists(t, report.ReportPath)

	out := filepath.Join(t.TempDir(), "out")
	report, err = svc.Run(context.Background(), []string{input}, BatchOptions{OutputDir: out, Report: true})
	require.NoError(t, err)
	assert.Equal(t, out, filepath.Dir(report.ReportPath), "an output directory wins over the reports directory")
}

func TestReportRecord(t *testing.T) {
	failed := reportRecord(FileResult{Input: "a.txt", Output: "a_stokes.csv", Err: context.Canceled})
	assert.Equal(t, "cancelled", failed[2])
	assert.Empty(t, failed[1])

	plain := reportRecord(FileResult{Input: "b.txt", Err: errors.New("disk on fire")})
	assert.Equal(t, "failed", plain[2])
	assert.Equal(t, "disk on fire", plain[10])
	assert.Len(t, plain, len(BatchReportHeaders))
}
