package stokes

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/exporter"
	"polarcli/internal/ingest"
	"polarcli/internal/shared/testutil"
	"polarcli/pkg/contracts/domain"
)

func newTestSession(t *testing.T, opts Options, options ...SessionOption) (*Session, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	resolver := ingest.NewResolver(ingest.DefaultOptions(), ingest.WithLogger(logger), ingest.WithDetector(nil))
	options = append([]SessionOption{WithLogger(logger)}, options...)
	return NewSession(resolver, opts, options...), handler
}

func standardExport() []byte {
	return testutil.NewExportFixture().AddSamples(testutil.StandardSamples()...).Bytes()
}

func TestSession_Process(t *testing.T) {
	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "run1.txt", standardExport())
	output := filepath.Join(dir, "out", "run1_stokes.csv")

	var stages []domain.Progress
	session, handler := newTestSession(t, DefaultOptions(), WithProgress(func(p domain.Progress) {
		stages = append(stages, p)
	}))

	result, err := session.Process(context.Background(), input, output)
	require.NoError(t, err)

	assert.Equal(t, output, result.Output)
	assert.Equal(t, "run1.txt", result.Source.Name)
	assert.Equal(t, 5, result.Summary.Rows)

	require.Len(t, stages, 3)
	assert.Equal(t, domain.StageLoading, stages[0].Stage)
	assert.Equal(t, 25, stages[0].Percent)
	assert.Equal(t, domain.StageConverting, stages[1].Stage)
	assert.Equal(t, 50, stages[1].Percent)
	assert.Equal(t, domain.StageDone, stages[2].Stage)
	assert.Equal(t, 100, stages[2].Percent)

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, exporter.BOM))

	rows, err := csv.NewReader(bytes.NewReader(content[len(exporter.BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, append(append([]string{}, domain.StokesHeaders...), domain.PropertyHeaders...), rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "1.0", rows[1][1])

	assert.InDelta(t, 0.998, testutil.ParseCell(t, rows[1][3]), 1e-3)

	testutil.AssertLogContains(t, handler, slog.LevelInfo, "Stokes parameters saved")
	testutil.AssertNoErrors(t, handler)
}

func TestSession_ProcessFailureReportsProgress(t *testing.T) {
	var stages []domain.Progress
	session, _ := newTestSession(t, DefaultOptions(), WithProgress(func(p domain.Progress) {
		stages = append(stages, p)
	}))

	_, err := session.Process(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), "out.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrFileNotFound))

	require.Len(t, stages, 2)
	assert.Equal(t, domain.StageFailed, stages[1].Stage)
	assert.Equal(t, 100, stages[1].Percent)
}

func TestSession_EntryPointsBeforeData(t *testing.T) {
	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()

	_, err := session.Convert(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNoData))

	_, err = session.Properties(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNoData))

	err = session.Save(ctx, filepath.Join(t.TempDir(), "out.csv"), true)
	assert.True(t, errors.Is(err, apperrors.ErrNoData))

	_, err = session.Summary()
	assert.True(t, errors.Is(err, apperrors.ErrNoData))

	_, err = session.RoundTrip(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNoData))

	assert.Nil(t, session.Raw())
	_, ok := session.Source()
	assert.False(t, ok)

	// Loaded but not converted.
	_, err = session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run1.txt", standardExport()))
	require.NoError(t, err)
	_, err = session.Properties(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNoData))
}

func TestSession_LoadReplacesTables(t *testing.T) {
	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()

	_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run1.txt", standardExport()))
	require.NoError(t, err)
	_, err = session.Convert(ctx)
	require.NoError(t, err)
	require.NotNil(t, session.Stokes())

	second := testutil.NewExportFixture().AddSamples(testutil.ReferenceSample).Bytes()
	_, err = session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run2.txt", second))
	require.NoError(t, err)

	assert.Nil(t, session.Stokes())
	src, ok := session.Source()
	require.True(t, ok)
	assert.Equal(t, "run2.txt", src.Name)
	assert.Equal(t, 1, session.Raw().Len())
}

func TestSession_FailedLoadKeepsCurrentTables(t *testing.T) {
	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()

	_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run1.txt", standardExport()))
	require.NoError(t, err)
	st, err := session.Convert(ctx)
	require.NoError(t, err)

	_, err = session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "broken.txt", []byte("a\nb\nNo\tfoo\n1\t2\n")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMissingColumn))

	assert.Same(t, st, session.Stokes())
	src, _ := session.Source()
	assert.Equal(t, "run1.txt", src.Name)
}

func TestSession_DegenerateRows(t *testing.T) {
	data := testutil.NewExportFixture().
		AddSamples(testutil.ReferenceSample, testutil.Sample{No: 2, Intensity: 50, DOP: 80, Azimuth: 10, PER: -2}).
		Bytes()

	t.Run("lenient keeps NaN rows", func(t *testing.T) {
		session, handler := newTestSession(t, DefaultOptions())
		ctx := context.Background()
		_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run.txt", data))
		require.NoError(t, err)

		st, err := session.Convert(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.DegenerateRows)
		testutil.AssertLogContains(t, handler, slog.LevelWarn, "Degenerate samples in conversion")
		testutil.AssertLogAttr(t, handler, "count", int64(1))
	})

	t.Run("strict fails the table", func(t *testing.T) {
		opts := DefaultOptions()
		opts.StrictNumerics = true
		session, _ := newTestSession(t, opts)
		ctx := context.Background()
		_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run.txt", data))
		require.NoError(t, err)

		_, err = session.Convert(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrNumericDegeneracy))
		assert.Equal(t, apperrors.ReasonNumericDegeneracy, apperrors.ReasonOf(err))
		assert.Nil(t, session.Stokes())
	})
}

func TestSession_SaveAndWriteCSVMatch(t *testing.T) {
	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()
	_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run1.txt", standardExport()))
	require.NoError(t, err)
	_, err = session.Convert(ctx)
	require.NoError(t, err)

	for _, include := range []bool{true, false} {
		t.Run(fmt.Sprintf("properties=%v", include), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.csv")
			require.NoError(t, session.Save(ctx, path, include))

			saved, err := os.ReadFile(path)
			require.NoError(t, err)

			var streamed bytes.Buffer
			require.NoError(t, session.WriteCSV(ctx, &streamed, include))
			assert.Equal(t, saved, streamed.Bytes())

			rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(saved, exporter.BOM))).ReadAll()
			require.NoError(t, err)
			if include {
				assert.Len(t, rows[0], 15)
			} else {
				assert.Equal(t, domain.StokesHeaders, rows[0])
			}
		})
	}
}

func TestSession_ExportIsIdempotent(t *testing.T) {
	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()
	_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run1.txt", standardExport()))
	require.NoError(t, err)
	st, err := session.Convert(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, session.WriteCSV(ctx, &buf, false))
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(buf.Bytes(), exporter.BOM))).ReadAll()
	require.NoError(t, err)

	for i, row := range rows[1:] {
		values := st.Values(i)
		for j, cell := range row[1:] {
			got := testutil.ParseCell(t, cell)
			assert.Equal(t, values[j], got, "row %d column %s", i, rows[0][j+1])
		}
	}
}

func TestSession_SaveWriteFailure(t *testing.T) {
	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()
	_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run1.txt", standardExport()))
	require.NoError(t, err)
	_, err = session.Convert(ctx)
	require.NoError(t, err)

	dir := t.TempDir()
	err = session.Save(ctx, dir, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrWriteFailed))
	assert.Contains(t, apperrors.Diagnose(err), "writable")
}

func TestSession_SummaryAndRoundTrip(t *testing.T) {
	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()
	_, err := session.Load(ctx, testutil.WriteFile(t, t.TempDir(), "run1.txt", standardExport()))
	require.NoError(t, err)
	_, err = session.Convert(ctx)
	require.NoError(t, err)

	text, err := session.SummaryText()
	require.NoError(t, err)
	assert.Contains(t, text, "Source: run1.txt")
	assert.Contains(t, text, "Samples: 5")

	report, err := session.RoundTrip(ctx)
	require.NoError(t, err)
	assert.True(t, report.Passed(), report.String())
	assert.Equal(t, 5, report.Compared)
}

func TestSession_ConcurrentCallersSeeConsistentTables(t *testing.T) {
	defer goleak.VerifyNone(t)

	session, _ := newTestSession(t, DefaultOptions())
	ctx := context.Background()
	dir := t.TempDir()
	exports := map[string]string{
		"five.txt": testutil.WriteFile(t, dir, "five.txt", standardExport()),
		"one.txt":  testutil.WriteFile(t, dir, "one.txt", testutil.NewExportFixture().AddSamples(testutil.ReferenceSample).Bytes()),
	}
	lengths := map[string]int{"five.txt": 5, "one.txt": 1}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		name := "five.txt"
		if i%2 == 1 {
			name = "one.txt"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = session.Load(ctx, exports[name])
			_, _ = session.Convert(ctx)
			_, _ = session.Summary()
		}()
	}
	wg.Wait()

	snap := session.snapshot()
	require.NotNil(t, snap.raw)
	if snap.stokes != nil {
		assert.Equal(t, snap.raw.Len(), snap.stokes.Len())
		assert.Equal(t, lengths[snap.raw.Source.Name], snap.stokes.Len())
	}
}
