package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"polarcli/internal/config"
	apperrors "polarcli/internal/errors"
	"polarcli/internal/exporter"
	"polarcli/internal/files"
	"polarcli/internal/shared/testutil"
	"polarcli/internal/stokes"
	ws "polarcli/internal/websocket"
	"polarcli/pkg/contracts/domain"
)

func newSessionService(t *testing.T, options ...SessionServiceOption) (*SessionService, *config.Paths) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	paths := &config.Paths{UploadsDir: filepath.Join(t.TempDir(), "uploads")}
	svc := NewSessionService(newResolver(t), stokes.DefaultOptions(), files.NewManager(paths, logger), 1<<20, logger, options...)
	return svc, paths
}

func uploadCount(t *testing.T, paths *config.Paths) int {
	t.Helper()
	entries, err := os.ReadDir(paths.UploadsDir)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

func TestSessionService_Lifecycle(t *testing.T) {
	svc, paths := newSessionService(t)
	ctx := context.Background()

	info, err := svc.Create(ctx, "run1.txt", bytes.NewReader(standardExport()))
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "run1.txt", info.Name)
	assert.Equal(t, 5, info.Rows)
	assert.False(t, info.Converted)
	require.NotNil(t, info.Source)
	assert.Equal(t, "run1.txt", info.Source.Name)
	assert.Equal(t, 1, uploadCount(t, paths))

	_, err = svc.Properties(ctx, info.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNoData), "properties before convert")

	st, err := svc.Convert(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Len())
	assert.Equal(t, 1.0, st.S0[0])

	got, err := svc.Get(info.ID)
	require.NoError(t, err)
	assert.True(t, got.Converted)

	props, err := svc.Properties(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, props.Len())

	summary, err := svc.Summary(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Rows)
	assert.Equal(t, "run1.txt", summary.Source)

	report, err := svc.RoundTrip(ctx, info.ID, 0)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Equal(t, stokes.DefaultRoundTripTolerance, report.Tolerance)

	report, err = svc.RoundTrip(ctx, info.ID, 1e-2)
	require.NoError(t, err)
	assert.Equal(t, 1e-2, report.Tolerance)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, info.ID, &buf, false))
	require.True(t, bytes.HasPrefix(buf.Bytes(), exporter.BOM))
	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes()[len(exporter.BOM):])).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, domain.StokesHeaders, rows[0])
	assert.Len(t, rows, 6)

	name, err := svc.ExportName(info.ID, "_stokes.csv")
	require.NoError(t, err)
	assert.Equal(t, "run1_stokes.csv", name)

	require.NoError(t, svc.Delete(ctx, info.ID))
	assert.Equal(t, 0, uploadCount(t, paths))
	assert.Zero(t, svc.Count())

	_, err = svc.Get(info.ID)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeNotFound, appErr.Type)
	assert.Error(t, svc.Delete(ctx, info.ID))
}

func TestSessionService_CreateFailureKeepsNothing(t *testing.T) {
	b := new(MockBroadcaster)
	b.On("BroadcastProgress", mock.MatchedBy(func(p domain.Progress) bool {
		return p.Stage == domain.StageLoading
	})).Return().Once()
	b.On("BroadcastProgress", mock.MatchedBy(func(p domain.Progress) bool {
		return p.Stage == domain.StageFailed && p.Percent == 100
	})).Return().Once()
	b.On("BroadcastError", "broken.txt", mock.AnythingOfType("*errors.AppError")).Return().Once()

	svc, paths := newSessionService(t, WithSessionBroadcaster(b))

	_, err := svc.Create(context.Background(), "broken.txt", bytes.NewReader(brokenExport()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMissingColumn))
	assert.Zero(t, svc.Count())
	assert.Equal(t, 0, uploadCount(t, paths))
	b.AssertExpectations(t)
}

func TestSessionService_CreateBroadcasts(t *testing.T) {
	b := new(MockBroadcaster)
	b.On("BroadcastProgress", mock.Anything).Return()
	b.On("Broadcast", ws.TypeSession, mock.Anything).Return()

	svc, _ := newSessionService(t, WithSessionBroadcaster(b))
	info, err := svc.Create(context.Background(), "run1.txt", bytes.NewReader(standardExport()))
	require.NoError(t, err)
	_, err = svc.Convert(context.Background(), info.ID)
	require.NoError(t, err)

	b.AssertCalled(t, "Broadcast", ws.TypeSession, map[string]string{"id": info.ID, "event": "created"})
	b.AssertNumberOfCalls(t, "BroadcastProgress", 3)
	b.AssertNotCalled(t, "BroadcastError", mock.Anything, mock.Anything)
}

func TestSessionService_UploadRules(t *testing.T) {
	v := func(name string) bool { return strings.HasSuffix(name, ".txt") }

	t.Run("filtered extension", func(t *testing.T) {
		svc, paths := newSessionService(t, WithUploadFilter(v))
		_, err := svc.Create(context.Background(), "notes.pdf", strings.NewReader("x"))
		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, apperrors.ErrTypeValidation, appErr.Type)
		assert.Equal(t, 0, uploadCount(t, paths))
	})

	t.Run("too large", func(t *testing.T) {
		logger, _ := testutil.NewTestLogger(t)
		paths := &config.Paths{UploadsDir: filepath.Join(t.TempDir(), "uploads")}
		svc := NewSessionService(newResolver(t), stokes.DefaultOptions(), files.NewManager(paths, logger), 16, logger)
		_, err := svc.Create(context.Background(), "run1.txt", bytes.NewReader(standardExport()))
		assert.Same(t, apperrors.ErrPayloadTooLarge, err)
		assert.Equal(t, 0, uploadCount(t, paths))
	})
}

func TestSessionService_DegenerateRowsRenderAsNaN(t *testing.T) {
	svc, _ := newSessionService(t)
	ctx := context.Background()
	data := testutil.NewExportFixture().
		AddSamples(testutil.ReferenceSample, testutil.Sample{No: 2, Intensity: 50, DOP: 80, Azimuth: 10, PER: -2}).
		Bytes()

	info, err := svc.Create(ctx, "run.txt", bytes.NewReader(data))
	require.NoError(t, err)
	st, err := svc.Convert(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.DegenerateRows)
	assert.True(t, math.IsNaN(st.S1[1]))
}

func TestSessionService_ListAndExpire(t *testing.T) {
	svc, paths := newSessionService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "a.txt", bytes.NewReader(standardExport()))
	require.NoError(t, err)
	second, err := svc.Create(ctx, "b.txt", bytes.NewReader(standardExport()))
	require.NoError(t, err)

	list := svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	assert.Zero(t, svc.Expire(ctx, time.Hour))
	assert.Equal(t, 2, svc.Expire(ctx, 0))
	assert.Zero(t, svc.Count())
	assert.Equal(t, 0, uploadCount(t, paths))
}

func TestSessionService_ExpireKeepsActiveSessions(t *testing.T) {
	svc, paths := newSessionService(t)
	ctx := context.Background()

	idle, err := svc.Create(ctx, "idle.txt", bytes.NewReader(standardExport()))
	require.NoError(t, err)
	active, err := svc.Create(ctx, "active.txt", bytes.NewReader(standardExport()))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, err = svc.Convert(ctx, active.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Expire(ctx, 80*time.Millisecond))

	got, err := svc.Get(active.ID)
	require.NoError(t, err, "a session used within the idle limit survives")
	assert.True(t, got.LastUsed.After(got.CreatedAt))
	assert.True(t, got.Converted)

	_, err = svc.Get(idle.ID)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeNotFound, appErr.Type)
	assert.Equal(t, 1, uploadCount(t, paths))
}

func TestSessionService_OwnsUpload(t *testing.T) {
	svc, paths := newSessionService(t)
	ctx := context.Background()

	info, err := svc.Create(ctx, "run1.txt", bytes.NewReader(standardExport()))
	require.NoError(t, err)

	dirs, err := os.ReadDir(paths.UploadsDir)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	stored := filepath.Join(paths.UploadsDir, dirs[0].Name(), "run1.txt")
	require.FileExists(t, stored)

	assert.True(t, svc.OwnsUpload(stored))
	assert.False(t, svc.OwnsUpload(filepath.Join(paths.UploadsDir, "other", "run1.txt")))

	require.NoError(t, svc.Delete(ctx, info.ID))
	assert.False(t, svc.OwnsUpload(stored))
	assert.NoFileExists(t, stored)
}

func TestSessionService_ConcurrentSessions(t *testing.T) {
	svc, _ := newSessionService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := svc.Create(ctx, "run.txt", bytes.NewReader(standardExport()))
			if err != nil {
				errs <- err
				return
			}
			if _, err := svc.Convert(ctx, info.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 8, svc.Count())

	svc.Close()
	assert.Zero(t, svc.Count())
}
