package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/files"
	"polarcli/internal/infrastructure"
	"polarcli/internal/stokes"
	ws "polarcli/internal/websocket"
	"polarcli/pkg/contracts/domain"
)

// SessionInfo describes a stored session
type SessionInfo struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	CreatedAt time.Time          `json:"created_at"`
	LastUsed  time.Time          `json:"last_used"`
	Rows      int                `json:"rows"`
	Converted bool               `json:"converted"`
	Source    *domain.SourceInfo `json:"source,omitempty"`
}

type sessionEntry struct {
	id        string
	name      string
	upload    string
	createdAt time.Time
	session   *stokes.Session

	// unix nanoseconds of the last lookup
	lastUsed atomic.Int64
}

func (e *sessionEntry) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

func (e *sessionEntry) idleSince() time.Time {
	return time.Unix(0, e.lastUsed.Load())
}

func (e *sessionEntry) info() SessionInfo {
	info := SessionInfo{
		ID:        e.id,
		Name:      e.name,
		CreatedAt: e.createdAt,
		LastUsed:  e.idleSince(),
		Rows:      e.session.Raw().Len(),
		Converted: e.session.Stokes() != nil,
	}
	if src, ok := e.session.Source(); ok {
		info.Source = &src
	}
	return info
}

// UploadStore keeps uploaded exports on disk for the life of a session.
// SaveUpload returns a path whose base name is the sanitized upload name.
type UploadStore interface {
	SaveUpload(name string, r io.Reader, limit int64) (string, error)
	Remove(path string) error
}

// SessionService owns the sessions created through the HTTP API. Each
// upload gets its own stokes.Session, so concurrent users never share
// tables.
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	loader      stokes.Loader
	opts        stokes.Options
	uploads     UploadStore
	maxUpload   int64
	accept      func(name string) bool
	broadcaster ws.ProgressBroadcaster

	logger  *slog.Logger
	metrics *infrastructure.Metrics
	tracer  trace.Tracer
}

// SessionServiceOption customizes a SessionService
type SessionServiceOption func(*SessionService)

// WithSessionBroadcaster forwards session progress to b
func WithSessionBroadcaster(b ws.ProgressBroadcaster) SessionServiceOption {
	return func(s *SessionService) { s.broadcaster = b }
}

// WithSessionTelemetry sets the instruments and tracer handed to sessions
func WithSessionTelemetry(m *infrastructure.Metrics, t trace.Tracer) SessionServiceOption {
	return func(s *SessionService) {
		if m != nil {
			s.metrics = m
		}
		if t != nil {
			s.tracer = t
		}
	}
}

// WithUploadFilter rejects uploads whose name accept returns false for
func WithUploadFilter(accept func(name string) bool) SessionServiceOption {
	return func(s *SessionService) { s.accept = accept }
}

// NewSessionService creates the service. maxUpload <= 0 disables the
// upload size check.
func NewSessionService(loader stokes.Loader, opts stokes.Options, uploads UploadStore, maxUpload int64, logger *slog.Logger, options ...SessionServiceOption) *SessionService {
	s := &SessionService{
		sessions:  make(map[string]*sessionEntry),
		loader:    loader,
		opts:      opts,
		uploads:   uploads,
		maxUpload: maxUpload,
		logger:    infrastructure.WithComponent(logger, "session_service"),
		metrics:   infrastructure.NoopMetrics(),
		tracer:    otel.Tracer(infrastructure.InstrumentationName),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Create stores the upload, loads the stored file into a new session and
// returns the session info. Nothing is kept when loading fails.
func (s *SessionService) Create(ctx context.Context, name string, r io.Reader) (SessionInfo, error) {
	if s.accept != nil && !s.accept(name) {
		return SessionInfo{}, apperrors.NewAppValidationError(fmt.Sprintf("%s is not a supported analyzer export", name)).
			WithContext("name", name)
	}

	path, err := s.uploads.SaveUpload(name, r, s.maxUpload)
	if err != nil {
		if errors.Is(err, files.ErrTooLarge) {
			return SessionInfo{}, apperrors.ErrPayloadTooLarge
		}
		return SessionInfo{}, apperrors.NewIOError(apperrors.ReasonWriteFailed, "failed to store upload", err)
	}

	entry := &sessionEntry{
		id:        uuid.New().String(),
		name:      name,
		upload:    path,
		createdAt: time.Now(),
	}
	entry.touch()
	entry.session = stokes.NewSession(s.loader, s.opts,
		stokes.WithLogger(s.logger.With(slog.String("session_id", entry.id))),
		stokes.WithMetrics(s.metrics),
		stokes.WithTracer(s.tracer),
	)

	s.emit(name, domain.StageLoading, "")
	if _, err := entry.session.Load(ctx, path); err != nil {
		s.discard(path)
		s.fail(name, err)
		return SessionInfo{}, err
	}

	s.mu.Lock()
	s.sessions[entry.id] = entry
	count := len(s.sessions)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Session created",
		slog.String("session_id", entry.id),
		slog.String("name", name),
		slog.Int("rows", entry.session.Raw().Len()),
		slog.Int("sessions", count))
	s.broadcast(ws.TypeSession, map[string]string{"id": entry.id, "event": "created"})
	return entry.info(), nil
}

// Get returns the info of session id
func (s *SessionService) Get(id string) (SessionInfo, error) {
	entry, err := s.entry(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return entry.info(), nil
}

// List returns every session, oldest first
func (s *SessionService) List() []SessionInfo {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})
	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info())
	}
	return out
}

// Count returns the number of open sessions
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Convert runs the forward transform of session id
func (s *SessionService) Convert(ctx context.Context, id string) (*domain.StokesTable, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	s.emit(entry.name, domain.StageConverting, "")
	st, err := entry.session.Convert(ctx)
	if err != nil {
		s.fail(entry.name, err)
		return nil, err
	}
	s.emit(entry.name, domain.StageDone, "")
	return st, nil
}

// Properties derives the polarization properties of session id
func (s *SessionService) Properties(ctx context.Context, id string) (*domain.PropertyTable, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return entry.session.Properties(ctx)
}

// Summary returns the conversion summary of session id
func (s *SessionService) Summary(id string) (domain.ConversionSummary, error) {
	entry, err := s.entry(id)
	if err != nil {
		return domain.ConversionSummary{}, err
	}
	return entry.session.Summary()
}

// RoundTrip compares measured and recomputed values of session id.
// tolerance <= 0 uses the configured tolerance.
func (s *SessionService) RoundTrip(ctx context.Context, id string, tolerance float64) (*domain.RoundTripReport, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		return entry.session.RoundTrip(ctx)
	}
	props, err := entry.session.Properties(ctx)
	if err != nil {
		return nil, err
	}
	return stokes.RoundTrip(entry.session.Raw(), props, tolerance)
}

// Export writes the CSV export of session id to w
func (s *SessionService) Export(ctx context.Context, id string, w io.Writer, includeProperties bool) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	return entry.session.WriteCSV(ctx, w, includeProperties)
}

// ExportName returns the download file name of session id's export
func (s *SessionService) ExportName(id, suffix string) (string, error) {
	entry, err := s.entry(id)
	if err != nil {
		return "", err
	}
	base := files.SanitizeName(entry.name)
	return strings.TrimSuffix(base, filepath.Ext(base)) + suffix, nil
}

// Delete removes session id and its upload
func (s *SessionService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return errSessionNotFound(id)
	}

	s.discard(entry.upload)
	s.logger.InfoContext(ctx, "Session deleted", slog.String("session_id", id))
	s.broadcast(ws.TypeSession, map[string]string{"id": id, "event": "deleted"})
	return nil
}

// Expire deletes sessions unused for longer than maxIdle and returns how
// many went
func (s *SessionService) Expire(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	var expired []*sessionEntry
	for id, e := range s.sessions {
		if e.idleSince().Before(cutoff) {
			expired = append(expired, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		s.discard(e.upload)
	}
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "Expired sessions removed", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Close deletes every session and upload
func (s *SessionService) Close() {
	s.Expire(context.Background(), -time.Hour)
}

// OwnsUpload reports whether path is the stored upload of a live session
func (s *SessionService) OwnsUpload(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.sessions {
		if e.upload == path {
			return true
		}
	}
	return false
}

func (s *SessionService) entry(id string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, errSessionNotFound(id)
	}
	entry.touch()
	return entry, nil
}

func (s *SessionService) discard(path string) {
	if err := s.uploads.Remove(path); err != nil {
		s.logger.Warn("Failed to remove upload",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

func (s *SessionService) emit(source string, stage domain.ProgressStage, message string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastProgress(domain.Progress{
		Source:    source,
		Stage:     stage,
		Percent:   stage.Percent(),
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (s *SessionService) fail(source string, err error) {
	s.emit(source, domain.StageFailed, err.Error())
	if s.broadcaster != nil {
		s.broadcaster.BroadcastError(source, err)
	}
}

func (s *SessionService) broadcast(messageType string, data any) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(messageType, data)
	}
}
