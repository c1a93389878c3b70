package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"polarcli/internal/files"
	"polarcli/internal/infrastructure"
	"polarcli/internal/services"
)

// Converter turns settled files into exports
type Converter interface {
	Run(ctx context.Context, inputs []string, opts services.BatchOptions) (*services.BatchReport, error)
}

// Config controls a drop-folder watcher
type Config struct {
	// Dir is the watched directory; it must exist
	Dir string
	// Debounce is how long a file must stay quiet before it converts
	Debounce time.Duration
	// Existing converts the inputs already in Dir on start
	Existing bool
	// Batch is handed to the converter for every settled group
	Batch services.BatchOptions
}

// Stats counts watcher activity
type Stats struct {
	Events    int64     `json:"events"`
	Queued    int64     `json:"queued"`
	Batches   int64     `json:"batches"`
	Converted int64     `json:"converted"`
	Failed    int64     `json:"failed"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher converts analyzer exports as they land in a directory. Writes
// are debounced per file so a half-copied export is not read.
type Watcher struct {
	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	cfg       Config
	discovery *files.Discovery
	converter Converter
	logger    *slog.Logger

	pending map[string]time.Time
	stats   Stats

	running bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a watcher. A zero Debounce settles files on the next tick.
func New(cfg Config, discovery *files.Discovery, converter Converter, logger *slog.Logger) (*Watcher, error) {
	if converter == nil {
		return nil, fmt.Errorf("watch: converter is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", cfg.Dir)
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if discovery == nil {
		discovery = files.NewDiscovery("", nil)
	}
	return &Watcher{
		cfg:       cfg,
		discovery: discovery,
		converter: converter,
		logger:    infrastructure.WithComponent(logger, "watcher").With(slog.String("dir", cfg.Dir)),
		pending:   make(map[string]time.Time),
	}, nil
}

// Start begins watching. It returns immediately; conversions run on the
// watcher's goroutine until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(w.cfg.Dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.cfg.Dir, err)
	}

	if w.cfg.Existing {
		existing, err := w.discovery.FindInputs(w.cfg.Dir)
		if err != nil {
			fsw.Close()
			return err
		}
		for _, f := range existing {
			w.pending[f.Path] = time.Time{}
			w.stats.Queued++
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.run(runCtx, fsw, w.stopCh, w.doneCh)

	w.logger.InfoContext(ctx, "Watching for analyzer exports",
		slog.Duration("debounce", w.cfg.Debounce),
		slog.Int("existing", len(w.pending)))
	return nil
}

// Stop ends watching and waits for an in-flight conversion to return.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.cancel()
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("Watcher stopped")
}

// Wait blocks until the watcher goroutine exits
func (w *Watcher) Wait() {
	w.mu.Lock()
	done := w.doneCh
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stats returns a snapshot of the counters
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Pending returns how many files are waiting to settle
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer fsw.Close()

	ticker := time.NewTicker(tickInterval(w.cfg.Debounce))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.markStopped()
			return
		case <-stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", slog.String("error", err.Error()))
			w.mu.Lock()
			w.stats.LastError = err.Error()
			w.mu.Unlock()
		case now := <-ticker.C:
			if settled := w.settled(now); len(settled) > 0 {
				w.convert(ctx, settled)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.discovery.IsInput(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Events++
	if _, queued := w.pending[event.Name]; !queued {
		w.stats.Queued++
	}
	w.pending[event.Name] = time.Now()
}

// settled removes and returns the files quiet for at least the debounce
// period. Files that vanished meanwhile are dropped.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for path, last := range w.pending {
		if now.Sub(last) < w.cfg.Debounce {
			continue
		}
		delete(w.pending, path)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) convert(ctx context.Context, paths []string) {
	w.logger.InfoContext(ctx, "Converting settled files", slog.Int("files", len(paths)))

	report, err := w.converter.Run(ctx, paths, w.cfg.Batch)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Batches++
	w.stats.LastRun = time.Now()
	if report != nil {
		w.stats.Converted += int64(report.Succeeded)
		w.stats.Failed += int64(report.Failed)
		for _, f := range report.Files {
			if !f.OK() {
				w.stats.LastError = fmt.Sprintf("%s: %v", filepath.Base(f.Input), f.Err)
			}
		}
	}
	if err != nil {
		w.stats.LastError = err.Error()
		w.logger.ErrorContext(ctx, "Watched batch failed", slog.String("error", err.Error()))
	}
}

func (w *Watcher) markStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func tickInterval(debounce time.Duration) time.Duration {
	tick := debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > 250*time.Millisecond {
		tick = 250 * time.Millisecond
	}
	return tick
}
