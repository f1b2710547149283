// Package watch runs the inbox watcher: a directory of event JSON
// files, analyzed as they appear, results written beside the input.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"noema/internal/pipeline"
	"noema/internal/types"
)

const resultSuffix = ".analysis.json"

// Watcher monitors an inbox directory for *.json event files and feeds
// them through the pipeline. Events are processed concurrently across
// files; the LLM scheduler underneath caps actual backend concurrency.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	pipe        *pipeline.Pipeline
	inboxDir    string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	workers     chan struct{}
	wg          sync.WaitGroup
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	logger      *zap.Logger

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	FilesSeen     int
	Analyzed      int
	Skipped       int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// NewWatcher builds a watcher over the given inbox directory.
// maxConcurrent caps how many events are analyzed at once.
func NewWatcher(inboxDir string, pipe *pipeline.Pipeline, maxConcurrent int, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		watcher:     fsw,
		pipe:        pipe,
		inboxDir:    inboxDir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		workers:     make(chan struct{}, maxConcurrent),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
	}, nil
}

// Start begins watching. Non-blocking; existing files in the inbox are
// picked up on the first sweep so a restart never loses queued events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.inboxDir, 0o755); err != nil {
		return fmt.Errorf("create inbox dir %s: %w", w.inboxDir, err)
	}
	if err := w.watcher.Add(w.inboxDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.inboxDir, err)
	}
	w.logger.Info("watching inbox", zap.String("dir", w.inboxDir))

	w.sweepExisting()
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for in-flight analyses to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.wg.Wait()

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("closing watcher", zap.Error(err))
	}
	w.logger.Info("watcher stopped")
}

// GetStats returns a snapshot of watcher activity.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) sweepExisting() {
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		w.logger.Warn("inbox sweep failed", zap.Error(err))
		return
	}
	now := time.Now()
	w.mu.Lock()
	for _, entry := range entries {
		if entry.IsDir() || !eventFile(entry.Name()) {
			continue
		}
		w.debounceMap[filepath.Join(w.inboxDir, entry.Name())] = now.Add(-w.debounceDur)
	}
	w.mu.Unlock()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.dispatchSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !eventFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	w.mu.Lock()
	w.stats.FilesSeen++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	// Debounce: editors and syncers write in bursts.
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// dispatchSettled launches analysis for files past the debounce window.
func (w *Watcher) dispatchSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, seen := range w.debounceMap {
		if now.Sub(seen) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		select {
		case w.workers <- struct{}{}:
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
		w.wg.Add(1)
		go func(path string) {
			defer w.wg.Done()
			defer func() { <-w.workers }()
			w.processFile(ctx, path)
		}(path)
	}
}

func (w *Watcher) processFile(ctx context.Context, path string) {
	resultPath := strings.TrimSuffix(path, ".json") + resultSuffix
	if _, err := os.Stat(resultPath); err == nil {
		w.mu.Lock()
		w.stats.Skipped++
		w.mu.Unlock()
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.fail(path, "read event file", err)
		return
	}

	var event types.PerceivedEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		w.fail(path, "decode event file", err)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := w.pipe.Process(ctx, &event)
	if err != nil {
		w.fail(path, "analyze event", err)
		return
	}

	enc, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		w.fail(path, "encode result", err)
		return
	}
	if err := os.WriteFile(resultPath, enc, 0o644); err != nil {
		w.fail(path, "write result", err)
		return
	}

	w.mu.Lock()
	w.stats.Analyzed++
	w.mu.Unlock()
	w.logger.Info("event analyzed",
		zap.String("file", filepath.Base(path)),
		zap.String("action", string(result.Action)),
		zap.String("stop_reason", string(result.StopReason)))
}

func (w *Watcher) fail(path, what string, err error) {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
	w.logger.Error(what, zap.String("file", path), zap.Error(err))
}

func eventFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, resultSuffix)
}
