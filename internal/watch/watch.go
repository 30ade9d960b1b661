// Package watch re-runs the best-iteration selection when fold-score files
// change in the results directory, or on a fixed schedule.
package watch

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	rcron "github.com/robfig/cron/v3"
)

// foldFilePattern matches the fold-score tables whose arrival or change
// triggers a refresh.
const foldFilePattern = "stacker_best_model_folds_*.csv"

// DefaultDebounce is the quiet period after the last matching event before a
// refresh runs. Training jobs write fold files in bursts.
const DefaultDebounce = 2 * time.Second

// Service watches a results directory and re-runs a refresh callback.
// Event-driven and scheduled refreshes are serialized so they never overlap.
type Service struct {
	dir      string
	debounce time.Duration
	schedule string

	// OnRefresh runs once per trigger. trigger is "watch" or "schedule".
	OnRefresh func(trigger string) error

	runMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	cron    *rcron.Cron
}

// NewService creates a watcher for dir. A non-positive debounce falls back
// to DefaultDebounce; an empty schedule disables the cron trigger.
func NewService(dir string, debounce time.Duration, schedule string) *Service {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Service{dir: dir, debounce: debounce, schedule: schedule}
}

func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		cancel()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.watcher = w

	if s.schedule != "" {
		c := rcron.New()
		if _, err := c.AddFunc(s.schedule, func() { s.refresh("schedule") }); err != nil {
			w.Close()
			cancel()
			return fmt.Errorf("cron schedule %q: %w", s.schedule, err)
		}
		c.Start()
		s.cron = c
		log.Printf("[watch] schedule %q armed", s.schedule)
	}

	go s.eventLoop(ctx)
	log.Printf("[watch] watching %s", s.dir)
	return nil
}

func (s *Service) eventLoop(ctx context.Context) {
	defer s.watcher.Close()

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !matches(event) {
				continue
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.debounce)
			armed = true
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watch] warning: %v", err)
		case <-timer.C:
			armed = false
			s.refresh("watch")
		}
	}
}

func matches(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	ok, err := filepath.Match(foldFilePattern, filepath.Base(event.Name))
	return err == nil && ok
}

func (s *Service) refresh(trigger string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.OnRefresh == nil {
		return
	}
	log.Printf("[watch] refresh (%s)", trigger)
	if err := s.OnRefresh(trigger); err != nil {
		log.Printf("[watch] refresh failed: %v", err)
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[watch] stop timeout waiting for running refresh")
		}
	}
	log.Printf("[watch] stopped")
}
