package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startService(t *testing.T, dir string, debounce time.Duration, schedule string) (*Service, chan string) {
	t.Helper()
	refreshed := make(chan string, 16)
	svc := NewService(dir, debounce, schedule)
	svc.OnRefresh = func(trigger string) error {
		refreshed <- trigger
		return nil
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc, refreshed
}

func waitRefresh(t *testing.T, ch <-chan string, within time.Duration) string {
	t.Helper()
	select {
	case trigger := <-ch:
		return trigger
	case <-time.After(within):
		t.Fatal("timed out waiting for refresh")
		return ""
	}
}

func expectQuiet(t *testing.T, ch <-chan string, quiet time.Duration) {
	t.Helper()
	select {
	case trigger := <-ch:
		t.Fatalf("unexpected refresh (%s)", trigger)
	case <-time.After(quiet):
	}
}

func TestWatch_TriggersOnMatchingFile(t *testing.T) {
	dir := t.TempDir()
	_, refreshed := startService(t, dir, 50*time.Millisecond, "")

	path := filepath.Join(dir, "stacker_best_model_folds_iter1.csv")
	if err := os.WriteFile(path, []byte("Fold,Macro-F1\n1,0.5\n"), 0644); err != nil {
		t.Fatalf("write fold file: %v", err)
	}

	if trigger := waitRefresh(t, refreshed, 3*time.Second); trigger != "watch" {
		t.Errorf("trigger = %q, want watch", trigger)
	}
	expectQuiet(t, refreshed, 300*time.Millisecond)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	_, refreshed := startService(t, dir, 50*time.Millisecond, "")

	for _, name := range []string{"notes.csv", "stacker_best_model_iter1.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	expectQuiet(t, refreshed, 500*time.Millisecond)
}

func TestWatch_DebounceCollapsesBurst(t *testing.T) {
	dir := t.TempDir()
	_, refreshed := startService(t, dir, 250*time.Millisecond, "")

	path := filepath.Join(dir, "stacker_best_model_folds_iter2.csv")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("Fold,Macro-F1\n1,0.5\n"), 0644); err != nil {
			t.Fatalf("write fold file: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	waitRefresh(t, refreshed, 3*time.Second)
	expectQuiet(t, refreshed, 400*time.Millisecond)
}

func TestWatch_ScheduleTrigger(t *testing.T) {
	dir := t.TempDir()
	_, refreshed := startService(t, dir, time.Second, "@every 1s")

	if trigger := waitRefresh(t, refreshed, 3*time.Second); trigger != "schedule" {
		t.Errorf("trigger = %q, want schedule", trigger)
	}
}

func TestWatch_BadSchedule(t *testing.T) {
	svc := NewService(t.TempDir(), time.Second, "not a cron spec")
	svc.OnRefresh = func(string) error { return nil }

	if err := svc.Start(context.Background()); err == nil {
		svc.Stop()
		t.Fatal("expected error for invalid schedule")
	}
}

func TestWatch_StopEndsLoop(t *testing.T) {
	dir := t.TempDir()
	svc, refreshed := startService(t, dir, 50*time.Millisecond, "")
	svc.Stop()
	// The watcher shuts down asynchronously; give it a moment.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "stacker_best_model_folds_iter1.csv")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write fold file: %v", err)
	}

	expectQuiet(t, refreshed, 400*time.Millisecond)
}

func TestNewService_DefaultDebounce(t *testing.T) {
	svc := NewService(t.TempDir(), 0, "")
	if svc.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want %v", svc.debounce, DefaultDebounce)
	}
}
