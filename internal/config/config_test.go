package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Selection.Metric != DefaultMetric {
		t.Errorf("metric = %q, want %q", cfg.Selection.Metric, DefaultMetric)
	}
	if cfg.Selection.ResultsDir != DefaultResultsDir {
		t.Errorf("resultsDir = %q, want %q", cfg.Selection.ResultsDir, DefaultResultsDir)
	}
	if cfg.Notes.Input != DefaultNotesInput {
		t.Errorf("notes input = %q, want %q", cfg.Notes.Input, DefaultNotesInput)
	}
	if cfg.Notes.Output != DefaultNotesOutput {
		t.Errorf("notes output = %q, want %q", cfg.Notes.Output, DefaultNotesOutput)
	}
	if cfg.Resources.Enabled {
		t.Error("resource logging should be disabled by default")
	}
	if cfg.Resources.LogPath != DefaultResourceLog {
		t.Errorf("resource log = %q, want %q", cfg.Resources.LogPath, DefaultResourceLog)
	}
	if cfg.Watch.DebounceSec != DefaultDebounceSec {
		t.Errorf("debounceSec = %d, want %d", cfg.Watch.DebounceSec, DefaultDebounceSec)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Selection.Metric != DefaultMetric {
		t.Errorf("metric = %q, want default %q", cfg.Selection.Metric, DefaultMetric)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	cfgDir := filepath.Join(tmpDir, ".clinprep")
	os.MkdirAll(cfgDir, 0755)

	testCfg := map[string]any{
		"selection": map[string]any{
			"resultsDir": "/data/results",
			"metric":     "AUROC",
		},
		"resources": map[string]any{
			"enabled": true,
			"logPath": "/data/usage.csv",
		},
	}
	data, _ := json.MarshalIndent(testCfg, "", "  ")
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Selection.ResultsDir != "/data/results" {
		t.Errorf("resultsDir = %q, want /data/results", cfg.Selection.ResultsDir)
	}
	if cfg.Selection.Metric != "AUROC" {
		t.Errorf("metric = %q, want AUROC", cfg.Selection.Metric)
	}
	if !cfg.Resources.Enabled {
		t.Error("resources should be enabled")
	}
	if cfg.Resources.LogPath != "/data/usage.csv" {
		t.Errorf("logPath = %q, want /data/usage.csv", cfg.Resources.LogPath)
	}
	// Unset sections keep defaults
	if cfg.Notes.Input != DefaultNotesInput {
		t.Errorf("notes input = %q, want default", cfg.Notes.Input)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	cfgDir := filepath.Join(tmpDir, ".clinprep")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{nope"), 0644)

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Errorf("error = %v, want parse config context", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	t.Setenv("CLINPREP_RESULTS_DIR", "/env/results")
	t.Setenv("CLINPREP_METRIC", "F1")
	t.Setenv("CLINPREP_RESOURCE_ENABLED", "true")
	t.Setenv("CLINPREP_TELEGRAM_TOKEN", "tok-123")
	t.Setenv("CLINPREP_TELEGRAM_CHAT_ID", "42")
	t.Setenv("CLINPREP_HISTORY_DB", "/env/history.db")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Selection.ResultsDir != "/env/results" {
		t.Errorf("resultsDir = %q, want /env/results", cfg.Selection.ResultsDir)
	}
	if cfg.Selection.Metric != "F1" {
		t.Errorf("metric = %q, want F1", cfg.Selection.Metric)
	}
	if !cfg.Resources.Enabled {
		t.Error("resources should be enabled via env")
	}
	if cfg.Notify.Telegram.Token != "tok-123" {
		t.Errorf("telegram token = %q, want tok-123", cfg.Notify.Telegram.Token)
	}
	if cfg.Notify.Telegram.ChatID != 42 {
		t.Errorf("chatId = %d, want 42", cfg.Notify.Telegram.ChatID)
	}
	if cfg.History.DBPath != "/env/history.db" {
		t.Errorf("history db = %q, want /env/history.db", cfg.History.DBPath)
	}
}

func TestLoadConfig_BadChatIDIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	t.Setenv("CLINPREP_TELEGRAM_CHAT_ID", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Notify.Telegram.ChatID != 0 {
		t.Errorf("chatId = %d, want 0 for unparsable override", cfg.Notify.Telegram.ChatID)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnvOverrides(t)

	cfg := DefaultConfig()
	cfg.Selection.ResultsDir = "/saved/results"
	cfg.Watch.Schedule = "@hourly"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Selection.ResultsDir != "/saved/results" {
		t.Errorf("resultsDir = %q, want /saved/results", loaded.Selection.ResultsDir)
	}
	if loaded.Watch.Schedule != "@hourly" {
		t.Errorf("schedule = %q, want @hourly", loaded.Watch.Schedule)
	}
}

func TestHistoryDBPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg := DefaultConfig()
	want := filepath.Join(tmpDir, ".clinprep", "data", "history.db")
	if got := cfg.HistoryDBPath(); got != want {
		t.Errorf("HistoryDBPath = %q, want %q", got, want)
	}

	cfg.History.DBPath = "/custom/h.db"
	if got := cfg.HistoryDBPath(); got != "/custom/h.db" {
		t.Errorf("HistoryDBPath = %q, want /custom/h.db", got)
	}
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLINPREP_RESULTS_DIR", "CLINPREP_METRIC",
		"CLINPREP_NOTES_INPUT", "CLINPREP_NOTES_OUTPUT",
		"CLINPREP_RESOURCE_LOG", "CLINPREP_RESOURCE_ENABLED",
		"CLINPREP_TELEGRAM_TOKEN", "CLINPREP_TELEGRAM_CHAT_ID",
		"CLINPREP_HISTORY_DB",
	} {
		t.Setenv(key, "")
	}
}
