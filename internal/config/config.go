package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultMetric      = "Macro-F1"
	DefaultResultsDir  = "."
	DefaultNotesInput  = "NOTEEVENTS.csv"
	DefaultNotesOutput = "note_sequences_per_patient.json"
	DefaultResourceLog = "resource_usage.csv"
	DefaultDebounceSec = 2
)

type Config struct {
	Selection SelectionConfig `json:"selection"`
	Notes     NotesConfig     `json:"notes"`
	Resources ResourcesConfig `json:"resources"`
	Watch     WatchConfig     `json:"watch"`
	Notify    NotifyConfig    `json:"notify"`
	History   HistoryConfig   `json:"history"`
}

type SelectionConfig struct {
	// ResultsDir holds the per-iteration fold-score CSVs and model artifacts.
	ResultsDir string `json:"resultsDir"`
	// Metric is the fold-score column averaged when ranking iterations.
	Metric string `json:"metric"`
}

type NotesConfig struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	Rules  string `json:"rules,omitempty"`
}

type ResourcesConfig struct {
	Enabled bool   `json:"enabled"`
	LogPath string `json:"logPath"`
}

type WatchConfig struct {
	DebounceSec int    `json:"debounceSec"`
	Schedule    string `json:"schedule,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

type HistoryConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Selection: SelectionConfig{
			ResultsDir: DefaultResultsDir,
			Metric:     DefaultMetric,
		},
		Notes: NotesConfig{
			Input:  DefaultNotesInput,
			Output: DefaultNotesOutput,
		},
		Resources: ResourcesConfig{
			Enabled: false,
			LogPath: DefaultResourceLog,
		},
		Watch: WatchConfig{
			DebounceSec: DefaultDebounceSec,
		},
		Notify:  NotifyConfig{},
		History: HistoryConfig{},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".clinprep")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// HistoryDBPath resolves the selection-history database location, falling
// back to the data dir under the config dir when not set explicitly.
func (c *Config) HistoryDBPath() string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	return filepath.Join(ConfigDir(), "data", "history.db")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if dir := os.Getenv("CLINPREP_RESULTS_DIR"); dir != "" {
		cfg.Selection.ResultsDir = dir
	}
	if metric := os.Getenv("CLINPREP_METRIC"); metric != "" {
		cfg.Selection.Metric = metric
	}
	if path := os.Getenv("CLINPREP_NOTES_INPUT"); path != "" {
		cfg.Notes.Input = path
	}
	if path := os.Getenv("CLINPREP_NOTES_OUTPUT"); path != "" {
		cfg.Notes.Output = path
	}
	if path := os.Getenv("CLINPREP_RESOURCE_LOG"); path != "" {
		cfg.Resources.LogPath = path
	}
	if enabled := os.Getenv("CLINPREP_RESOURCE_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Resources.Enabled = parsed
		}
	}
	if token := os.Getenv("CLINPREP_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chat := os.Getenv("CLINPREP_TELEGRAM_CHAT_ID"); chat != "" {
		if parsed, err := strconv.ParseInt(chat, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}
	if path := os.Getenv("CLINPREP_HISTORY_DB"); path != "" {
		cfg.History.DBPath = path
	}

	if cfg.Selection.ResultsDir == "" {
		cfg.Selection.ResultsDir = DefaultResultsDir
	}
	if cfg.Selection.Metric == "" {
		cfg.Selection.Metric = DefaultMetric
	}
	if cfg.Resources.LogPath == "" {
		cfg.Resources.LogPath = DefaultResourceLog
	}
	if cfg.Watch.DebounceSec <= 0 {
		cfg.Watch.DebounceSec = DefaultDebounceSec
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
