package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/config"
	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/history"
	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/notes"
	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/notify"
	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/resource"
	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/selector"
	"github.com/AI-Sandbox-AI-Healthcare/js2-AI-Healthcare-Main/internal/watch"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// SelectOptions for running a selection with custom dependencies
type SelectOptions struct {
	Trigger  string
	Notifier *notify.Notifier
	Stdout   io.Writer
}

// NotesOptions for running the note pipeline with custom output
type NotesOptions struct {
	Stdout io.Writer
}

// StatsOptions for summarizing a note store with custom output
type StatsOptions struct {
	Stdout io.Writer
}

// WatchOptions for running the watcher with custom dependencies
type WatchOptions struct {
	SignalChan chan os.Signal // for testing signal handling
	Notifier   *notify.Notifier
	Stdout     io.Writer
}

// HistoryOptions for listing selection runs with custom output
type HistoryOptions struct {
	Stdout io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "clinprep",
	Short: "clinprep - clinical notes and model selection toolkit",
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Pick the best stacking iteration from fold scores",
	RunE:  runSelect,
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Clean clinical notes and build per-patient sequences",
	RunE:  runNotes,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize a saved note-sequence store",
	RunE:  runStats,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run selection when new fold scores arrive",
	RunE:  runWatch,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent selection runs",
	RunE:  runHistory,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show clinprep status",
	RunE:  runStatus,
}

var (
	selectDirFlag     string
	selectMetricFlag  string
	notesInputFlag    string
	notesOutputFlag   string
	notesRulesFlag    string
	statsStoreFlag    string
	watchDirFlag      string
	watchMetricFlag   string
	watchScheduleFlag string
	watchDebounceFlag int
	historyLimitFlag  int
)

func init() {
	selectCmd.Flags().StringVarP(&selectDirFlag, "results-dir", "d", "", "Directory holding fold scores and model artifacts")
	selectCmd.Flags().StringVarP(&selectMetricFlag, "metric", "m", "", "Fold-score column to average")
	notesCmd.Flags().StringVarP(&notesInputFlag, "input", "i", "", "NOTEEVENTS-style CSV to read")
	notesCmd.Flags().StringVarP(&notesOutputFlag, "output", "o", "", "JSON path for the note-sequence store")
	notesCmd.Flags().StringVarP(&notesRulesFlag, "rules", "r", "", "YAML note-cleaning rules")
	statsCmd.Flags().StringVar(&statsStoreFlag, "store", "", "Note-sequence store to summarize")
	watchCmd.Flags().StringVarP(&watchDirFlag, "results-dir", "d", "", "Directory to watch for fold scores")
	watchCmd.Flags().StringVarP(&watchMetricFlag, "metric", "m", "", "Fold-score column to average")
	watchCmd.Flags().StringVar(&watchScheduleFlag, "schedule", "", "Cron spec for periodic re-selection")
	watchCmd.Flags().IntVar(&watchDebounceFlag, "debounce", 0, "Seconds to wait after the last file event")
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Number of selection runs to show")
	rootCmd.AddCommand(selectCmd, notesCmd, statsCmd, watchCmd, historyCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runSelect is the command handler that uses default options
func runSelect(cmd *cobra.Command, args []string) error {
	return runSelectWithOptions(SelectOptions{})
}

// runSelectWithOptions runs one selection with injectable dependencies for testing
func runSelectWithOptions(opts SelectOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if selectDirFlag != "" {
		cfg.Selection.ResultsDir = selectDirFlag
	}
	if selectMetricFlag != "" {
		cfg.Selection.Metric = selectMetricFlag
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier, err = notify.New(cfg.Notify.Telegram)
		if err != nil {
			log.Printf("[select] warning: telegram notifier unavailable: %v", err)
		}
	}

	return runSelection(cfg, trigger, notifier, stdout)
}

// runSelection executes one selection pass: the selector run itself (under
// resource tracking when enabled), the console summary, a history row, and
// the Telegram notification.
func runSelection(cfg *config.Config, trigger string, notifier *notify.Notifier, stdout io.Writer) error {
	var res *selector.Result
	run := func() error {
		r, err := selector.Run(selector.Options{
			ResultsDir: cfg.Selection.ResultsDir,
			Metric:     cfg.Selection.Metric,
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	}
	if err := tracked(cfg, "select_best_iteration", run); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Best iteration: %s\n", res.BestIter)
	fmt.Fprintf(stdout, "Average %s: %.4f over %d iterations\n", cfg.Selection.Metric, res.MeanScore, res.Iterations)
	fmt.Fprintf(stdout, "Model card: %s\n", res.ReportPath)
	for _, a := range res.Artifacts {
		fmt.Fprintf(stdout, "  copied %s\n", a)
	}

	if err := recordSelection(cfg, trigger, res); err != nil {
		log.Printf("[select] warning: record selection: %v", err)
	}
	if err := notifier.Send(selectionMessage(cfg.Selection.Metric, trigger, res)); err != nil {
		log.Printf("[select] warning: send notification: %v", err)
	}
	return nil
}

func recordSelection(cfg *config.Config, trigger string, res *selector.Result) error {
	store, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Append(history.Entry{
		Metric:     cfg.Selection.Metric,
		BestIter:   res.BestIter,
		MeanScore:  res.MeanScore,
		ReportPath: res.ReportPath,
		Trigger:    trigger,
	})
}

// selectionMessage formats the notification sent after a selection run.
func selectionMessage(metric, trigger string, res *selector.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Best stacking iteration: %s\n", res.BestIter)
	fmt.Fprintf(&sb, "Average %s: %.4f over %d iterations\n", metric, res.MeanScore, res.Iterations)
	fmt.Fprintf(&sb, "Trigger: %s\n", trigger)
	fmt.Fprintf(&sb, "Model card: %s", res.ReportPath)
	return sb.String()
}

// runNotes is the command handler that uses default options
func runNotes(cmd *cobra.Command, args []string) error {
	return runNotesWithOptions(NotesOptions{})
}

// runNotesWithOptions builds the note-sequence store with injectable output for testing
func runNotesWithOptions(opts NotesOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if notesInputFlag != "" {
		cfg.Notes.Input = notesInputFlag
	}
	if notesOutputFlag != "" {
		cfg.Notes.Output = notesOutputFlag
	}
	if notesRulesFlag != "" {
		cfg.Notes.Rules = notesRulesFlag
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	return tracked(cfg, "prepare_note_sequences", func() error {
		return buildNoteStore(cfg, stdout)
	})
}

// buildNoteStore runs the note pipeline end to end: read, filter, sort,
// group into per-patient sequences, persist, and print corpus statistics.
func buildNoteStore(cfg *config.Config, stdout io.Writer) error {
	rules := notes.DefaultRules()
	if cfg.Notes.Rules != "" {
		var err error
		rules, err = notes.LoadRules(cfg.Notes.Rules)
		if err != nil {
			return fmt.Errorf("load cleaning rules: %w", err)
		}
	}

	f, err := os.Open(cfg.Notes.Input)
	if err != nil {
		return fmt.Errorf("open notes input: %w", err)
	}
	defer f.Close()

	recs, err := notes.ReadRecords(f)
	if err != nil {
		return err
	}
	log.Printf("[notes] read %d usable rows from %s", len(recs), cfg.Notes.Input)

	recs = notes.FilterRecords(recs, rules)
	log.Printf("[notes] %d rows after category and boilerplate filters", len(recs))

	notes.SortRecords(recs)
	seqs := notes.BuildSequences(recs, rules)

	if err := seqs.Save(cfg.Notes.Output); err != nil {
		return fmt.Errorf("save note store: %w", err)
	}
	log.Printf("[notes] wrote %s", cfg.Notes.Output)

	printStats(stdout, seqs.Stats())
	return nil
}

func printStats(w io.Writer, st notes.Stats) {
	fmt.Fprintf(w, "Total patients: %s\n", humanize.Comma(int64(st.Patients)))
	fmt.Fprintf(w, "Admissions per patient: mean=%.1f\n", st.MeanAdmissions)
	fmt.Fprintf(w, "Notes per admission: mean=%.1f | 95%%ile=%.0f | max=%d\n", st.MeanNotes, st.P95Notes, st.MaxNotes)
}

// runStats is the command handler that uses default options
func runStats(cmd *cobra.Command, args []string) error {
	return runStatsWithOptions(StatsOptions{})
}

// runStatsWithOptions summarizes a saved store with injectable output for testing
func runStatsWithOptions(opts StatsOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	path := cfg.Notes.Output
	if statsStoreFlag != "" {
		path = statsStoreFlag
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	seqs, err := notes.Load(path)
	if err != nil {
		return fmt.Errorf("load note store: %w", err)
	}

	fmt.Fprintf(stdout, "Store: %s\n", path)
	printStats(stdout, seqs.Stats())
	return nil
}

// runWatch is the command handler that uses default options
func runWatch(cmd *cobra.Command, args []string) error {
	return runWatchWithOptions(WatchOptions{})
}

// runWatchWithOptions keeps the selection fresh until interrupted, re-running
// it on fold-score changes and on the optional cron schedule.
func runWatchWithOptions(opts WatchOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if watchDirFlag != "" {
		cfg.Selection.ResultsDir = watchDirFlag
	}
	if watchMetricFlag != "" {
		cfg.Selection.Metric = watchMetricFlag
	}
	if watchScheduleFlag != "" {
		cfg.Watch.Schedule = watchScheduleFlag
	}
	if watchDebounceFlag > 0 {
		cfg.Watch.DebounceSec = watchDebounceFlag
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier, err = notify.New(cfg.Notify.Telegram)
		if err != nil {
			log.Printf("[watch] warning: telegram notifier unavailable: %v", err)
		}
	}

	svc := watch.NewService(cfg.Selection.ResultsDir, time.Duration(cfg.Watch.DebounceSec)*time.Second, cfg.Watch.Schedule)
	svc.OnRefresh = func(trigger string) error {
		return runSelection(cfg, trigger, notifier, stdout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	// Use injected signal channel for testing, or create default
	sigCh := opts.SignalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[watch] shutting down...")
	svc.Stop()
	return nil
}

// runHistory is the command handler that uses default options
func runHistory(cmd *cobra.Command, args []string) error {
	return runHistoryWithOptions(HistoryOptions{})
}

// runHistoryWithOptions lists recent selection runs with injectable output for testing
func runHistoryWithOptions(opts HistoryOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	store, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("open selection history: %w", err)
	}
	defer store.Close()

	entries, err := store.List(historyLimitFlag)
	if err != nil {
		return fmt.Errorf("list selection history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No selection runs recorded yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s  %-7s  %s=%.4f  trigger=%s\n", e.RunAt, e.BestIter, e.Metric, e.MeanScore, e.Trigger)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	dataDir := filepath.Join(cfgDir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	writeIfNotExists(filepath.Join(cfgDir, "cleaning_rules.yaml"), defaultRulesYAML)

	fmt.Printf("Data dir ready: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to point at your results and notes files\n", cfgPath)
	fmt.Println("  2. Run 'clinprep notes' to build the note-sequence store")
	fmt.Println("  3. Run 'clinprep select' after training to rank iterations")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Results dir: %s\n", cfg.Selection.ResultsDir)
	fmt.Printf("Metric: %s\n", cfg.Selection.Metric)
	fmt.Printf("Notes input: %s\n", cfg.Notes.Input)
	fmt.Printf("Notes output: %s\n", cfg.Notes.Output)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Notify.Telegram.Enabled)

	card := selector.ReportPath(cfg.Selection.ResultsDir)
	if _, err := os.Stat(card); err == nil {
		fmt.Printf("Model card: %s\n", card)
	} else {
		fmt.Println("Model card: none")
	}

	if rows, err := resource.RowCount(cfg.Resources.LogPath); err == nil {
		fmt.Printf("Resource tracking: enabled=%v (%d runs logged)\n", cfg.Resources.Enabled, rows)
	} else {
		fmt.Printf("Resource tracking: enabled=%v\n", cfg.Resources.Enabled)
	}

	printLastSelection(cfg)
	printNoteStore(cfg)
	return nil
}

func printLastSelection(cfg *config.Config) {
	dbPath := cfg.HistoryDBPath()
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Last selection: none recorded")
		return
	}

	store, err := history.Open(dbPath)
	if err != nil {
		fmt.Printf("Last selection: history unavailable (%v)\n", err)
		return
	}
	defer store.Close()

	entries, err := store.List(1)
	if err != nil || len(entries) == 0 {
		fmt.Println("Last selection: none recorded")
		return
	}
	e := entries[0]
	fmt.Printf("Last selection: %s %s=%.4f at %s (trigger=%s)\n", e.BestIter, e.Metric, e.MeanScore, e.RunAt, e.Trigger)
}

func printNoteStore(cfg *config.Config) {
	seqs, err := notes.Load(cfg.Notes.Output)
	if err != nil {
		fmt.Println("Note store: not built (run 'clinprep notes')")
		return
	}
	st := seqs.Stats()
	fmt.Printf("Note store: %s patients, %s notes\n",
		humanize.Comma(int64(st.Patients)), humanize.Comma(int64(st.TotalNotes)))
}

// tracked runs fn under the resource logger when tracking is enabled.
func tracked(cfg *config.Config, tag string, fn func() error) error {
	if !cfg.Resources.Enabled {
		return fn()
	}
	return resource.New(cfg.Resources.LogPath).Track(tag, fn)
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultRulesYAML = `# Note-cleaning rules for clinprep.
# Categories match case-insensitively; drop patterns are lowercase substrings.
keepCategories:
  - Discharge summary
  - Nursing
  - Physician
dropPatterns:
  - dictated by
  - signed electronically
minNoteChars: 40
`
