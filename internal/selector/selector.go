// Package selector picks the best training iteration by averaging recorded
// cross-validation fold scores and promotes the winning iteration's artifacts
// to stable "across iterations" names.
package selector

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	foldFilePattern = "stacker_best_model_folds_*.csv"
	reportName      = "best-stacker-model-across-iterations.md"
	acrossTag       = "across_iterations"
	defaultMetric   = "Macro-F1"
)

var iterPattern = regexp.MustCompile(`iter[0-9]+`)

// ReportPath returns where Run writes the model card for a results directory.
func ReportPath(dir string) string {
	return filepath.Join(dir, reportName)
}

// Options configure a selection run.
type Options struct {
	// ResultsDir holds the fold-score files and model artifacts.
	ResultsDir string
	// Metric is the fold-score column to average. Defaults to Macro-F1.
	Metric string
}

// Result summarizes a completed selection run.
type Result struct {
	BestIter   string
	BestFile   string
	MeanScore  float64
	Iterations int
	// Artifacts are the base names of the files copied to their
	// across-iterations name, in copy order.
	Artifacts  []string
	ReportPath string
}

// iterScore is one fold-score file with its averaged metric. iterNum is -1
// when the file name carries no iteration tag.
type iterScore struct {
	file    string
	mean    float64
	tag     string
	iterNum int
}

// Run averages the metric column of every fold-score file in the results
// directory, selects the best iteration, copies its artifacts, and writes the
// model card. Ties on the mean go to the lowest iteration number; a tied file
// without an iteration tag loses to one that has one.
func Run(opts Options) (*Result, error) {
	metric := opts.Metric
	if metric == "" {
		metric = defaultMetric
	}
	dir := opts.ResultsDir
	if dir == "" {
		dir = "."
	}

	files, err := filepath.Glob(filepath.Join(dir, foldFilePattern))
	if err != nil {
		return nil, fmt.Errorf("scan results dir: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no fold-score files matching %q in %s", foldFilePattern, dir)
	}

	scores := make([]iterScore, 0, len(files))
	for _, file := range files {
		mean, err := meanMetric(file, metric)
		if err != nil {
			return nil, err
		}
		s := iterScore{file: file, mean: mean, iterNum: -1}
		if tag := iterPattern.FindString(filepath.Base(file)); tag != "" {
			s.tag = tag
			s.iterNum, _ = strconv.Atoi(tag[len("iter"):])
		}
		scores = append(scores, s)
	}

	best := scores[0]
	for _, s := range scores[1:] {
		if betterThan(s, best) {
			best = s
		}
	}
	if best.tag == "" {
		return nil, fmt.Errorf("cannot extract iteration tag from %s", best.file)
	}

	res := &Result{
		BestIter:   best.tag,
		BestFile:   best.file,
		MeanScore:  best.mean,
		Iterations: len(files),
		ReportPath: ReportPath(dir),
	}
	if err := copyArtifacts(dir, best.tag, res); err != nil {
		return nil, err
	}
	if err := writeReport(res.ReportPath, metric, res); err != nil {
		return nil, err
	}
	return res, nil
}

// betterThan reports whether a should replace b as the current winner.
func betterThan(a, b iterScore) bool {
	if a.mean != b.mean {
		return a.mean > b.mean
	}
	if (a.tag != "") != (b.tag != "") {
		return a.tag != ""
	}
	if a.tag != "" && b.tag != "" {
		return a.iterNum < b.iterNum
	}
	return false
}

// meanMetric averages the named column of a fold-score CSV. Empty and NaN
// cells are skipped; any other unparsable cell fails the run.
func meanMetric(path, metric string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open fold scores: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("%s: read header: %w", path, err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == metric {
			col = i
			break
		}
	}
	if col < 0 {
		return 0, fmt.Errorf("%s: missing metric column %q", path, metric)
	}

	var sum float64
	var n int
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%s: read row: %w", path, err)
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad %s value %q", path, metric, cell)
		}
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: no usable %s values", path, metric)
	}
	return sum / float64(n), nil
}

// copyArtifacts promotes the winning iteration's model files and metrics
// tables to their across-iterations names. Missing model files are skipped;
// files of other iterations are never touched.
func copyArtifacts(dir, tag string, res *Result) error {
	for _, ext := range []string{".txt", ".pkl"} {
		src := filepath.Join(dir, "stacker_best_model_"+tag+ext)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		name := "stacker_best_model_" + acrossTag + ext
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			return err
		}
		res.Artifacts = append(res.Artifacts, name)
	}

	metricsFiles, err := filepath.Glob(filepath.Join(dir, "stacker_binary_metrics_"+tag+"_*.csv"))
	if err != nil {
		return fmt.Errorf("scan metrics files: %w", err)
	}
	for _, f := range metricsFiles {
		name := strings.ReplaceAll(filepath.Base(f), tag, acrossTag)
		if err := copyFile(f, filepath.Join(dir, name)); err != nil {
			return err
		}
		res.Artifacts = append(res.Artifacts, name)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy artifact %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}

func writeReport(path, metric string, res *Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model card: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# Model Card: Best Stacking Meta-Learner Across Iterations\n\n")
	fmt.Fprintf(w, "**Best iteration:** `%s`\n", res.BestIter)
	fmt.Fprintf(w, "**Average %s:** %.4f\n\n", metric, res.MeanScore)
	fmt.Fprintln(w, "## Saved Artifacts")
	for _, a := range res.Artifacts {
		fmt.Fprintf(w, "- `%s`\n", a)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write model card: %w", err)
	}
	return nil
}
