// Package resource appends per-run resource usage rows (wall time, estimated
// GPU hours, CPU percent, disk used) to an append-only CSV log.
package resource

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"time"
)

var csvHeader = []string{"tag", "elapsed_hr", "gpu_hrs", "cpu_pct", "disk_used_gb"}

// Prober supplies the telemetry snapshots a Logger records. The host
// implementation reads the local machine; tests substitute doubles.
type Prober interface {
	// PrimeCPU opens a CPU utilization window; CPUPercent closes it.
	PrimeCPU()
	// CPUPercent reports utilization since PrimeCPU. A window that never
	// opened reports zero, like a first snapshot.
	CPUPercent() (float64, error)
	GPUPresent() bool
	DiskUsedBytes(path string) (uint64, error)
}

// Logger records one CSV row per tracked run. The header is written only
// when the log file does not exist yet. Rows from concurrent processes may
// interleave; the log is meant for one process at a time.
type Logger struct {
	path     string
	diskRoot string
	prober   Prober
	now      func() time.Time
}

// New returns a logger that appends to logPath using host telemetry.
func New(logPath string) *Logger {
	return NewWithProber(logPath, &hostProber{})
}

// NewWithProber returns a logger with a custom telemetry source.
func NewWithProber(logPath string, p Prober) *Logger {
	return &Logger{path: logPath, diskRoot: "/", prober: p, now: time.Now}
}

// Track runs fn and appends one usage row on success. If fn or a probe
// fails, the error propagates and no row is written. GPU hours are estimated
// as elapsed hours when an accelerator is present, zero otherwise.
func (l *Logger) Track(tag string, fn func() error) error {
	l.prober.PrimeCPU()
	start := l.now()

	if err := fn(); err != nil {
		return err
	}

	elapsedHr := l.now().Sub(start).Hours()
	cpuPct, err := l.prober.CPUPercent()
	if err != nil {
		return fmt.Errorf("cpu probe: %w", err)
	}
	gpuHrs := 0.0
	if l.prober.GPUPresent() {
		gpuHrs = elapsedHr
	}
	used, err := l.prober.DiskUsedBytes(l.diskRoot)
	if err != nil {
		return fmt.Errorf("disk probe: %w", err)
	}

	if err := l.append(tag, elapsedHr, gpuHrs, cpuPct, float64(used)/1e9); err != nil {
		return err
	}
	log.Printf("[resource] logged %s -> %s", tag, l.path)
	return nil
}

func (l *Logger) append(tag string, elapsedHr, gpuHrs, cpuPct, usedGB float64) error {
	writeHeader := false
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open resource log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		w.Write(csvHeader)
	}
	w.Write([]string{
		tag,
		fmt.Sprintf("%.3f", elapsedHr),
		fmt.Sprintf("%.3f", gpuHrs),
		fmt.Sprintf("%.1f", cpuPct),
		fmt.Sprintf("%.1f", usedGB),
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append resource log: %w", err)
	}
	return nil
}

// RowCount reports the number of data rows in the log, zero when the log
// does not exist yet.
func RowCount(logPath string) (int, error) {
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open resource log: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return 0, fmt.Errorf("read resource log: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows) - 1, nil
}
