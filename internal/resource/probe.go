package resource

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// gpuDevicePaths mark an NVIDIA accelerator on the host.
var gpuDevicePaths = []string{"/dev/nvidia0", "/proc/driver/nvidia/version"}

// hostProber reads telemetry from the local machine: CPU utilization from
// /proc/stat deltas, GPU presence from the NVIDIA device nodes, disk usage
// via statfs.
type hostProber struct {
	lastCPU *cpuSample
}

type cpuSample struct {
	busy  uint64
	total uint64
}

func (p *hostProber) PrimeCPU() {
	if s, err := readCPUSample(); err == nil {
		p.lastCPU = s
	}
}

func (p *hostProber) CPUPercent() (float64, error) {
	cur, err := readCPUSample()
	if err != nil {
		return 0, err
	}
	last := p.lastCPU
	p.lastCPU = cur
	if last == nil || cur.total <= last.total {
		return 0, nil
	}
	busy := float64(cur.busy - last.busy)
	total := float64(cur.total - last.total)
	return 100 * busy / total, nil
}

func (p *hostProber) GPUPresent() bool {
	for _, path := range gpuDevicePaths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

func (p *hostProber) DiskUsedBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Frsize)
	if bsize == 0 {
		bsize = uint64(st.Bsize)
	}
	return (st.Blocks - st.Bfree) * bsize, nil
}

func readCPUSample() (*cpuSample, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return nil, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return nil, fmt.Errorf("unexpected /proc/stat format")
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse /proc/stat: %w", err)
		}
		total += v
		// fields 4 and 5 are idle and iowait
		if i == 3 || i == 4 {
			idle += v
		}
	}
	return &cpuSample{busy: total - idle, total: total}, nil
}
