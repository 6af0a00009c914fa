package agent

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// MetricsCollector samples best-effort system health. Every reading is a
// pointer so an unavailable metric is reported as absent, never as zero. An
// explicit instance is injected wherever metrics are needed; there is no
// process-wide singleton.
type MetricsCollector struct {
	storageDir string

	lastCPUTotal uint64
	lastCPUIdle  uint64
	lastCPUAt    time.Time
}

// NewMetricsCollector creates a collector that reports storage usage for
// the given directory's filesystem
func NewMetricsCollector(storageDir string) *MetricsCollector {
	return &MetricsCollector{storageDir: storageDir}
}

// Sample holds one round of readings; nil fields were unavailable
type Sample struct {
	CPUPercent    *float64
	MemoryPercent *float64
	StorageUsedGB *float64
	TemperatureC  *int
}

// Collect gathers whatever the platform exposes. Failures produce nil
// fields, never errors; a display device should report partial health
// rather than none.
func (mc *MetricsCollector) Collect() Sample {
	return Sample{
		CPUPercent:    mc.cpuPercent(),
		MemoryPercent: memoryPercent(),
		StorageUsedGB: mc.storageUsedGB(),
		TemperatureC:  temperatureC(),
	}
}

// cpuPercent derives utilization from /proc/stat deltas between calls. The
// first call primes the counters and reports nothing.
func (mc *MetricsCollector) cpuPercent() *float64 {
	if runtime.GOOS != "linux" {
		return nil
	}
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return nil
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return nil
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}

	prevTotal, prevIdle := mc.lastCPUTotal, mc.lastCPUIdle
	mc.lastCPUTotal, mc.lastCPUIdle = total, idle
	primed := !mc.lastCPUAt.IsZero()
	mc.lastCPUAt = time.Now()

	if !primed || total == prevTotal {
		return nil
	}
	busy := float64((total - prevTotal) - (idle - prevIdle))
	pct := 100 * busy / float64(total-prevTotal)
	if pct < 0 {
		return nil
	}
	return &pct
}

func memoryPercent() *float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return nil
	}
	var totalKB, availKB float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB == 0 {
		return nil
	}
	pct := 100 * (totalKB - availKB) / totalKB
	return &pct
}

func (mc *MetricsCollector) storageUsedGB() *float64 {
	var st syscall.Statfs_t
	if err := syscall.Statfs(mc.storageDir, &st); err != nil {
		return nil
	}
	usedBytes := (st.Blocks - st.Bfree) * uint64(st.Bsize)
	gb := float64(usedBytes) / (1 << 30)
	return &gb
}

// temperatureC reads the first thermal zone when the platform has one
func temperatureC() *int {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return nil
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}
	c := milli / 1000
	return &c
}
