package stats

import (
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"

	dashtypes "github.com/bergpinheiro/dashdocker/pkg/types"
)

// CPUSample is one raw point-in-time CPU counter reading.
type CPUSample struct {
	TotalUsage  uint64
	SystemUsage uint64
	OnlineCPUs  uint32
}

// CPUPercent calculates CPU usage from two consecutive counter samples.
// Algorithm matches `docker stats`: (cpuDelta / sysDelta) * onlineCPUs * 100.
// Counter resets (negative deltas) and a zero system delta return 0.
func CPUPercent(cur, prev CPUSample) float64 {
	cpuDelta := float64(cur.TotalUsage) - float64(prev.TotalUsage)
	sysDelta := float64(cur.SystemUsage) - float64(prev.SystemUsage)

	if cpuDelta > 0.0 && sysDelta > 0.0 {
		numCPUs := float64(cur.OnlineCPUs)
		if numCPUs == 0 {
			numCPUs = 1.0
		}
		percent := (cpuDelta / sysDelta) * numCPUs * 100.0
		// System delta lags behind on busy hosts; never report above
		// full capacity.
		if percent > numCPUs*100.0 {
			percent = numCPUs * 100.0
		}
		return RoundToDecimal(percent, 2)
	}
	return 0.0
}

// MemoryUsage converts raw usage/limit counters into the normalized memory
// view. Percent is capped at 100 to absorb transient counter overshoot.
func MemoryUsage(usage, limit uint64) dashtypes.MemoryStats {
	percent := 0.0
	if limit > 0 {
		percent = (float64(usage) / float64(limit)) * 100.0
		if percent > 100.0 {
			percent = 100.0
		}
	}
	return dashtypes.MemoryStats{
		Percent:        RoundToDecimal(percent, 2),
		Usage:          usage,
		Limit:          limit,
		UsageFormatted: FormatBytes(usage),
		LimitFormatted: FormatBytes(limit),
	}
}

// UsageMB converts a byte count to mebibytes rounded to 2 decimal places.
func UsageMB(usage uint64) float64 {
	return RoundToDecimal(float64(usage)/1024.0/1024.0, 2)
}

// NetworkTotals sums rx/tx bytes across all reported interfaces.
func NetworkTotals(networks map[string]container.NetworkStats) dashtypes.NetworkStats {
	var total dashtypes.NetworkStats
	for _, n := range networks {
		total.RxBytes += n.RxBytes
		total.TxBytes += n.TxBytes
	}
	total.RxFormatted = FormatBytes(total.RxBytes)
	total.TxFormatted = FormatBytes(total.TxBytes)
	return total
}

// BlockIOTotals sums read/write bytes across all reported block devices.
func BlockIOTotals(stat *container.StatsResponse) dashtypes.BlockIOStats {
	var total dashtypes.BlockIOStats
	for _, bio := range stat.BlkioStats.IoServiceBytesRecursive {
		switch bio.Op {
		case "Read":
			total.Read += bio.Value
		case "Write":
			total.Write += bio.Value
		}
	}
	total.ReadFormatted = FormatBytes(total.Read)
	total.WriteFormatted = FormatBytes(total.Write)
	return total
}

// Calculate normalizes one raw Docker stats reading into ResourceStats.
// Docker includes the previous sample (PreCPUStats) in every reading, so a
// single reading is enough for a rate. Missing fields are treated as zero;
// the engine's payload shape is not guaranteed stable across versions.
func Calculate(stat *container.StatsResponse) dashtypes.ResourceStats {
	cur := CPUSample{
		TotalUsage:  stat.CPUStats.CPUUsage.TotalUsage,
		SystemUsage: stat.CPUStats.SystemUsage,
		OnlineCPUs:  stat.CPUStats.OnlineCPUs,
	}
	prev := CPUSample{
		TotalUsage:  stat.PreCPUStats.CPUUsage.TotalUsage,
		SystemUsage: stat.PreCPUStats.SystemUsage,
	}

	var cpuDelta, sysDelta uint64
	if cur.TotalUsage > prev.TotalUsage {
		cpuDelta = cur.TotalUsage - prev.TotalUsage
	}
	if cur.SystemUsage > prev.SystemUsage {
		sysDelta = cur.SystemUsage - prev.SystemUsage
	}

	return dashtypes.ResourceStats{
		CPU: dashtypes.CPUStats{
			Percent: CPUPercent(cur, prev),
			Usage:   cpuDelta,
			System:  sysDelta,
		},
		Memory:  MemoryUsage(stat.MemoryStats.Usage, stat.MemoryStats.Limit),
		Network: NetworkTotals(stat.Networks),
		Block:   BlockIOTotals(stat),
	}
}

// FormatBytes renders a byte count in base-1024 units with 2 decimal
// places, e.g. "1.5 GB".
func FormatBytes(bytes uint64) string {
	if bytes == 0 {
		return "0 B"
	}

	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(bytes)
	i := 0
	for value >= 1024.0 && i < len(sizes)-1 {
		value /= 1024.0
		i++
	}
	return fmt.Sprintf("%g %s", RoundToDecimal(value, 2), sizes[i])
}

// Uptime renders the elapsed time since startedAt as the largest non-zero
// units, e.g. "2d 3h 45m". Seconds are only shown for uptimes under a day.
// Returns "0s" when now precedes startedAt.
func Uptime(startedAt, now time.Time) string {
	diff := now.Sub(startedAt)
	if diff < 0 {
		return "0s"
	}

	days := int(diff.Hours()) / 24
	hours := int(diff.Hours()) % 24
	minutes := int(diff.Minutes()) % 60
	seconds := int(diff.Seconds()) % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 && days == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}

	if len(parts) == 0 {
		return "0s"
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

// RoundToDecimal rounds a float to n decimal places.
func RoundToDecimal(value float64, places int) float64 {
	shift := float64(1)
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int64(value*shift+0.5)) / shift
}
