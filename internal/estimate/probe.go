package estimate

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// cpuSampleInterval is how long the probe measures before reporting. Short
// enough not to delay a spawn noticeably, long enough to see past a blip.
const cpuSampleInterval = 200 * time.Millisecond

// CPUProbe samples overall CPU utilization.
type CPUProbe struct {
	interval time.Duration
}

// NewCPUProbe creates a probe with the default sample interval.
func NewCPUProbe() *CPUProbe {
	return &CPUProbe{interval: cpuSampleInterval}
}

// CPUPercent returns total CPU utilization over the sample interval.
func (p *CPUProbe) CPUPercent(ctx context.Context) (float64, error) {
	vals, err := cpu.PercentWithContext(ctx, p.interval, false)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, errors.New("no cpu sample")
	}
	return vals[0], nil
}
