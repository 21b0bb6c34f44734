package schedule

import (
	"math"
	"time"
)

// linearSchedule interpolates concurrency from StartConcurrency to
// MaxConcurrency over RampDuration, then holds at MaxConcurrency.
type linearSchedule struct {
	cfg Config
}

func (s *linearSchedule) TargetConcurrency(elapsed time.Duration) int {
	cfg := s.cfg
	if cfg.RampDuration <= 0 {
		return clampMin1(cfg.MaxConcurrency)
	}

	progress := float64(elapsed) / float64(cfg.RampDuration)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}

	delta := float64(cfg.MaxConcurrency - cfg.StartConcurrency)
	target := float64(cfg.StartConcurrency) + delta*progress
	return clampMin1(int(math.Round(target)))
}
