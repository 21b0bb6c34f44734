package schedule

import "time"

// spikeSchedule holds at StartConcurrency, jumps to SpikeConcurrency for
// the window [SpikeStart, SpikeStart+SpikeDuration), then returns to
// StartConcurrency. Mirrors a base/spike/base request-rate pattern seen
// elsewhere in this codebase, adapted here to the concurrency domain.
type spikeSchedule struct {
	cfg Config
}

func (s *spikeSchedule) TargetConcurrency(elapsed time.Duration) int {
	cfg := s.cfg
	spikeEnd := cfg.SpikeStart + cfg.SpikeDuration
	if elapsed >= cfg.SpikeStart && elapsed < spikeEnd {
		return clampMin1(cfg.SpikeConcurrency)
	}
	return clampMin1(cfg.StartConcurrency)
}
