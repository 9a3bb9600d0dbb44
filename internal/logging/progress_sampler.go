package logging

import "strings"

// ProgressSampler thins transfer progress logs to one line per percentage
// bucket, plus one whenever the phase changes (download to resume, say).
type ProgressSampler struct {
	step   float64
	phase  string
	bucket int
}

// NewProgressSampler returns a sampler with the given bucket width in
// percent. Non-positive widths fall back to 5.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step, bucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A negative
// percent means the total is unknown; only phase changes are reported then.
// A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(percent float64, phase string) bool {
	if s == nil {
		return true
	}
	changed := false
	if phase = strings.TrimSpace(phase); phase != "" && phase != s.phase {
		s.phase, s.bucket = phase, -1
		changed = true
	}
	if percent < 0 {
		return changed
	}
	bucket := int(min(percent, 100) / s.step)
	if bucket > s.bucket {
		s.bucket = bucket
		changed = true
	}
	return changed
}

// Reset forgets the last phase and bucket.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.phase, s.bucket = "", -1
	}
}
