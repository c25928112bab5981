package logging

import "strings"

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when steps or percentage buckets change.
type ProgressSampler struct {
	bucketSize float64
	lastStep   string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the step label changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress update should be logged. Percent can be
// negative to indicate "unknown"; step is trimmed before comparison. Messages
// carry volatile detail and never participate in deduplication.
func (s *ProgressSampler) ShouldLog(percent float64, step, message string) bool {
	if s == nil {
		return true
	}
	step = strings.TrimSpace(step)
	emit := false
	if step != "" && step != s.lastStep {
		s.lastStep = step
		emit = true
		s.lastBucket = -1
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state (e.g. when a new job starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStep = ""
	s.lastBucket = -1
}
