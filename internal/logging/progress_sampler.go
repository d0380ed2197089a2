package logging

import "strings"

// ProgressSampler suppresses repetitive copy progress logs, emitting only when
// the percentage crosses a bucket boundary or the current category changes.
type ProgressSampler struct {
	bucketSize   float64
	lastCategory string
	lastBucket   int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent (default 10).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A negative
// percent means unknown and only category changes emit.
func (s *ProgressSampler) ShouldLog(percent float64, category string) bool {
	if s == nil {
		return true
	}
	category = strings.TrimSpace(category)
	emit := false
	if category != "" && category != s.lastCategory {
		s.lastCategory = category
		emit = true
	}
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		bucket := int(percent / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state when a new job starts.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastCategory = ""
	s.lastBucket = -1
}
