package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"zero uses default", 0, 10},
		{"negative uses default", -1, 10},
		{"custom", 25, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
		})
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "MUSICA") {
		t.Error("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		percent  float64
		category string
		want     bool
	}{
		{0, "MUSICA", true},
		{3, "MUSICA", false},
		{10, "MUSICA", true},
		{19.9, "MUSICA", false},
		{21, "VIDEOS", true},
		{22, "VIDEOS", false},
		{-1, "PELICULAS", true},
		{150, "PELICULAS", true},
		{100, "PELICULAS", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.category); got != step.want {
			t.Fatalf("step %d (%v, %s): got %v, want %v", i, step.percent, step.category, got, step.want)
		}
	}

	s.Reset()
	if !s.ShouldLog(0, "MUSICA") {
		t.Fatal("expected emit after reset")
	}
}
