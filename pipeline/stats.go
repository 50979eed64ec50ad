package pipeline

import (
	"runtime"
	"time"
)

// RunStatistics aggregates counters for conversion work. Process returns a
// call-scoped value and accumulates the same counters into the pipeline's
// instance totals, readable via Stats.
type RunStatistics struct {
	// Processed counts documents that entered full processing. Documents
	// dismissed by the existence probe are not counted.
	Processed int `json:"processed"`
	// Detected counts fragments found across processed documents.
	Detected int `json:"detected"`
	// Converted counts fragments resolved to an image, cache hits included.
	Converted int `json:"converted"`
	// Failed counts fragments left to the fallback policy.
	Failed      int `json:"failed"`
	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`
	// Duration is wall time spent in Process.
	Duration time.Duration `json:"duration_ns"`
	// AvgPerFragment is Duration divided by Detected, zero when nothing
	// was detected.
	AvgPerFragment time.Duration `json:"avg_per_fragment_ns"`
	// PeakHeapBytes is the larger of two heap samples taken entering and
	// leaving Process, an approximation of peak usage.
	PeakHeapBytes uint64 `json:"peak_heap_bytes"`
}

func (s *RunStatistics) add(other RunStatistics) {
	s.Processed += other.Processed
	s.Detected += other.Detected
	s.Converted += other.Converted
	s.Failed += other.Failed
	s.CacheHits += other.CacheHits
	s.CacheMisses += other.CacheMisses
	s.Duration += other.Duration
	if s.Detected > 0 {
		s.AvgPerFragment = s.Duration / time.Duration(s.Detected)
	}
	if other.PeakHeapBytes > s.PeakHeapBytes {
		s.PeakHeapBytes = other.PeakHeapBytes
	}
}

func heapSample() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
