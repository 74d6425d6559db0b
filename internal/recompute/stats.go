package recompute

import (
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time view of pipeline activity since start.
type StatsSnapshot struct {
	Runs           int            `json:"runs"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	FailuresByType map[string]int `json:"failures_by_type"`
	AlertsEmitted  int            `json:"alerts_emitted"`
	AlertsDeduped  int            `json:"alerts_deduped"`
	Coalesced      int            `json:"coalesced"`
	FailRate       float64        `json:"fail_rate"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	CollectedAt    time.Time      `json:"collected_at"`
}

// Stats counts pipeline outcomes. The zero value is ready to use.
type Stats struct {
	mu        sync.Mutex
	runs      int
	succeeded int
	failed    map[string]int
	emitted   int
	deduped   int
	coalesced int
	lastRunAt time.Time
}

func (s *Stats) recordSuccess(at time.Time, emitted, deduped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.succeeded++
	s.emitted += emitted
	s.deduped += deduped
	s.lastRunAt = at
}

func (s *Stats) recordFailure(at time.Time, errorType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = make(map[string]int)
	}
	s.runs++
	s.failed[errorType]++
	s.lastRunAt = at
}

func (s *Stats) recordCoalesced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coalesced++
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Runs:           s.runs,
		Succeeded:      s.succeeded,
		FailuresByType: make(map[string]int, len(s.failed)),
		AlertsEmitted:  s.emitted,
		AlertsDeduped:  s.deduped,
		Coalesced:      s.coalesced,
		CollectedAt:    time.Now().UTC(),
	}
	for typ, n := range s.failed {
		snap.FailuresByType[typ] = n
		snap.Failed += n
	}
	if snap.Runs > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Runs)
	}
	if !s.lastRunAt.IsZero() {
		t := s.lastRunAt
		snap.LastRunAt = &t
	}
	return snap
}
