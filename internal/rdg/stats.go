package rdg

import (
	"sync/atomic"
	"time"
)

// stats collects run counters. Tasks complete on arbitrary goroutines, so
// every field is atomic.
type stats struct {
	start     time.Time
	sent      atomic.Int64
	ok        atomic.Int64
	fail      atomic.Int64
	inFlight  atomic.Int64
	latencyNS atomic.Int64
	lastTick  atomic.Int64
}

func newStats() *stats {
	return &stats{start: time.Now()}
}

func (s *stats) observe(ok bool, d time.Duration) {
	if ok {
		s.ok.Add(1)
	} else {
		s.fail.Add(1)
	}
	s.latencyNS.Add(int64(d))
}

// Snapshot is a point-in-time view of a run, reported in the periodic
// progress log and on the status endpoint.
type Snapshot struct {
	UptimeSec    float64 `json:"uptime_sec"`
	Sent         int64   `json:"sent"`
	OK           int64   `json:"ok"`
	Fail         int64   `json:"fail"`
	SuccessRate  float64 `json:"success_rate"`
	ActualRPS    float64 `json:"actual_rps"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	InFlight     int64   `json:"in_flight"`
	LastTick     int64   `json:"last_tick"`
}

func (s *stats) snapshot() Snapshot {
	snap := Snapshot{
		UptimeSec: time.Since(s.start).Seconds(),
		Sent:      s.sent.Load(),
		OK:        s.ok.Load(),
		Fail:      s.fail.Load(),
		InFlight:  s.inFlight.Load(),
		LastTick:  s.lastTick.Load(),
	}
	if snap.Sent > 0 {
		snap.SuccessRate = float64(snap.OK) / float64(snap.Sent) * 100
	}
	if snap.UptimeSec > 0 {
		snap.ActualRPS = float64(snap.Sent) / snap.UptimeSec
	}
	if done := snap.OK + snap.Fail; done > 0 {
		snap.AvgLatencyMS = float64(s.latencyNS.Load()) / float64(done) / 1e6
	}
	return snap
}
