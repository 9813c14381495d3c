package application

import (
	"sync/atomic"
	"time"

	monitoring "solar-fleet/internal/monitoring/domain"
)

// RefreshMode distinguishes full topology rebuilds from reading-only passes.
type RefreshMode string

const (
	ModeFull        RefreshMode = "full"
	ModeIncremental RefreshMode = "incremental"
)

// Stats are fleet-wide aggregates of one pass.
type Stats struct {
	Total             int                         `json:"total"`
	Operational       int                         `json:"operational"`
	Stations          int                         `json:"stations"`
	TotalCapacityKW   float64                     `json:"total_capacity_kw"`
	TotalOutputKW     float64                     `json:"total_output_kw"`
	AverageEfficiency float64                     `json:"average_efficiency"`
	ByStatus          map[monitoring.Status]int   `json:"by_status"`
	AlertsBySeverity  map[monitoring.Severity]int `json:"alerts_by_severity"`
}

// Snapshot is the immutable result of one completed pass.
type Snapshot struct {
	PassID      string                   `json:"pass_id"`
	Mode        RefreshMode              `json:"mode"`
	CollectedAt time.Time                `json:"collected_at"`
	Roster      []monitoring.RosterEntry `json:"roster"`
	Alerts      []monitoring.Alert       `json:"alerts"`
	Stats       Stats                    `json:"stats"`
	SoftErrors  []string                 `json:"soft_errors,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// ComputeStats derives fleet aggregates. Average efficiency only counts
// entries with a known capacity.
func ComputeStats(roster []monitoring.RosterEntry, alerts []monitoring.Alert) Stats {
	stats := Stats{
		Total:            len(roster),
		ByStatus:         make(map[monitoring.Status]int),
		AlertsBySeverity: make(map[monitoring.Severity]int),
	}
	stations := make(map[int64]struct{})
	effSum := 0.0
	effCount := 0
	for _, entry := range roster {
		stats.ByStatus[entry.Status]++
		if entry.Status == monitoring.StatusOperational {
			stats.Operational++
		}
		if id := entry.StationID(); id != 0 {
			if _, ok := stations[id]; !ok {
				stations[id] = struct{}{}
				stats.TotalCapacityKW += entry.CapacityKW
			}
		} else {
			stats.TotalCapacityKW += entry.CapacityKW
		}
		stats.TotalOutputKW += entry.OutputKW
		if entry.CapacityKW > 0 {
			effSum += entry.Efficiency
			effCount++
		}
	}
	stats.Stations = len(stations)
	if effCount > 0 {
		stats.AverageEfficiency = effSum / float64(effCount)
	}
	for _, alert := range alerts {
		stats.AlertsBySeverity[alert.Severity]++
	}
	return stats
}

// AlertsWithSeverity filters the snapshot's alerts. An empty severity returns all.
func (s *Snapshot) AlertsWithSeverity(severity monitoring.Severity) []monitoring.Alert {
	if s == nil {
		return nil
	}
	if severity == "" {
		return s.Alerts
	}
	out := make([]monitoring.Alert, 0, len(s.Alerts))
	for _, alert := range s.Alerts {
		if alert.Severity == severity {
			out = append(out, alert)
		}
	}
	return out
}

// SnapshotStore publishes snapshots atomically. Readers never observe a partial pass.
type SnapshotStore struct {
	current atomic.Pointer[Snapshot]
}

// NewSnapshotStore constructs an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Load returns the latest snapshot or nil before the first pass.
func (s *SnapshotStore) Load() *Snapshot {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// Store publishes snap.
func (s *SnapshotStore) Store(snap *Snapshot) {
	if s == nil || snap == nil {
		return
	}
	s.current.Store(snap)
}

// MarkFailed republishes the previous snapshot with an error banner, keeping its data.
func (s *SnapshotStore) MarkFailed(err error, at time.Time) *Snapshot {
	if s == nil || err == nil {
		return nil
	}
	next := &Snapshot{Error: err.Error(), CollectedAt: at}
	if prev := s.current.Load(); prev != nil {
		copied := *prev
		copied.Error = err.Error()
		next = &copied
	}
	s.current.Store(next)
	return next
}
