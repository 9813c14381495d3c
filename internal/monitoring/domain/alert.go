package monitoring

import "time"

// Severity ranks alerts for display.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Valid returns true when severity is supported.
func (s Severity) Valid() bool {
	return s.Rank() < 3
}

// Rule names a threshold rule.
type Rule string

const (
	RuleOffline        Rule = "offline"
	RuleNoGeneration   Rule = "no_generation"
	RuleLowEfficiency  Rule = "low_efficiency"
	RuleStaleData      Rule = "stale_data"
	RuleLowUtilization Rule = "low_utilization"
)

// Alert is a derived finding of one collection pass. It is never stored by the engine.
type Alert struct {
	Rule        Rule      `json:"rule"`
	Severity    Severity  `json:"severity"`
	Serial      string    `json:"serial"`
	StationID   int64     `json:"station_id,omitempty"`
	StationName string    `json:"station_name,omitempty"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Key identifies the alert condition across passes.
func (a Alert) Key() string {
	return a.Serial + "|" + string(a.Rule)
}
