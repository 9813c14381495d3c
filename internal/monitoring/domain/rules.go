package monitoring

import (
	"fmt"
	"sort"
	"time"
)

const (
	daylightStartHour = 6
	daylightEndHour   = 18

	lowEfficiencyPercent     = 30.0
	staleAfter               = 30 * time.Minute
	lowUtilizationRatio      = 0.05
	lowUtilizationEfficiency = 20.0
)

var ruleOrder = map[Rule]int{
	RuleOffline:        0,
	RuleNoGeneration:   1,
	RuleLowEfficiency:  2,
	RuleStaleData:      3,
	RuleLowUtilization: 4,
}

// RuleEngine derives alerts from classified roster entries.
type RuleEngine struct {
	location *time.Location
}

// NewRuleEngine constructs a rule engine; daylight is judged in loc.
func NewRuleEngine(loc *time.Location) *RuleEngine {
	if loc == nil {
		loc = time.Local
	}
	return &RuleEngine{location: loc}
}

// Evaluate applies every rule to every entry and returns alerts sorted by
// severity, subject and rule.
func (e *RuleEngine) Evaluate(entries []RosterEntry, now time.Time) []Alert {
	alerts := make([]Alert, 0)
	for _, entry := range entries {
		alerts = append(alerts, e.EvaluateEntry(entry, now)...)
	}
	SortAlerts(alerts)
	return alerts
}

// EvaluateEntry applies the rules to one entry. Rules are independent.
func (e *RuleEngine) EvaluateEntry(entry RosterEntry, now time.Time) []Alert {
	var alerts []Alert
	daylight := e.IsDaylight(now)
	observed := entry.LastReading
	if observed.IsZero() {
		observed = now
	}
	build := func(rule Rule, severity Severity, title, message string) Alert {
		return Alert{
			Rule:        rule,
			Severity:    severity,
			Serial:      entry.SubjectID(),
			StationID:   entry.StationID(),
			StationName: entry.StationName(),
			Title:       title,
			Message:     message,
			ObservedAt:  observed.UTC(),
		}
	}
	label := entryLabel(entry)

	if entry.Status == StatusError || entry.Connectivity == ConnectivityOffline {
		alerts = append(alerts, build(RuleOffline, SeverityCritical,
			"Device Offline",
			fmt.Sprintf("%s is not connected to the monitoring cloud.", label)))
	}
	if daylight && entry.OutputKW == 0 && entry.Online() {
		alerts = append(alerts, build(RuleNoGeneration, SeverityWarning,
			"No Generation",
			fmt.Sprintf("%s reports no output during daylight hours.", label)))
	}
	if entry.Efficiency < lowEfficiencyPercent && entry.OutputKW > 0 {
		alerts = append(alerts, build(RuleLowEfficiency, SeverityWarning,
			"Low Efficiency",
			fmt.Sprintf("%s is producing %.2f kW, %.1f%% of its %.2f kW capacity.", label, entry.OutputKW, entry.Efficiency, entry.CapacityKW)))
	}
	if entry.Online() && !entry.LastReading.IsZero() && now.Sub(entry.LastReading) > staleAfter {
		alerts = append(alerts, build(RuleStaleData, SeverityWarning,
			"Stale Data",
			fmt.Sprintf("%s has not reported for %s.", label, now.Sub(entry.LastReading).Truncate(time.Minute))))
	}
	if daylight && entry.OutputKW > 0 && entry.CapacityKW > 0 &&
		entry.OutputKW/entry.CapacityKW < lowUtilizationRatio && entry.Efficiency < lowUtilizationEfficiency {
		alerts = append(alerts, build(RuleLowUtilization, SeverityInfo,
			"Low Utilization",
			fmt.Sprintf("%s is using %.1f%% of its capacity.", label, entry.OutputKW/entry.CapacityKW*100)))
	}
	return alerts
}

// IsDaylight reports whether now falls in [06:00, 18:00) local time.
func (e *RuleEngine) IsDaylight(now time.Time) bool {
	hour := now.In(e.location).Hour()
	return hour >= daylightStartHour && hour < daylightEndHour
}

// SortAlerts orders alerts critical first, then by subject, then by rule.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Serial != b.Serial {
			return a.Serial < b.Serial
		}
		return ruleOrder[a.Rule] < ruleOrder[b.Rule]
	})
}

func entryLabel(entry RosterEntry) string {
	if name := entry.StationName(); name != "" {
		return fmt.Sprintf("Device %s (%s)", entry.SubjectID(), name)
	}
	return "Device " + entry.SubjectID()
}
