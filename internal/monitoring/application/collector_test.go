package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	monitoring "solar-fleet/internal/monitoring/domain"
)

var passTime = time.Date(2024, 6, 14, 14, 0, 0, 0, time.UTC)

// scenarioSource is device A offline and device B online with no output.
func scenarioSource() *stubSource {
	return &stubSource{
		stations: []monitoring.Station{
			{ID: 1, Name: "North", CapacityKW: 10},
			{ID: 2, Name: "South", CapacityKW: 5},
		},
		withDevices: []monitoring.Station{
			{ID: 1, Devices: []monitoring.Device{device("A", 1)}},
			{ID: 2, Devices: []monitoring.Device{device("B", 2)}},
		},
		deviceLatest: map[string]monitoring.TelemetrySample{
			"A": {Serial: "A", Connectivity: monitoring.ConnectivityOffline, CollectedAt: passTime.Add(-2 * time.Minute)},
			"B": {Serial: "B", Connectivity: monitoring.ConnectivityOnline, CollectedAt: passTime.Add(-time.Minute)},
		},
	}
}

func newCollector(t *testing.T, source *stubSource, clock Clock, opts ...CollectorOption) *Collector {
	t.Helper()
	resolver := newResolver(t, source)
	opts = append([]CollectorOption{WithClock(clock)}, opts...)
	collector, err := NewCollector(resolver, source, monitoring.NewRuleEngine(time.UTC), opts...)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	return collector
}

func TestCollectOfflineAndNoGenerationScenario(t *testing.T) {
	source := scenarioSource()
	collector := newCollector(t, source, &fakeClock{now: passTime})

	result, err := collector.Collect(context.Background(), ModeFull, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	snap := result.Snapshot
	if snap.PassID == "" || snap.Mode != ModeFull || !snap.CollectedAt.Equal(passTime) {
		t.Fatalf("unexpected snapshot header: %+v", snap)
	}
	if len(snap.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", snap.Alerts)
	}
	first, second := snap.Alerts[0], snap.Alerts[1]
	if first.Serial != "A" || first.Rule != monitoring.RuleOffline || first.Severity != monitoring.SeverityCritical {
		t.Fatalf("unexpected first alert: %+v", first)
	}
	if second.Serial != "B" || second.Rule != monitoring.RuleNoGeneration || second.Severity != monitoring.SeverityWarning {
		t.Fatalf("unexpected second alert: %+v", second)
	}
	if first.StationName != "North" {
		t.Fatalf("expected station metadata on alert, got %+v", first)
	}

	stats := snap.Stats
	if stats.Total != 2 || stats.Operational != 1 || stats.Stations != 2 || stats.TotalCapacityKW != 15 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByStatus[monitoring.StatusError] != 1 || stats.AlertsBySeverity[monitoring.SeverityCritical] != 1 {
		t.Fatalf("unexpected breakdown: %+v", stats)
	}
	if result.Partial != nil || len(snap.SoftErrors) != 0 {
		t.Fatalf("unexpected soft errors: %v", snap.SoftErrors)
	}
	if source.callCount("StationLatest") != 2 {
		t.Fatalf("expected one station latest call per station, got %d", source.callCount("StationLatest"))
	}
}

func TestCollectIsolatesBatchFailures(t *testing.T) {
	source := &stubSource{
		deviceLatest:  make(map[string]monitoring.TelemetrySample),
		stationLatest: make(map[int64]monitoring.TelemetrySample),
		latestErr:     map[string]error{"D01": errors.New("timeout")},
	}
	for i := int64(1); i <= 12; i++ {
		serial := fmt.Sprintf("D%02d", i)
		source.stations = append(source.stations, monitoring.Station{ID: i, CapacityKW: 10})
		source.withDevices = append(source.withDevices, monitoring.Station{ID: i, Devices: []monitoring.Device{device(serial, i)}})
		source.deviceLatest[serial] = monitoring.TelemetrySample{
			Serial:       serial,
			Connectivity: monitoring.ConnectivityOnline,
			GenerationKW: 8,
			CollectedAt:  passTime.Add(-time.Minute),
		}
		source.stationLatest[i] = monitoring.TelemetrySample{StationID: i, GenerationKW: 6, CollectedAt: passTime.Add(-time.Minute)}
	}
	collector := newCollector(t, source, &fakeClock{now: passTime}, WithConcurrency(3))

	result, err := collector.Collect(context.Background(), ModeFull, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	snap := result.Snapshot
	if len(snap.Roster) != 12 {
		t.Fatalf("expected full roster despite failed batch, got %d", len(snap.Roster))
	}
	if source.callCount("DeviceLatest") != 2 {
		t.Fatalf("expected 2 batches, got %d", source.callCount("DeviceLatest"))
	}
	byserial := make(map[string]monitoring.RosterEntry)
	for _, entry := range snap.Roster {
		byserial[entry.Device.Serial] = entry
	}
	if got := byserial["D01"]; got.OutputKW != 6 || got.Status != monitoring.StatusOperational {
		t.Fatalf("expected station fallback for failed batch, got output=%v status=%s", got.OutputKW, got.Status)
	}
	if got := byserial["D12"]; got.OutputKW != 8 || math.Abs(got.Efficiency-80) > 1e-9 {
		t.Fatalf("expected device reading for healthy batch, got %+v", got)
	}
	var partial *monitoring.PartialCollectionError
	if !errors.As(result.Partial, &partial) || len(partial.Failures) != 1 {
		t.Fatalf("expected one soft failure, got %v", result.Partial)
	}
	if len(snap.SoftErrors) != 1 {
		t.Fatalf("expected soft error on snapshot, got %v", snap.SoftErrors)
	}
}

func TestCollectIncrementalReusesTopology(t *testing.T) {
	source := scenarioSource()
	collector := newCollector(t, source, &fakeClock{now: passTime})
	ctx := context.Background()

	first, err := collector.Collect(ctx, ModeFull, nil)
	if err != nil {
		t.Fatalf("full collect: %v", err)
	}
	second, err := collector.Collect(ctx, ModeIncremental, &first.Topology)
	if err != nil {
		t.Fatalf("incremental collect: %v", err)
	}
	if second.Snapshot.Mode != ModeIncremental {
		t.Fatalf("expected incremental mode, got %s", second.Snapshot.Mode)
	}
	if source.callCount("AllStations") != 1 {
		t.Fatalf("incremental pass must not resolve topology, got %d listings", source.callCount("AllStations"))
	}
	if source.callCount("DeviceLatest") != 2 {
		t.Fatalf("expected readings on both passes, got %d", source.callCount("DeviceLatest"))
	}
	if second.Snapshot.PassID == first.Snapshot.PassID {
		t.Fatalf("pass ids must differ")
	}

	third, err := collector.Collect(ctx, ModeIncremental, nil)
	if err != nil {
		t.Fatalf("collect without topology: %v", err)
	}
	if third.Snapshot.Mode != ModeFull {
		t.Fatalf("incremental without topology must rebuild, got %s", third.Snapshot.Mode)
	}
}

func TestCollectStationListingFailure(t *testing.T) {
	source := scenarioSource()
	source.stationsErr = errors.New("down")
	collector := newCollector(t, source, &fakeClock{now: passTime})
	if _, err := collector.Collect(context.Background(), ModeFull, nil); err == nil {
		t.Fatalf("expected pass-level error")
	}
	if source.callCount("DeviceLatest") != 0 {
		t.Fatalf("no readings must be fetched after a failed listing")
	}
}

func TestComputeStatsAverageEfficiencySkipsUnknownCapacity(t *testing.T) {
	roster := []monitoring.RosterEntry{
		{Device: device("A", 1), Status: monitoring.StatusOperational, CapacityKW: 10, OutputKW: 6, Efficiency: 60},
		{Device: device("B", 1), Status: monitoring.StatusWarning, CapacityKW: 10, OutputKW: 2, Efficiency: 20},
		{Device: device("C", 0), Status: monitoring.StatusOperational, OutputKW: 1},
	}
	stats := ComputeStats(roster, nil)
	if stats.AverageEfficiency != 40 {
		t.Fatalf("unexpected average efficiency: %v", stats.AverageEfficiency)
	}
	if stats.TotalCapacityKW != 10 || stats.TotalOutputKW != 9 || stats.Stations != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
}
