package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	monitoringapp "solar-fleet/internal/monitoring/application"
	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/solarcloud"
)

func TestFakeCloudServesFullPass(t *testing.T) {
	fake := newFakeCloud(7, 12, 2, 0)
	server := httptest.NewServer(fake.routes())
	defer server.Close()

	session, err := solarcloud.NewTokenSession(server.URL, solarcloud.Credentials{AppID: "app", AppSecret: "secret"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	client, err := solarcloud.NewClient(server.URL, session, solarcloud.WithPageSize(5))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resolver, err := monitoringapp.NewTopologyResolver(client)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	collector, err := monitoringapp.NewCollector(resolver, client, monitoring.NewRuleEngine(time.UTC))
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	result, err := collector.Collect(context.Background(), monitoringapp.ModeFull, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Partial != nil {
		t.Fatalf("unexpected partial failure: %v", result.Partial)
	}
	// one display device per station
	snap := result.Snapshot
	if snap.Stats.Total != 12 || snap.Stats.Stations != 12 {
		t.Fatalf("unexpected stats: %+v", snap.Stats)
	}
	for _, entry := range snap.Roster {
		if entry.Connectivity != monitoring.ConnectivityOnline {
			t.Fatalf("expected %s online, got %s", entry.Device.Serial, entry.Connectivity)
		}
	}
}

func TestFakeCloudHistoryRange(t *testing.T) {
	fake := newFakeCloud(1, 1, 1, 0)
	server := httptest.NewServer(fake.routes())
	defer server.Close()

	client, err := solarcloud.NewClient(server.URL, solarcloud.StaticSession("token"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	samples, err := client.StationHistory(context.Background(), 1000, from, from.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 daily samples, got %d", len(samples))
	}
	if _, err := client.StationHistory(context.Background(), 42, from, from); !solarcloud.IsRemote(err) {
		t.Fatalf("expected remote error for unknown station, got %v", err)
	}
}
