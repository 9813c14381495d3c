package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	monitoringapp "solar-fleet/internal/monitoring/application"
	monitoring "solar-fleet/internal/monitoring/domain"
	fleetrepo "solar-fleet/internal/monitoring/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := fleetrepo.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestPreferenceRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM station_preferences WHERE station_id IN (9101, 9102)")

	repo := fleetrepo.NewPreferenceRepository(db)
	if err := repo.SetPreferredDevice(ctx, 9101, "INV-A"); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if err := repo.SetPreferredDevice(ctx, 9101, " INV-B "); err != nil {
		t.Fatalf("replace preference: %v", err)
	}
	if err := repo.SetPreferredDevice(ctx, 9102, "INV-C"); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if err := repo.SetPreferredDevice(ctx, 9103, "  "); err == nil {
		t.Fatalf("expected error for empty serial")
	}

	prefs, err := repo.PreferredDevices(ctx)
	if err != nil {
		t.Fatalf("read preferences: %v", err)
	}
	if prefs[9101] != "INV-B" || prefs[9102] != "INV-C" {
		t.Fatalf("unexpected preferences: %v", prefs)
	}

	if err := repo.ClearPreferredDevice(ctx, 9102); err != nil {
		t.Fatalf("clear preference: %v", err)
	}
	prefs, err = repo.PreferredDevices(ctx)
	if err != nil {
		t.Fatalf("read preferences: %v", err)
	}
	if _, ok := prefs[9102]; ok {
		t.Fatalf("expected preference removed, got %v", prefs)
	}
}

func TestAlertLogRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM fleet_alert_log WHERE pass_id = 'pass-it-log'")

	repo := fleetrepo.NewAlertLogRepository(db, nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	alert := monitoring.Alert{
		Rule:       monitoring.RuleOffline,
		Severity:   monitoring.SeverityCritical,
		Serial:     "INV-LOG",
		StationID:  77,
		Title:      "Device Offline",
		Message:    "Device INV-LOG is not connected to the monitoring cloud.",
		ObservedAt: base,
	}
	repo.Notify(ctx, monitoringapp.AlertEvent{Type: monitoringapp.EventRaised, PassID: "pass-it-log", Alert: alert, OccurredAt: base})
	repo.Notify(ctx, monitoringapp.AlertEvent{Type: monitoringapp.EventCleared, PassID: "pass-it-log", Alert: alert, OccurredAt: base.Add(time.Minute)})

	entries, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var found []monitoringapp.AlertEvent
	for _, entry := range entries {
		if entry.PassID == "pass-it-log" {
			found = append(found, entry)
		}
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(found))
	}
	if found[0].Type != monitoringapp.EventCleared || found[1].Type != monitoringapp.EventRaised {
		t.Fatalf("expected newest first, got %s then %s", found[0].Type, found[1].Type)
	}
	if found[1].Alert.StationID != 77 || found[1].Alert.Rule != monitoring.RuleOffline {
		t.Fatalf("unexpected alert round trip: %+v", found[1].Alert)
	}
}

func TestRepositoriesRejectNilDB(t *testing.T) {
	ctx := context.Background()
	if _, err := fleetrepo.NewPreferenceRepository(nil).PreferredDevices(ctx); err == nil {
		t.Fatalf("expected nil db error")
	}
	if err := fleetrepo.NewAlertLogRepository(nil, nil).Append(ctx, monitoringapp.AlertEvent{}); err == nil {
		t.Fatalf("expected nil db error")
	}
	if err := fleetrepo.EnsureSchema(ctx, nil); err == nil {
		t.Fatalf("expected nil db error")
	}
}
