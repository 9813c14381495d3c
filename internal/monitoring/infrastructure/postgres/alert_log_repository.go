package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	monitoringapp "solar-fleet/internal/monitoring/application"
	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/observability/metrics"
)

const defaultAlertLogLimit = 100

// AlertLogRepository appends alert lifecycle events to fleet_alert_log.
type AlertLogRepository struct {
	db     *sql.DB
	logger *log.Logger
}

// NewAlertLogRepository constructs a repository.
func NewAlertLogRepository(db *sql.DB, logger *log.Logger) *AlertLogRepository {
	return &AlertLogRepository{db: db, logger: logger}
}

// Append stores one event.
func (r *AlertLogRepository) Append(ctx context.Context, event monitoringapp.AlertEvent) error {
	if r == nil || r.db == nil {
		return errors.New("alert log repo: nil db")
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	alert := event.Alert
	var stationID sql.NullInt64
	if alert.StationID != 0 {
		stationID = sql.NullInt64{Int64: alert.StationID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO fleet_alert_log (
	pass_id, event_type, alert_key, rule, severity, device_sn,
	station_id, title, message, observed_at, occurred_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11
)`,
		event.PassID,
		event.Type,
		alert.Key(),
		string(alert.Rule),
		string(alert.Severity),
		alert.Serial,
		stationID,
		alert.Title,
		alert.Message,
		alert.ObservedAt.UTC(),
		occurredAt.UTC(),
	)
	return err
}

// Recent returns the newest events first.
func (r *AlertLogRepository) Recent(ctx context.Context, limit int) ([]monitoringapp.AlertEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert log repo: nil db")
	}
	if limit <= 0 {
		limit = defaultAlertLogLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT pass_id, event_type, rule, severity, device_sn, station_id, title, message, observed_at, occurred_at
FROM fleet_alert_log
ORDER BY occurred_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []monitoringapp.AlertEvent
	for rows.Next() {
		var entry monitoringapp.AlertEvent
		var rule, severity string
		var stationID sql.NullInt64
		if err := rows.Scan(
			&entry.PassID,
			&entry.Type,
			&rule,
			&severity,
			&entry.Alert.Serial,
			&stationID,
			&entry.Alert.Title,
			&entry.Alert.Message,
			&entry.Alert.ObservedAt,
			&entry.OccurredAt,
		); err != nil {
			return nil, err
		}
		entry.Alert.Rule = monitoring.Rule(rule)
		entry.Alert.Severity = monitoring.Severity(severity)
		if stationID.Valid {
			entry.Alert.StationID = stationID.Int64
		}
		entry.Alert.ObservedAt = entry.Alert.ObservedAt.UTC()
		entry.OccurredAt = entry.OccurredAt.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Notify implements AlertNotifier by appending the event.
func (r *AlertLogRepository) Notify(ctx context.Context, event monitoringapp.AlertEvent) {
	if r == nil || r.db == nil {
		return
	}
	if err := r.Append(ctx, event); err != nil {
		metrics.IncNotification("alert_log", metrics.ResultError)
		if r.logger != nil {
			r.logger.Printf("alert log append failed: key=%s event=%s err=%v", event.Alert.Key(), event.Type, err)
		}
		return
	}
	metrics.IncNotification("alert_log", metrics.ResultSuccess)
}
