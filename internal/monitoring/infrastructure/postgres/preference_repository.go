package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// PreferenceRepository reads and writes the preferred device per station.
type PreferenceRepository struct {
	db *sql.DB
}

// NewPreferenceRepository constructs a repository.
func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// PreferredDevices returns station id to device serial.
func (r *PreferenceRepository) PreferredDevices(ctx context.Context) (map[int64]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("preference repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT station_id, device_sn
FROM station_preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var stationID int64
		var serial string
		if err := rows.Scan(&stationID, &serial); err != nil {
			return nil, err
		}
		serial = strings.TrimSpace(serial)
		if serial != "" {
			out[stationID] = serial
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPreferredDevice inserts or replaces the preference for a station.
func (r *PreferenceRepository) SetPreferredDevice(ctx context.Context, stationID int64, serial string) error {
	if r == nil || r.db == nil {
		return errors.New("preference repo: nil db")
	}
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return errors.New("preference repo: empty serial")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO station_preferences (station_id, device_sn, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (station_id)
DO UPDATE SET
	device_sn = EXCLUDED.device_sn,
	updated_at = EXCLUDED.updated_at`, stationID, serial, time.Now().UTC())
	return err
}

// ClearPreferredDevice removes the preference for a station.
func (r *PreferenceRepository) ClearPreferredDevice(ctx context.Context, stationID int64) error {
	if r == nil || r.db == nil {
		return errors.New("preference repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM station_preferences
WHERE station_id = $1`, stationID)
	return err
}
