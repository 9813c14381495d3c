package application

import (
	"context"
	"time"

	monitoring "solar-fleet/internal/monitoring/domain"
)

// StationSource lists stations and their devices.
type StationSource interface {
	AllStations(ctx context.Context) ([]monitoring.Station, error)
	AllStationsWithDevices(ctx context.Context) ([]monitoring.Station, error)
	ListStationDevices(ctx context.Context, stationIDs []int64) ([]monitoring.Device, error)
	AllDevices(ctx context.Context) ([]monitoring.Device, error)
}

// ReadingSource fetches latest readings.
type ReadingSource interface {
	DeviceLatest(ctx context.Context, serials []string) (map[string]monitoring.TelemetrySample, error)
	StationLatest(ctx context.Context, stationID int64) (monitoring.TelemetrySample, error)
}

// HistorySource fetches daily station history.
type HistorySource interface {
	StationHistory(ctx context.Context, stationID int64, from, to time.Time) ([]monitoring.TelemetrySample, error)
}

// TelemetrySource is everything a collection pass needs from the remote API.
type TelemetrySource interface {
	StationSource
	ReadingSource
}

// PreferenceReader returns the preferred device serial per station.
type PreferenceReader interface {
	PreferredDevices(ctx context.Context) (map[int64]string, error)
}

// StaticPreferences is a fixed preference map, typically from config.
type StaticPreferences map[int64]string

// PreferredDevices implements PreferenceReader.
func (p StaticPreferences) PreferredDevices(context.Context) (map[int64]string, error) {
	return p, nil
}

// Clock abstracts time for scheduling and classification.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}
