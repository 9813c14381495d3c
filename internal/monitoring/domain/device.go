package monitoring

import (
	"errors"
	"strings"
	"time"
)

// Connectivity is the decoded connection state of a device.
type Connectivity string

const (
	ConnectivityUnknown     Connectivity = ""
	ConnectivityOnline      Connectivity = "online"
	ConnectivityOffline     Connectivity = "offline"
	ConnectivityMaintenance Connectivity = "maintenance"
)

// ParseConnectivity decodes the heterogeneous codes used by the remote API.
// Numeric codes: 1 online, 0/2 offline, 3 maintenance.
func ParseConnectivity(raw string) Connectivity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "online", "normal", "connected", "on":
		return ConnectivityOnline
	case "0", "2", "offline", "error", "fault", "alarm", "disconnected", "off":
		return ConnectivityOffline
	case "3", "maintenance", "maintain", "service":
		return ConnectivityMaintenance
	default:
		return ConnectivityUnknown
	}
}

// Device is a physical inverter or logger.
type Device struct {
	Serial       string       `json:"serial"`
	DeviceID     int64        `json:"device_id,omitempty"`
	Kind         string       `json:"kind,omitempty"`
	StationID    *int64       `json:"station_id,omitempty"`
	Connectivity Connectivity `json:"connectivity,omitempty"`
	LastReading  time.Time    `json:"last_reading,omitempty"`
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.Serial == "" {
		return errors.New("device: empty serial")
	}
	return nil
}

// HasStation reports whether the station linkage is resolved.
func (d Device) HasStation() bool {
	return d.StationID != nil && *d.StationID != 0
}

// FillStation sets missing station linkage from other.
func (d Device) FillStation(other Device) Device {
	if !d.HasStation() && other.HasStation() {
		id := *other.StationID
		d.StationID = &id
	}
	if d.Connectivity == ConnectivityUnknown {
		d.Connectivity = other.Connectivity
	}
	if d.LastReading.IsZero() {
		d.LastReading = other.LastReading
	}
	return d
}

// FillIdentity sets missing device id and kind from other, never the station.
func (d Device) FillIdentity(other Device) Device {
	if d.DeviceID == 0 {
		d.DeviceID = other.DeviceID
	}
	if d.Kind == "" {
		d.Kind = other.Kind
	}
	return d
}

// StationRef returns a pointer to a copy of id.
func StationRef(id int64) *int64 {
	return &id
}
