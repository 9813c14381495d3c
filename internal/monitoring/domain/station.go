package monitoring

import (
	"errors"
	"time"
)

// Station represents a physical installation site.
type Station struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"`
	CapacityKW  float64   `json:"capacity_kw"`
	LastUpdate  time.Time `json:"last_update,omitempty"`
	Devices     []Device  `json:"-"`
	DeviceCount int       `json:"device_count,omitempty"`
}

// Validate checks station invariants.
func (s Station) Validate() error {
	if s.ID == 0 {
		return errors.New("station: empty id")
	}
	return nil
}

// Merge folds a later record with the same id into s. Known values win.
func (s Station) Merge(other Station) Station {
	if s.Name == "" {
		s.Name = other.Name
	}
	if s.Address == "" {
		s.Address = other.Address
	}
	if s.CapacityKW == 0 {
		s.CapacityKW = other.CapacityKW
	}
	if other.LastUpdate.After(s.LastUpdate) {
		s.LastUpdate = other.LastUpdate
	}
	if len(s.Devices) == 0 {
		s.Devices = other.Devices
	}
	if s.DeviceCount == 0 {
		s.DeviceCount = other.DeviceCount
	}
	return s
}
