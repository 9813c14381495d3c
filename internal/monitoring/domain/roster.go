package monitoring

import "time"

// RosterEntry is a classified device of the display roster.
type RosterEntry struct {
	Device        Device          `json:"device"`
	Station       *Station        `json:"station,omitempty"`
	Connectivity  Connectivity    `json:"connectivity"`
	Status        Status          `json:"status"`
	OutputKW      float64         `json:"output_kw"`
	CapacityKW    float64         `json:"capacity_kw"`
	Efficiency    float64         `json:"efficiency"`
	LastReading   time.Time       `json:"last_reading,omitempty"`
	Sample        TelemetrySample `json:"sample"`
	StationSample TelemetrySample `json:"station_sample"`
}

// SubjectID identifies the entry in alerts and sorting.
func (e RosterEntry) SubjectID() string {
	return e.Device.Serial
}

// StationID returns the resolved station id or 0.
func (e RosterEntry) StationID() int64 {
	if e.Device.StationID == nil {
		return 0
	}
	return *e.Device.StationID
}

// StationName returns the station display name when known.
func (e RosterEntry) StationName() string {
	if e.Station == nil {
		return ""
	}
	return e.Station.Name
}

// Online reports whether the resolved connectivity is online.
func (e RosterEntry) Online() bool {
	return e.Connectivity == ConnectivityOnline
}

// Observation holds the raw inputs for one roster entry.
type Observation struct {
	Device        Device
	Station       *Station
	DeviceSample  *TelemetrySample
	StationSample *TelemetrySample
}

// BuildEntry resolves connectivity, output and capacity and classifies the device.
// Output comes from the device reading, falling back to the station reading.
// Capacity is the station's installed capacity, falling back to the device rating.
func BuildEntry(obs Observation, now time.Time) RosterEntry {
	entry := RosterEntry{Device: obs.Device, Station: obs.Station}

	signals := ConnectivitySignals{StationCode: obs.Device.Connectivity, LastReading: obs.Device.LastReading}
	if obs.DeviceSample != nil {
		entry.Sample = *obs.DeviceSample
		entry.OutputKW = obs.DeviceSample.GenerationKW
		signals.DeviceCode = obs.DeviceSample.Connectivity
		if !obs.DeviceSample.CollectedAt.IsZero() {
			signals.LastReading = obs.DeviceSample.CollectedAt
		}
	}
	if obs.StationSample != nil {
		entry.StationSample = *obs.StationSample
		if obs.DeviceSample == nil {
			entry.OutputKW = obs.StationSample.GenerationKW
			if signals.LastReading.IsZero() {
				signals.LastReading = obs.StationSample.CollectedAt
			}
		}
	}
	entry.LastReading = signals.LastReading

	if obs.Station != nil {
		entry.CapacityKW = obs.Station.CapacityKW
	}
	if entry.CapacityKW == 0 {
		entry.CapacityKW = entry.Sample.RatedPowerKW
	}
	if entry.OutputKW < 0 {
		entry.OutputKW = 0
	}

	entry.Connectivity = ResolveConnectivity(signals, now)
	entry.Efficiency = Efficiency(entry.OutputKW, entry.CapacityKW)
	entry.Status = Classify(entry.Connectivity, entry.Efficiency, entry.OutputKW)
	return entry
}
