package monitoring

import "time"

// Status is the operational state of a device.
type Status string

const (
	StatusOperational Status = "operational"
	StatusWarning     Status = "warning"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
)

const (
	// onlineRecency is the reading age below which a device counts as online.
	onlineRecency = 10 * time.Minute
	// warningEfficiency is the efficiency (%) under which a producing device is degraded.
	warningEfficiency = 50.0
)

// ConnectivitySignals are the inputs used to resolve connectivity, strongest first.
type ConnectivitySignals struct {
	DeviceCode  Connectivity
	StationCode Connectivity
	LastReading time.Time
}

// ResolveConnectivity picks the device code, then the station-device-list
// code, then infers from reading recency, then defaults to online.
func ResolveConnectivity(signals ConnectivitySignals, now time.Time) Connectivity {
	if signals.DeviceCode != ConnectivityUnknown {
		return signals.DeviceCode
	}
	if signals.StationCode != ConnectivityUnknown {
		return signals.StationCode
	}
	if !signals.LastReading.IsZero() {
		if now.Sub(signals.LastReading) < onlineRecency {
			return ConnectivityOnline
		}
		return ConnectivityOffline
	}
	return ConnectivityOnline
}

// Efficiency returns output as a percentage of capacity, 0 when capacity is 0.
func Efficiency(outputKW, capacityKW float64) float64 {
	if capacityKW <= 0 {
		return 0
	}
	return outputKW / capacityKW * 100
}

// Classify maps connectivity, efficiency and output to a status. First match wins.
func Classify(connectivity Connectivity, efficiency, outputKW float64) Status {
	switch connectivity {
	case ConnectivityOffline:
		return StatusError
	case ConnectivityMaintenance:
		return StatusMaintenance
	case ConnectivityOnline:
		if efficiency < warningEfficiency && outputKW > 0 {
			return StatusWarning
		}
		return StatusOperational
	default:
		return StatusOperational
	}
}
