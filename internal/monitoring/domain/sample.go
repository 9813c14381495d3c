package monitoring

import "time"

// Measurement is one raw key/value pair reported with a sample.
type Measurement struct {
	Key   string  `json:"key"`
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// TelemetrySample is a point-in-time reading set. Power is in kW, energy in kWh.
type TelemetrySample struct {
	Serial             string        `json:"serial,omitempty"`
	StationID          int64         `json:"station_id,omitempty"`
	Connectivity       Connectivity  `json:"connectivity,omitempty"`
	GenerationKW       float64       `json:"generation_kw"`
	ConsumptionKW      float64       `json:"consumption_kw"`
	GridKW             float64       `json:"grid_kw"`
	ChargeKW           float64       `json:"charge_kw"`
	DischargeKW        float64       `json:"discharge_kw"`
	BatterySoC         float64       `json:"battery_soc"`
	GenerationTodayKWh float64       `json:"generation_today_kwh"`
	ChargeTodayKWh     float64       `json:"charge_today_kwh"`
	RatedPowerKW       float64       `json:"rated_power_kw,omitempty"`
	CollectedAt        time.Time     `json:"collected_at,omitempty"`
	Measurements       []Measurement `json:"measurements,omitempty"`
}

// IsZero reports whether no reading was collected.
func (s TelemetrySample) IsZero() bool {
	return s.CollectedAt.IsZero() && len(s.Measurements) == 0 && s.GenerationKW == 0
}
