package solarcloud

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	monitoring "solar-fleet/internal/monitoring/domain"
)

// flexFloat accepts numbers, numeric strings and null. Anything else decodes to 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	*f = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = flexFloat(parsed)
		}
		return nil
	}
	if parsed, err := strconv.ParseFloat(string(data), 64); err == nil {
		*f = flexFloat(parsed)
	}
	return nil
}

// flexString accepts strings, numbers and booleans.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	*s = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

// flexInt accepts integer ids sent as numbers or strings.
type flexInt int64

func (i *flexInt) UnmarshalJSON(data []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = flexInt(int64(f))
	return nil
}

// flexTime accepts unix seconds, unix milliseconds or common datetime strings.
type flexTime time.Time

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	*t = flexTime(time.Time{})
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil || s == "" {
		return nil
	}
	raw := strings.TrimSpace(string(s))
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if n <= 0 {
			return nil
		}
		if n > 1e12 {
			*t = flexTime(time.UnixMilli(int64(n)).UTC())
		} else {
			*t = flexTime(time.Unix(int64(n), 0).UTC())
		}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t = flexTime(parsed.UTC())
			return nil
		}
	}
	return nil
}

func (t flexTime) Time() time.Time { return time.Time(t) }

type baseResponse struct {
	Code      flexString `json:"code"`
	Msg       string     `json:"msg"`
	Success   *bool      `json:"success"`
	RequestID string     `json:"requestId"`
}

func (b baseResponse) ok() bool {
	if b.Success != nil {
		return *b.Success
	}
	code := strings.TrimSpace(string(b.Code))
	return code == "" || code == "0" || code == "200"
}

type stationRecord struct {
	ID                flexInt        `json:"id"`
	Name              string         `json:"name"`
	LocationAddress   string         `json:"locationAddress"`
	InstalledCapacity flexFloat      `json:"installedCapacity"`
	CapacityUnit      string         `json:"capacityUnit"`
	LastUpdateTime    flexTime       `json:"lastUpdateTime"`
	DeviceList        []deviceRecord `json:"deviceList"`
}

type stationListResponse struct {
	baseResponse
	Total       flexInt         `json:"total"`
	StationList []stationRecord `json:"stationList"`
}

type deviceRecord struct {
	DeviceSN       string     `json:"deviceSn"`
	DeviceID       flexInt    `json:"deviceId"`
	DeviceType     string     `json:"deviceType"`
	StationID      flexInt    `json:"stationId"`
	ConnectStatus  flexString `json:"connectStatus"`
	CollectionTime flexTime   `json:"collectionTime"`
}

type stationDeviceResponse struct {
	baseResponse
	StationDeviceList []deviceRecord `json:"stationDeviceList"`
}

type deviceListResponse struct {
	baseResponse
	Total      flexInt        `json:"total"`
	DeviceList []deviceRecord `json:"deviceList"`
}

type dataItem struct {
	Key   string    `json:"key"`
	Name  string    `json:"name"`
	Value flexFloat `json:"value"`
	Unit  string    `json:"unit"`
}

type deviceDataRecord struct {
	DeviceSN       string     `json:"deviceSn"`
	DeviceID       flexInt    `json:"deviceId"`
	DeviceType     string     `json:"deviceType"`
	DeviceState    flexString `json:"deviceState"`
	CollectionTime flexTime   `json:"collectionTime"`
	DataList       []dataItem `json:"dataList"`
}

type deviceLatestResponse struct {
	baseResponse
	DeviceDataList []deviceDataRecord `json:"deviceDataList"`
}

type stationDataRecord struct {
	GenerationPower flexFloat `json:"generationPower"`
	UsePower        flexFloat `json:"usePower"`
	GridPower       flexFloat `json:"gridPower"`
	ChargePower     flexFloat `json:"chargePower"`
	DischargePower  flexFloat `json:"dischargePower"`
	BatterySoc      flexFloat `json:"batterySoc"`
	GenerationValue flexFloat `json:"generationValue"`
	ChargeValue     flexFloat `json:"chargeValue"`
	LastUpdateTime  flexTime  `json:"lastUpdateTime"`
	DateTime        flexTime  `json:"dateTime"`
}

type stationLatestResponse struct {
	baseResponse
	stationDataRecord
}

type stationHistoryResponse struct {
	baseResponse
	StationDataItems []stationDataRecord `json:"stationDataItems"`
}

type tokenResponse struct {
	baseResponse
	AccessToken string  `json:"access_token"`
	ExpiresIn   flexInt `json:"expires_in"`
}

func (r stationRecord) toDomain() monitoring.Station {
	station := monitoring.Station{
		ID:          int64(r.ID),
		Name:        strings.TrimSpace(r.Name),
		Address:     strings.TrimSpace(r.LocationAddress),
		CapacityKW:  monitoring.CapacityToKilowatts(float64(r.InstalledCapacity), r.CapacityUnit),
		LastUpdate:  r.LastUpdateTime.Time(),
		DeviceCount: len(r.DeviceList),
	}
	for _, device := range r.DeviceList {
		d := device.toDomain()
		if !d.HasStation() && station.ID != 0 {
			d.StationID = monitoring.StationRef(station.ID)
		}
		if d.Serial != "" {
			station.Devices = append(station.Devices, d)
		}
	}
	return station
}

func (r deviceRecord) toDomain() monitoring.Device {
	device := monitoring.Device{
		Serial:       strings.TrimSpace(r.DeviceSN),
		DeviceID:     int64(r.DeviceID),
		Kind:         strings.TrimSpace(r.DeviceType),
		Connectivity: monitoring.ParseConnectivity(string(r.ConnectStatus)),
		LastReading:  r.CollectionTime.Time(),
	}
	if r.StationID != 0 {
		device.StationID = monitoring.StationRef(int64(r.StationID))
	}
	return device
}

type dataField struct {
	category monitoring.FieldCategory
	assign   func(s *monitoring.TelemetrySample, v float64)
}

// dataKeys maps measurement keys of the device data list to sample fields.
var dataKeys = map[string]dataField{
	"apo_t1":           {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.GenerationKW = v }},
	"generationpower":  {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.GenerationKW = v }},
	"totalactivepower": {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.GenerationKW = v }},
	"e_puse_t1":        {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.ConsumptionKW = v }},
	"usepower":         {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.ConsumptionKW = v }},
	"pg_pt1":           {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.GridKW = v }},
	"gridpower":        {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.GridKW = v }},
	"chargepower":      {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.ChargeKW = v }},
	"dischargepower":   {monitoring.CategoryPowerFlow, func(s *monitoring.TelemetrySample, v float64) { s.DischargeKW = v }},
	"b_left_cap1":      {monitoring.CategoryPercent, func(s *monitoring.TelemetrySample, v float64) { s.BatterySoC = v }},
	"batterysoc":       {monitoring.CategoryPercent, func(s *monitoring.TelemetrySample, v float64) { s.BatterySoC = v }},
	"etdy_ge1":         {monitoring.CategoryDailyEnergy, func(s *monitoring.TelemetrySample, v float64) { s.GenerationTodayKWh = v }},
	"generationtoday":  {monitoring.CategoryDailyEnergy, func(s *monitoring.TelemetrySample, v float64) { s.GenerationTodayKWh = v }},
	"etdy_cg1":         {monitoring.CategoryDailyEnergy, func(s *monitoring.TelemetrySample, v float64) { s.ChargeTodayKWh = v }},
	"chargetoday":      {monitoring.CategoryDailyEnergy, func(s *monitoring.TelemetrySample, v float64) { s.ChargeTodayKWh = v }},
	"pr1":              {monitoring.CategoryCapacity, func(s *monitoring.TelemetrySample, v float64) { s.RatedPowerKW = v }},
	"ratedpower":       {monitoring.CategoryCapacity, func(s *monitoring.TelemetrySample, v float64) { s.RatedPowerKW = v }},
}

func (r deviceDataRecord) toDomain() monitoring.TelemetrySample {
	sample := monitoring.TelemetrySample{
		Serial:       strings.TrimSpace(r.DeviceSN),
		Connectivity: monitoring.ParseConnectivity(string(r.DeviceState)),
		CollectedAt:  r.CollectionTime.Time(),
	}
	for _, item := range r.DataList {
		raw := float64(item.Value)
		sample.Measurements = append(sample.Measurements, monitoring.Measurement{
			Key:   item.Key,
			Name:  item.Name,
			Value: raw,
			Unit:  item.Unit,
		})
		field, ok := dataKeys[strings.ToLower(strings.TrimSpace(item.Key))]
		if !ok {
			continue
		}
		field.assign(&sample, monitoring.NormalizeTagged(field.category, raw, item.Unit))
	}
	return sample
}

func (r stationDataRecord) toDomain(stationID int64) monitoring.TelemetrySample {
	at := r.LastUpdateTime.Time()
	if at.IsZero() {
		at = r.DateTime.Time()
	}
	return monitoring.TelemetrySample{
		StationID:          stationID,
		GenerationKW:       monitoring.PowerFlowToKilowatts(float64(r.GenerationPower)),
		ConsumptionKW:      monitoring.PowerFlowToKilowatts(float64(r.UsePower)),
		GridKW:             monitoring.PowerFlowToKilowatts(float64(r.GridPower)),
		ChargeKW:           monitoring.PowerFlowToKilowatts(float64(r.ChargePower)),
		DischargeKW:        monitoring.PowerFlowToKilowatts(float64(r.DischargePower)),
		BatterySoC:         float64(r.BatterySoc),
		GenerationTodayKWh: monitoring.DailyEnergyToKilowattHours(float64(r.GenerationValue)),
		ChargeTodayKWh:     monitoring.DailyEnergyToKilowattHours(float64(r.ChargeValue)),
		CollectedAt:        at,
	}
}
