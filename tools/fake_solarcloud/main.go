package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = time.Hour

type fakeCloud struct {
	start    time.Time
	latency  time.Duration
	failRate float64
	secret   []byte
	now      func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	stations []*fakeStation
	byPath   map[string]int64
	total    int64
}

type fakeStation struct {
	ID         int64
	Name       string
	Address    string
	CapacityKW float64
	Devices    []*fakeDevice
}

type fakeDevice struct {
	Serial     string
	ID         int64
	StationID  int64
	Kind       string
	Online     bool
	RatedKW    float64
	Efficiency float64
}

func main() {
	addr := getenvDefault("FAKE_SOLARCLOUD_ADDR", ":18090")
	stations := getenvIntDefault("FAKE_SOLARCLOUD_STATIONS", 12)
	devices := getenvIntDefault("FAKE_SOLARCLOUD_DEVICES_PER_STATION", 2)
	offlineRate := getenvFloatDefault("FAKE_SOLARCLOUD_OFFLINE_RATE", 0.1)
	latencyMs := getenvIntDefault("FAKE_SOLARCLOUD_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_SOLARCLOUD_FAIL_RATE", 0)
	seed := int64(getenvIntDefault("FAKE_SOLARCLOUD_SEED", 1))

	srv := newFakeCloud(seed, stations, devices, offlineRate)
	srv.latency = time.Duration(latencyMs) * time.Millisecond
	srv.failRate = failRate

	log.Printf("fake solarcloud listening on %s stations=%d devices_per_station=%d", addr, stations, devices)
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal(err)
	}
}

func newFakeCloud(seed int64, stationCount, devicesPerStation int, offlineRate float64) *fakeCloud {
	rng := rand.New(rand.NewSource(seed))
	srv := &fakeCloud{
		start:  time.Now().UTC(),
		secret: []byte("fake-solarcloud"),
		now:    func() time.Time { return time.Now().UTC() },
		rng:    rng,
		byPath: make(map[string]int64),
	}
	var deviceID int64 = 5000
	for i := 0; i < stationCount; i++ {
		station := &fakeStation{
			ID:      int64(1000 + i),
			Name:    fmt.Sprintf("Site %02d", i+1),
			Address: fmt.Sprintf("%d Solar Way", 10+i),
		}
		for j := 0; j < devicesPerStation; j++ {
			deviceID++
			rated := float64(3 + rng.Intn(8))
			station.CapacityKW += rated
			station.Devices = append(station.Devices, &fakeDevice{
				Serial:     fmt.Sprintf("SN%04d%02d", i+1, j+1),
				ID:         deviceID,
				StationID:  station.ID,
				Kind:       "INVERTER",
				Online:     rng.Float64() >= offlineRate,
				RatedKW:    rated,
				Efficiency: 0.6 + rng.Float64()*0.35,
			})
		}
		srv.stations = append(srv.stations, station)
	}
	return srv
}

func (s *fakeCloud) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/account/v1.0/token", s.handleToken)
	mux.HandleFunc("/station/v1.0/list", s.wrap(s.handleStationList))
	mux.HandleFunc("/station/v1.0/device", s.wrap(s.handleStationDevice))
	mux.HandleFunc("/device/v1.0/list", s.wrap(s.handleDeviceList))
	mux.HandleFunc("/device/v1.0/currentData", s.wrap(s.handleDeviceLatest))
	mux.HandleFunc("/station/v1.0/realTime", s.wrap(s.handleStationLatest))
	mux.HandleFunc("/station/v1.0/history", s.wrap(s.handleStationHistory))
	return mux
}

func (s *fakeCloud) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeCloud) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.total),
		"by_path":    s.byPath,
	})
}

func (s *fakeCloud) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("appId") == "" {
		writeJSON(w, map[string]any{"code": "2101006", "msg": "appId required", "success": false})
		return
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": r.URL.Query().Get("appId"),
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"success":      true,
		"access_token": signed,
		"expires_in":   int(tokenTTL.Seconds()),
	})
}

// wrap applies latency, random failures and call accounting.
func (s *fakeCloud) wrap(next func(w http.ResponseWriter, body map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		atomic.AddInt64(&s.total, 1)
		s.mu.Lock()
		s.byPath[r.URL.Path]++
		fail := s.failRate > 0 && s.rng.Float64() < s.failRate
		s.mu.Unlock()

		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		if fail {
			writeJSON(w, map[string]any{"code": "1001", "msg": "fake upstream failure", "success": false})
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		next(w, body)
	}
}

func (s *fakeCloud) handleStationList(w http.ResponseWriter, body map[string]any) {
	page, size := pageParams(body)
	withDevice, _ := body["withDevice"].(bool)
	from, to := pageBounds(page, size, len(s.stations))
	list := make([]map[string]any, 0, to-from)
	for _, station := range s.stations[from:to] {
		record := map[string]any{
			"id":                station.ID,
			"name":              station.Name,
			"locationAddress":   station.Address,
			"installedCapacity": station.CapacityKW,
			"capacityUnit":      "kW",
			"lastUpdateTime":    s.now().Unix(),
		}
		if withDevice {
			record["deviceList"] = s.deviceRecords(station.Devices)
		}
		list = append(list, record)
	}
	writeJSON(w, map[string]any{"success": true, "total": len(s.stations), "stationList": list})
}

func (s *fakeCloud) handleStationDevice(w http.ResponseWriter, body map[string]any) {
	ids := int64List(body["stationIds"])
	if len(ids) > 10 {
		writeJSON(w, map[string]any{"code": "2101019", "msg": "too many stations", "success": false})
		return
	}
	var devices []*fakeDevice
	for _, id := range ids {
		if station := s.station(id); station != nil {
			devices = append(devices, station.Devices...)
		}
	}
	writeJSON(w, map[string]any{"success": true, "stationDeviceList": s.deviceRecords(devices)})
}

func (s *fakeCloud) handleDeviceList(w http.ResponseWriter, body map[string]any) {
	page, size := pageParams(body)
	var all []*fakeDevice
	for _, station := range s.stations {
		all = append(all, station.Devices...)
	}
	from, to := pageBounds(page, size, len(all))
	writeJSON(w, map[string]any{"success": true, "total": len(all), "deviceList": s.deviceRecords(all[from:to])})
}

func (s *fakeCloud) handleDeviceLatest(w http.ResponseWriter, body map[string]any) {
	serials, _ := body["deviceList"].([]any)
	if len(serials) > 10 {
		writeJSON(w, map[string]any{"code": "2101019", "msg": "too many devices", "success": false})
		return
	}
	now := s.now()
	sun := sunFactor(now)
	var records []map[string]any
	for _, raw := range serials {
		serial, _ := raw.(string)
		device := s.device(serial)
		if device == nil {
			continue
		}
		state := 1
		watts := device.RatedKW * 1000 * sun * device.Efficiency
		if !device.Online {
			state = 2
			watts = 0
		}
		records = append(records, map[string]any{
			"deviceSn":       device.Serial,
			"deviceId":       device.ID,
			"deviceType":     device.Kind,
			"deviceState":    state,
			"collectionTime": now.Unix(),
			"dataList": []map[string]any{
				{"key": "APo_t1", "name": "Total AC Output Power", "value": strconv.FormatFloat(math.Round(watts), 'f', 0, 64), "unit": "W"},
				{"key": "Etdy_ge1", "name": "Daily Production", "value": strconv.FormatFloat(device.RatedKW*4*device.Efficiency, 'f', 1, 64), "unit": "kWh"},
				{"key": "Pr1", "name": "Rated Power", "value": strconv.FormatFloat(device.RatedKW*1000, 'f', 0, 64), "unit": "W"},
			},
		})
	}
	writeJSON(w, map[string]any{"success": true, "deviceDataList": records})
}

func (s *fakeCloud) handleStationLatest(w http.ResponseWriter, body map[string]any) {
	station := s.station(int64Value(body["stationId"]))
	if station == nil {
		writeJSON(w, map[string]any{"code": "2101010", "msg": "station not found", "success": false})
		return
	}
	now := s.now()
	writeJSON(w, map[string]any{
		"success":         true,
		"generationPower": math.Round(s.stationWatts(station, sunFactor(now))),
		"usePower":        1200,
		"gridPower":       0,
		"batterySoc":      80,
		"generationValue": station.CapacityKW * 3.5,
		"lastUpdateTime":  now.UnixMilli(),
	})
}

func (s *fakeCloud) handleStationHistory(w http.ResponseWriter, body map[string]any) {
	station := s.station(int64Value(body["stationId"]))
	if station == nil {
		writeJSON(w, map[string]any{"code": "2101010", "msg": "station not found", "success": false})
		return
	}
	start, err1 := time.Parse("2006-01-02", fmt.Sprint(body["startTime"]))
	end, err2 := time.Parse("2006-01-02", fmt.Sprint(body["endTime"]))
	if err1 != nil || err2 != nil || end.Before(start) {
		writeJSON(w, map[string]any{"code": "2101002", "msg": "invalid range", "success": false})
		return
	}
	var items []map[string]any
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		items = append(items, map[string]any{
			"generationValue": station.CapacityKW * (3 + float64(day.YearDay()%5)*0.4),
			"dateTime":        day.Format("2006-01-02"),
		})
	}
	writeJSON(w, map[string]any{"success": true, "stationDataItems": items})
}

func (s *fakeCloud) deviceRecords(devices []*fakeDevice) []map[string]any {
	now := s.now().Unix()
	out := make([]map[string]any, 0, len(devices))
	for _, device := range devices {
		status := 1
		if !device.Online {
			status = 2
		}
		out = append(out, map[string]any{
			"deviceSn":       device.Serial,
			"deviceId":       device.ID,
			"deviceType":     device.Kind,
			"stationId":      device.StationID,
			"connectStatus":  status,
			"collectionTime": now,
		})
	}
	return out
}

func (s *fakeCloud) stationWatts(station *fakeStation, sun float64) float64 {
	total := 0.0
	for _, device := range station.Devices {
		if device.Online {
			total += device.RatedKW * 1000 * sun * device.Efficiency
		}
	}
	return total
}

func (s *fakeCloud) station(id int64) *fakeStation {
	for _, station := range s.stations {
		if station.ID == id {
			return station
		}
	}
	return nil
}

func (s *fakeCloud) device(serial string) *fakeDevice {
	for _, station := range s.stations {
		for _, device := range station.Devices {
			if device.Serial == serial {
				return device
			}
		}
	}
	return nil
}

// sunFactor is a half-sine between 06:00 and 18:00 local time.
func sunFactor(now time.Time) float64 {
	hour := float64(now.Local().Hour()) + float64(now.Local().Minute())/60
	if hour < 6 || hour >= 18 {
		return 0
	}
	return math.Sin((hour - 6) / 12 * math.Pi)
}

func pageParams(body map[string]any) (int, int) {
	page := int(int64Value(body["page"]))
	size := int(int64Value(body["size"]))
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return page, size
}

func pageBounds(page, size, total int) (int, int) {
	from := (page - 1) * size
	if from > total {
		from = total
	}
	to := from + size
	if to > total {
		to = total
	}
	return from, to
}

func int64Value(raw any) int64 {
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func int64List(raw any) []int64 {
	items, _ := raw.([]any)
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, int64Value(item))
	}
	return out
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
