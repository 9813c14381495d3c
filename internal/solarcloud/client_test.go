package solarcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	monitoring "solar-fleet/internal/monitoring/domain"
)

type recordedCall struct {
	path string
	auth string
	body map[string]any
}

type fakeAPI struct {
	mu     sync.Mutex
	calls  []recordedCall
	routes map[string]func(body map[string]any) (int, any)
}

func newFakeAPI(t *testing.T, routes map[string]func(body map[string]any) (int, any)) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{routes: routes}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.mu.Lock()
		api.calls = append(api.calls, recordedCall{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		api.mu.Unlock()
		route, ok := api.routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status, payload := route(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return api, server
}

func (a *fakeAPI) count(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, call := range a.calls {
		if call.path == path {
			n++
		}
	}
	return n
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCollectPagesTotalZeroStopsAfterFirstPage(t *testing.T) {
	calls := 0
	items, err := CollectPages(context.Background(), 50, func(_ context.Context, page, size int) ([]int, int, error) {
		calls++
		return nil, 0, nil
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if calls != 1 || len(items) != 0 {
		t.Fatalf("expected one call and no items, got calls=%d items=%d", calls, len(items))
	}
}

func TestCollectPagesStopsAtTotalOrShortPage(t *testing.T) {
	cases := []struct {
		name      string
		total     int
		available int
		wantCalls int
		wantItems int
	}{
		{name: "exact total", total: 120, available: 120, wantCalls: 3, wantItems: 120},
		{name: "total multiple of size", total: 100, available: 100, wantCalls: 2, wantItems: 100},
		{name: "stale total", total: 500, available: 70, wantCalls: 2, wantItems: 70},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			items, err := CollectPages(context.Background(), 50, func(_ context.Context, page, size int) ([]int, int, error) {
				calls++
				start := (page - 1) * size
				end := start + size
				if end > tc.available {
					end = tc.available
				}
				var out []int
				for i := start; i < end; i++ {
					out = append(out, i)
				}
				return out, tc.total, nil
			})
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if calls != tc.wantCalls || len(items) != tc.wantItems {
				t.Fatalf("calls=%d items=%d, want calls=%d items=%d", calls, len(items), tc.wantCalls, tc.wantItems)
			}
		})
	}
}

func TestCollectPagesReportsTruncation(t *testing.T) {
	prev := maxPages
	maxPages = 3
	t.Cleanup(func() { maxPages = prev })

	calls := 0
	items, err := CollectPages(context.Background(), 10, func(_ context.Context, page, size int) ([]int, int, error) {
		calls++
		return make([]int, size), 1000, nil
	})
	if !errors.Is(err, ErrPageLimit) {
		t.Fatalf("expected ErrPageLimit, got %v", err)
	}
	if calls != 3 || len(items) != 30 {
		t.Fatalf("expected collected pages kept, got calls=%d items=%d", calls, len(items))
	}
}

func TestCollectPagesWrapsPageError(t *testing.T) {
	boom := errors.New("boom")
	_, err := CollectPages(context.Background(), 10, func(_ context.Context, page, size int) ([]int, int, error) {
		if page == 2 {
			return nil, 0, boom
		}
		return make([]int, size), 30, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestChunkCapsAtBatchLimit(t *testing.T) {
	ids := make([]int64, 23)
	chunks := Chunk(ids, 50)
	if len(chunks) != 3 || len(chunks[0]) != 10 || len(chunks[2]) != 3 {
		t.Fatalf("unexpected chunks: %d", len(chunks))
	}
}

func TestListStationsWithDevicesDecodesLooseRecords(t *testing.T) {
	api, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){
		pathStationList: func(body map[string]any) (int, any) {
			if body["withDevice"] != true {
				return http.StatusBadRequest, map[string]any{"success": false}
			}
			return http.StatusOK, map[string]any{
				"success": true,
				"total":   "1",
				"stationList": []map[string]any{{
					"id":                "42",
					"name":              " Roof A ",
					"installedCapacity": "5.5",
					"lastUpdateTime":    1718359200,
					"deviceList": []map[string]any{
						{"deviceSn": "INV-1", "deviceId": 7, "deviceType": "INVERTER", "connectStatus": 1},
						{"deviceSn": "INV-2", "deviceId": "8", "connectStatus": "0", "stationId": 43},
						{"deviceSn": "", "deviceId": 9},
					},
				}},
			}
		},
	})
	client, err := NewClient(server.URL, StaticSession("tok"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	stations, total, err := client.ListStationsWithDevices(context.Background(), 1, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(stations) != 1 {
		t.Fatalf("unexpected total=%d stations=%d", total, len(stations))
	}
	station := stations[0]
	if station.ID != 42 || station.Name != "Roof A" || !approx(station.CapacityKW, 5.5) {
		t.Fatalf("unexpected station: %+v", station)
	}
	if station.LastUpdate.Unix() != 1718359200 {
		t.Fatalf("unexpected last update: %v", station.LastUpdate)
	}
	if len(station.Devices) != 2 {
		t.Fatalf("expected 2 devices with serials, got %d", len(station.Devices))
	}
	first, second := station.Devices[0], station.Devices[1]
	if first.StationID == nil || *first.StationID != 42 || first.Connectivity != monitoring.ConnectivityOnline {
		t.Fatalf("unexpected first device: %+v", first)
	}
	if second.StationID == nil || *second.StationID != 43 || second.Connectivity != monitoring.ConnectivityOffline || second.DeviceID != 8 {
		t.Fatalf("unexpected second device: %+v", second)
	}
	if api.calls[0].auth != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", api.calls[0].auth)
	}
}

func TestDeviceLatestNormalizesUnits(t *testing.T) {
	_, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){
		pathDeviceLatest: func(body map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"code": "0",
				"deviceDataList": []map[string]any{{
					"deviceSn":       "INV-1",
					"deviceState":    1,
					"collectionTime": "2024-06-14 10:00:00",
					"dataList": []map[string]any{
						{"key": "APo_t1", "value": "2500", "unit": "kW"},
						{"key": "E_Puse_t1", "value": 1200},
						{"key": "PR1", "value": "50"},
						{"key": "Etdy_ge1", "value": "12500"},
						{"key": "B_left_cap1", "value": "87", "unit": "%"},
						{"key": "garbage", "value": "n/a"},
					},
				}},
			}
		},
	})
	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	samples, err := client.DeviceLatest(context.Background(), []string{"INV-1", "INV-2"})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if _, ok := samples["INV-2"]; ok {
		t.Fatalf("device without data must be absent")
	}
	sample, ok := samples["INV-1"]
	if !ok {
		t.Fatalf("missing INV-1 sample")
	}
	if !approx(sample.GenerationKW, 2.5) || !approx(sample.ConsumptionKW, 1.2) {
		t.Fatalf("unexpected power: gen=%v use=%v", sample.GenerationKW, sample.ConsumptionKW)
	}
	if !approx(sample.RatedPowerKW, 50) || !approx(sample.GenerationTodayKWh, 12.5) || !approx(sample.BatterySoC, 87) {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	if sample.Connectivity != monitoring.ConnectivityOnline {
		t.Fatalf("unexpected connectivity: %q", sample.Connectivity)
	}
	want := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	if !sample.CollectedAt.Equal(want) {
		t.Fatalf("unexpected collected at: %v", sample.CollectedAt)
	}
	if len(sample.Measurements) != 6 {
		t.Fatalf("expected raw measurements kept, got %d", len(sample.Measurements))
	}
}

func TestStationLatestTreatsPowerFlowAsWatts(t *testing.T) {
	_, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){
		pathStationLatest: func(body map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"success":         true,
				"generationPower": 25400,
				"usePower":        "800",
				"batterySoc":      55,
				"generationValue": 18.5,
				"lastUpdateTime":  1718359200000,
			}
		},
	})
	client, _ := NewClient(server.URL, nil)

	sample, err := client.StationLatest(context.Background(), 42)
	if err != nil {
		t.Fatalf("station latest: %v", err)
	}
	if sample.StationID != 42 || !approx(sample.GenerationKW, 25.4) || !approx(sample.ConsumptionKW, 0.8) {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	if !approx(sample.GenerationTodayKWh, 18.5) || !approx(sample.BatterySoC, 55) {
		t.Fatalf("unexpected energy: %+v", sample)
	}
	if sample.CollectedAt.Unix() != 1718359200 {
		t.Fatalf("unexpected collected at: %v", sample.CollectedAt)
	}
}

func TestBatchLimitsRejectedBeforeRequest(t *testing.T) {
	api, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){})
	client, _ := NewClient(server.URL, nil)

	serials := make([]string, MaxBatchSize+1)
	if _, err := client.DeviceLatest(context.Background(), serials); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if _, err := client.ListStationDevices(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if len(api.calls) != 0 {
		t.Fatalf("expected no requests, got %d", len(api.calls))
	}
}

func TestRemoteAndTransportErrors(t *testing.T) {
	_, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){
		pathStationList: func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"success": false, "code": "2101019", "msg": "auth invalid"}
		},
		pathDeviceList: func(map[string]any) (int, any) {
			return http.StatusInternalServerError, map[string]any{"msg": "down"}
		},
	})
	client, _ := NewClient(server.URL, nil)
	ctx := context.Background()

	_, _, err := client.ListStations(ctx, 1, 50)
	var remote *RemoteAPIError
	if !errors.As(err, &remote) || remote.Code != "2101019" || remote.Message != "auth invalid" {
		t.Fatalf("expected remote api error, got %v", err)
	}

	_, _, err = client.ListDevices(ctx, 1, 50)
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected http 500 remote error, got %v", err)
	}

	_, err = client.StationHistory(ctx, 1, time.Now(), time.Now())
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	server.Close()
	_, err = client.DeviceLatest(ctx, []string{"INV-1"})
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestAllStationsWalksPages(t *testing.T) {
	api, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){
		pathStationList: func(body map[string]any) (int, any) {
			page := int(body["page"].(float64))
			var list []map[string]any
			switch page {
			case 1:
				list = []map[string]any{{"id": 1}, {"id": 2}}
			case 2:
				list = []map[string]any{{"id": 3}}
			}
			return http.StatusOK, map[string]any{"success": true, "total": 3, "stationList": list}
		},
	})
	client, _ := NewClient(server.URL, nil, WithPageSize(2))

	stations, err := client.AllStations(context.Background())
	if err != nil {
		t.Fatalf("all stations: %v", err)
	}
	if len(stations) != 3 || api.count(pathStationList) != 2 {
		t.Fatalf("stations=%d calls=%d", len(stations), api.count(pathStationList))
	}
}

func TestStationHistorySendsDayRange(t *testing.T) {
	api, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){
		pathStationHist: func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"success": true,
				"stationDataItems": []map[string]any{
					{"generationValue": 21.3, "dateTime": "2024-06-01"},
					{"generationValue": 19800, "dateTime": "2024-06-02"},
				},
			}
		},
	})
	client, _ := NewClient(server.URL, nil)
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	items, err := client.StationHistory(context.Background(), 42, from, to)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 2 || !approx(items[0].GenerationTodayKWh, 21.3) || !approx(items[1].GenerationTodayKWh, 19.8) {
		t.Fatalf("unexpected items: %+v", items)
	}
	body := api.calls[0].body
	if body["startTime"] != "2024-06-01" || body["endTime"] != "2024-06-02" || body["timeType"] != float64(historyTimeTypeDay) {
		t.Fatalf("unexpected request body: %+v", body)
	}
	if _, err := client.StationHistory(context.Background(), 42, to, from); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
}

func TestTokenSessionCachesUntilExpiry(t *testing.T) {
	now := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	var issued atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathToken || r.URL.Query().Get("appId") != "app" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		issued.Add(1)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": now.Add(time.Hour).Unix(),
		})
		signed, _ := token.SignedString([]byte("secret"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"access_token": signed,
			"expires_in":   "60",
		})
	}))
	defer server.Close()

	clock := now
	session, err := NewTokenSession(server.URL, Credentials{AppID: "app", AppSecret: "s", Email: "a@b.c", Password: "pw"},
		WithSessionClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx := context.Background()

	first, err := session.AccessToken(ctx)
	if err != nil || first == "" {
		t.Fatalf("first token: %q %v", first, err)
	}
	clock = now.Add(30 * time.Minute)
	second, err := session.AccessToken(ctx)
	if err != nil || second != first {
		t.Fatalf("expected cached token, got err=%v", err)
	}
	if issued.Load() != 1 {
		t.Fatalf("expected one exchange, got %d", issued.Load())
	}

	clock = now.Add(59*time.Minute + 30*time.Second)
	if _, err := session.AccessToken(ctx); err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if issued.Load() != 2 {
		t.Fatalf("expected exchange near expiry, got %d", issued.Load())
	}
}

func TestTokenExpiryFallsBackToExpiresIn(t *testing.T) {
	now := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	got := tokenExpiry("opaque-token", now, 2*time.Hour)
	if !got.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("unexpected expiry: %v", got)
	}
	if got := tokenExpiry("opaque-token", now, 0); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected default expiry: %v", got)
	}
}

func TestUnauthorizedResponseRenewsToken(t *testing.T) {
	var issued atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathToken:
			n := issued.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":      true,
				"access_token": fmt.Sprintf("tok-%d", n),
				"expires_in":   "3600",
			})
		case pathStationLatest:
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "generationPower": 1000})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	session, err := NewTokenSession(server.URL, Credentials{AppID: "app", AppSecret: "s", Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	client, _ := NewClient(server.URL, session)

	sample, err := client.StationLatest(context.Background(), 7)
	if err != nil {
		t.Fatalf("station latest after revoked token: %v", err)
	}
	if !approx(sample.GenerationKW, 1) {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	if issued.Load() != 2 {
		t.Fatalf("expected token renewed once, got %d exchanges", issued.Load())
	}
}

func TestUnauthorizedWithStaticTokenFails(t *testing.T) {
	api, server := newFakeAPI(t, map[string]func(map[string]any) (int, any){
		pathStationLatest: func(map[string]any) (int, any) {
			return http.StatusUnauthorized, map[string]any{"msg": "bad token"}
		},
	})
	client, _ := NewClient(server.URL, StaticSession("tok"))

	_, err := client.StationLatest(context.Background(), 7)
	var remote *RemoteAPIError
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 remote error, got %v", err)
	}
	if api.count(pathStationLatest) != 1 {
		t.Fatalf("static session must not retry, got %d calls", api.count(pathStationLatest))
	}
}
