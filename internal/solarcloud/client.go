package solarcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/observability/metrics"
)

const (
	pathStationList   = "/station/v1.0/list"
	pathStationDevice = "/station/v1.0/device"
	pathDeviceList    = "/device/v1.0/list"
	pathDeviceLatest  = "/device/v1.0/currentData"
	pathStationLatest = "/station/v1.0/realTime"
	pathStationHist   = "/station/v1.0/history"
	pathToken         = "/account/v1.0/token"

	historyTimeTypeDay = 2
	historyDateLayout  = "2006-01-02"
)

// Client is a read-only client for the remote solar telemetry API.
// It never retries; the caller's next pass is the retry.
type Client struct {
	baseURL  string
	session  TelemetrySession
	client   *http.Client
	pageSize int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithPageSize sets the page size used by the All* helpers.
func WithPageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// NewClient constructs a telemetry client.
func NewClient(baseURL string, session TelemetrySession, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("solarcloud: empty base url")
	}
	if session == nil {
		session = StaticSession("")
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		session:  session,
		client:   &http.Client{Timeout: 10 * time.Second},
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int {
	if c == nil || c.pageSize <= 0 {
		return DefaultPageSize
	}
	return c.pageSize
}

// ListStations returns one page of stations and the reported total.
func (c *Client) ListStations(ctx context.Context, page, size int) ([]monitoring.Station, int, error) {
	return c.listStations(ctx, page, size, false)
}

// ListStationsWithDevices returns one page of stations with embedded devices.
func (c *Client) ListStationsWithDevices(ctx context.Context, page, size int) ([]monitoring.Station, int, error) {
	return c.listStations(ctx, page, size, true)
}

func (c *Client) listStations(ctx context.Context, page, size int, withDevice bool) ([]monitoring.Station, int, error) {
	body := map[string]any{"page": page, "size": size}
	if withDevice {
		body["withDevice"] = true
	}
	var resp stationListResponse
	if err := c.call(ctx, pathStationList, body, &resp, &resp.baseResponse); err != nil {
		return nil, 0, err
	}
	stations := make([]monitoring.Station, 0, len(resp.StationList))
	for _, record := range resp.StationList {
		stations = append(stations, record.toDomain())
	}
	return stations, int(resp.Total), nil
}

// ListStationDevices returns the devices of up to MaxBatchSize stations.
func (c *Client) ListStationDevices(ctx context.Context, stationIDs []int64) ([]monitoring.Device, error) {
	if err := checkBatch(len(stationIDs)); err != nil {
		return nil, err
	}
	body := map[string]any{"stationIds": stationIDs}
	var resp stationDeviceResponse
	if err := c.call(ctx, pathStationDevice, body, &resp, &resp.baseResponse); err != nil {
		return nil, err
	}
	devices := make([]monitoring.Device, 0, len(resp.StationDeviceList))
	for _, record := range resp.StationDeviceList {
		device := record.toDomain()
		if device.Serial == "" {
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// ListDevices returns one page of the account-wide device list.
func (c *Client) ListDevices(ctx context.Context, page, size int) ([]monitoring.Device, int, error) {
	body := map[string]any{"page": page, "size": size}
	var resp deviceListResponse
	if err := c.call(ctx, pathDeviceList, body, &resp, &resp.baseResponse); err != nil {
		return nil, 0, err
	}
	devices := make([]monitoring.Device, 0, len(resp.DeviceList))
	for _, record := range resp.DeviceList {
		device := record.toDomain()
		if device.Serial == "" {
			continue
		}
		devices = append(devices, device)
	}
	return devices, int(resp.Total), nil
}

// DeviceLatest returns the latest reading of up to MaxBatchSize devices.
// Devices the API has no data for are absent from the result.
func (c *Client) DeviceLatest(ctx context.Context, serials []string) (map[string]monitoring.TelemetrySample, error) {
	if err := checkBatch(len(serials)); err != nil {
		return nil, err
	}
	body := map[string]any{"deviceList": serials}
	var resp deviceLatestResponse
	if err := c.call(ctx, pathDeviceLatest, body, &resp, &resp.baseResponse); err != nil {
		return nil, err
	}
	out := make(map[string]monitoring.TelemetrySample, len(resp.DeviceDataList))
	for _, record := range resp.DeviceDataList {
		sample := record.toDomain()
		if sample.Serial == "" {
			continue
		}
		out[sample.Serial] = sample
	}
	return out, nil
}

// StationLatest returns the real-time aggregate of one station.
func (c *Client) StationLatest(ctx context.Context, stationID int64) (monitoring.TelemetrySample, error) {
	if stationID == 0 {
		return monitoring.TelemetrySample{}, errors.New("solarcloud: empty station id")
	}
	body := map[string]any{"stationId": stationID}
	var resp stationLatestResponse
	if err := c.call(ctx, pathStationLatest, body, &resp, &resp.baseResponse); err != nil {
		return monitoring.TelemetrySample{}, err
	}
	return resp.stationDataRecord.toDomain(stationID), nil
}

// StationHistory returns daily aggregates of one station between from and to, inclusive.
func (c *Client) StationHistory(ctx context.Context, stationID int64, from, to time.Time) ([]monitoring.TelemetrySample, error) {
	if stationID == 0 {
		return nil, errors.New("solarcloud: empty station id")
	}
	if to.Before(from) {
		return nil, errors.New("solarcloud: history range end before start")
	}
	body := map[string]any{
		"stationId": stationID,
		"timeType":  historyTimeTypeDay,
		"startTime": from.Format(historyDateLayout),
		"endTime":   to.Format(historyDateLayout),
	}
	var resp stationHistoryResponse
	if err := c.call(ctx, pathStationHist, body, &resp, &resp.baseResponse); err != nil {
		return nil, err
	}
	out := make([]monitoring.TelemetrySample, 0, len(resp.StationDataItems))
	for _, record := range resp.StationDataItems {
		out = append(out, record.toDomain(stationID))
	}
	return out, nil
}

// AllStations walks every station page.
func (c *Client) AllStations(ctx context.Context) ([]monitoring.Station, error) {
	return CollectPages(ctx, c.PageSize(), c.ListStations)
}

// AllStationsWithDevices walks every station page with embedded devices.
func (c *Client) AllStationsWithDevices(ctx context.Context) ([]monitoring.Station, error) {
	return CollectPages(ctx, c.PageSize(), c.ListStationsWithDevices)
}

// AllDevices walks every page of the account-wide device list.
func (c *Client) AllDevices(ctx context.Context) ([]monitoring.Device, error) {
	return CollectPages(ctx, c.PageSize(), c.ListDevices)
}

func checkBatch(n int) error {
	if n == 0 {
		return ErrEmptyBatch
	}
	if n > MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, n, MaxBatchSize)
	}
	return nil
}

func (c *Client) call(ctx context.Context, path string, body any, out any, base *baseResponse) error {
	if c == nil {
		return errors.New("solarcloud: nil client")
	}
	start := time.Now()
	err := c.doJSON(ctx, path, body, out, base)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveAPICall(endpointLabel(path), result, time.Since(start))
	return err
}

func (c *Client) doJSON(ctx context.Context, path string, body any, out any, base *baseResponse) error {
	err := c.post(ctx, path, body, out)
	if isUnauthorized(err) {
		// A token revoked before its exp: drop it and retry once with a fresh one.
		if inv, ok := c.session.(invalidator); ok {
			inv.Invalidate()
			err = c.post(ctx, path, body, out)
		}
	}
	if err != nil {
		return err
	}
	if base != nil && !base.ok() {
		return &RemoteAPIError{
			Endpoint: endpointLabel(path),
			Code:     string(base.Code),
			Message:  base.Msg,
		}
	}
	return nil
}

type invalidator interface {
	Invalidate()
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	token, err := c.session.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("solarcloud: access token: %w", err)
	}
	return postJSON(ctx, c.client, c.baseURL, path, token, body, out)
}

func isUnauthorized(err error) bool {
	var remote *RemoteAPIError
	return errors.As(err, &remote) && remote.StatusCode == http.StatusUnauthorized
}

func postJSON(ctx context.Context, client *http.Client, baseURL, path, token string, body any, out any) error {
	endpoint := endpointLabel(path)
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RemoteAPIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// endpointLabel turns "/station/v1.0/list?x=y" into "station/list".
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 3 {
		return parts[0] + "/" + parts[2]
	}
	return strings.Trim(path, "/")
}
