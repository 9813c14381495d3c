package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"solar-fleet/internal/audit"
	"solar-fleet/internal/auth"
	monitoringapp "solar-fleet/internal/monitoring/application"
	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/solarcloud"
)

const (
	dateLayout         = "2006-01-02"
	defaultHistoryDays = 7
	maxHistoryDays     = 366
	defaultLogLimit    = 100
	maxLogLimit        = 1000
)

// Refresher runs manual passes.
type Refresher interface {
	Refresh(ctx context.Context) (*monitoringapp.Snapshot, error)
	InFlight() bool
}

// SnapshotReader returns the latest published snapshot.
type SnapshotReader interface {
	Load() *monitoringapp.Snapshot
}

// AlertLogReader lists persisted alert events, newest first.
type AlertLogReader interface {
	Recent(ctx context.Context, limit int) ([]monitoringapp.AlertEvent, error)
}

// PreferenceWriter stores the preferred device of a station.
type PreferenceWriter interface {
	SetPreferredDevice(ctx context.Context, stationID int64, serial string) error
	ClearPreferredDevice(ctx context.Context, stationID int64) error
}

// Handler provides fleet HTTP endpoints.
type Handler struct {
	snapshots   SnapshotReader
	refresher   Refresher
	history     monitoringapp.HistorySource
	alertLog    AlertLogReader
	preferences PreferenceWriter
	broker      *SSEBroker
	hub         *SnapshotHub
	audit       audit.Logger
	logger      *log.Logger
	now         func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHistory enables the station history pass-through.
func WithHistory(history monitoringapp.HistorySource) HandlerOption {
	return func(h *Handler) {
		h.history = history
	}
}

// WithAlertLog enables the persisted alert log endpoint.
func WithAlertLog(reader AlertLogReader) HandlerOption {
	return func(h *Handler) {
		h.alertLog = reader
	}
}

// WithPreferenceWriter enables editing preferred devices.
func WithPreferenceWriter(writer PreferenceWriter) HandlerOption {
	return func(h *Handler) {
		h.preferences = writer
	}
}

// WithBroker enables the SSE alert stream.
func WithBroker(broker *SSEBroker) HandlerOption {
	return func(h *Handler) {
		h.broker = broker
	}
}

// WithHub enables the websocket snapshot stream.
func WithHub(hub *SnapshotHub) HandlerOption {
	return func(h *Handler) {
		h.hub = hub
	}
}

// WithAuditLogger records operator actions.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(snapshots SnapshotReader, refresher Refresher, opts ...HandlerOption) (*Handler, error) {
	if snapshots == nil {
		return nil, errors.New("fleet handler: nil snapshot reader")
	}
	if refresher == nil {
		return nil, errors.New("fleet handler: nil refresher")
	}
	h := &Handler{
		snapshots: snapshots,
		refresher: refresher,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes mounts the fleet endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/fleet", func(r chi.Router) {
			r.Get("/", h.handleSnapshot)
			r.Get("/roster", h.handleRoster)
			r.Get("/alerts", h.handleAlerts)
			r.Get("/alerts/history", h.handleAlertLog)
			r.Get("/alerts/stream", NewStreamHandler(h.broker).ServeHTTP)
			r.Get("/stats", h.handleStats)
			r.Post("/refresh", h.handleRefresh)
			r.Get("/ws", h.handleWS)
		})
		r.Route("/stations/{id}", func(r chi.Router) {
			r.Get("/history", h.handleHistory)
			r.Put("/preferred-device", h.handleSetPreference)
			r.Delete("/preferred-device", h.handleClearPreference)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"in_flight": h.refresher.InFlight(),
	}
	if snap := h.snapshots.Load(); snap != nil {
		resp["pass_id"] = snap.PassID
		resp["collected_at"] = snap.CollectedAt
		if snap.Error != "" {
			resp["status"] = "degraded"
			resp["error"] = snap.Error
		}
	} else {
		resp["status"] = "starting"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.requireSnapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleRoster(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.requireSnapshot(w)
	if !ok {
		return
	}
	roster := snap.Roster
	if roster == nil {
		roster = []monitoring.RosterEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pass_id":      snap.PassID,
		"collected_at": snap.CollectedAt,
		"roster":       roster,
		"error":        snap.Error,
	})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.requireSnapshot(w)
	if !ok {
		return
	}
	alerts := snap.Alerts
	if value := strings.TrimSpace(r.URL.Query().Get("severity")); value != "" {
		severity := monitoring.Severity(strings.ToLower(value))
		if !severity.Valid() {
			http.Error(w, "severity must be critical, warning or info", http.StatusBadRequest)
			return
		}
		alerts = snap.AlertsWithSeverity(severity)
	}
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pass_id": snap.PassID,
		"alerts":  alerts,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.requireSnapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Stats)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.refresher.Refresh(r.Context())
	h.recordAudit(r, audit.ActionRefresh, "fleet", "", err, nil)
	if err != nil {
		switch {
		case errors.Is(err, monitoringapp.ErrRefreshInFlight):
			http.Error(w, "refresh already in progress", http.StatusConflict)
		case errors.Is(err, monitoringapp.ErrSchedulerStopped):
			http.Error(w, "scheduler stopped", http.StatusServiceUnavailable)
		default:
			h.logf("fleet refresh failed: err=%v", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleAlertLog(w http.ResponseWriter, r *http.Request) {
	if h.alertLog == nil {
		http.Error(w, "alert log not configured", http.StatusNotFound)
		return
	}
	limit := defaultLogLimit
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxLogLimit)
	}
	events, err := h.alertLog.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []monitoringapp.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	h.hub.ServeWS(w, r, h.snapshots.Load())
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "history not configured", http.StatusNotFound)
		return
	}
	stationID, ok := parseStationID(w, r)
	if !ok {
		return
	}
	from, to, err := parseDateRange(r, h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	samples, err := h.history.StationHistory(r.Context(), stationID, from, to)
	if err != nil {
		if solarcloud.IsNotFound(err) {
			http.Error(w, "station not found", http.StatusNotFound)
			return
		}
		h.logf("fleet history failed: station=%d err=%v", stationID, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if samples == nil {
		samples = []monitoring.TelemetrySample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"station_id": stationID,
		"from":       from.Format(dateLayout),
		"to":         to.Format(dateLayout),
		"samples":    samples,
	})
}

type preferenceRequest struct {
	DeviceSN string `json:"device_sn"`
}

func (h *Handler) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	if h.preferences == nil {
		http.Error(w, "preferences are read-only", http.StatusNotFound)
		return
	}
	stationID, ok := parseStationID(w, r)
	if !ok {
		return
	}
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DeviceSN) == "" {
		http.Error(w, "device_sn is required", http.StatusBadRequest)
		return
	}
	err := h.preferences.SetPreferredDevice(r.Context(), stationID, req.DeviceSN)
	h.recordAudit(r, audit.ActionPreferenceSet, "station", strconv.FormatInt(stationID, 10), err, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearPreference(w http.ResponseWriter, r *http.Request) {
	if h.preferences == nil {
		http.Error(w, "preferences are read-only", http.StatusNotFound)
		return
	}
	stationID, ok := parseStationID(w, r)
	if !ok {
		return
	}
	err := h.preferences.ClearPreferredDevice(r.Context(), stationID)
	h.recordAudit(r, audit.ActionPreferenceClear, "station", strconv.FormatInt(stationID, 10), err, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireSnapshot(w http.ResponseWriter) (*monitoringapp.Snapshot, bool) {
	snap := h.snapshots.Load()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return snap, true
}

func (h *Handler) recordAudit(r *http.Request, action, resourceType, resourceID string, actionErr error, metadata any) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "ok",
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
	if actionErr != nil {
		entry.Outcome = actionErr.Error()
	}
	if metadata != nil {
		if data, err := json.Marshal(metadata); err == nil {
			entry.Metadata = data
		}
	}
	if err := h.audit.Log(r.Context(), entry); err != nil {
		h.logf("fleet audit failed: action=%s err=%v", action, err)
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

func parseStationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	stationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || stationID <= 0 {
		http.Error(w, "invalid station id", http.StatusBadRequest)
		return 0, false
	}
	return stationID, true
}

// parseDateRange reads from/to as calendar days. Missing bounds default to
// the last week ending today.
func parseDateRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := today
	if value := r.URL.Query().Get("to"); value != "" {
		parsed, err := time.Parse(dateLayout, value)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -(defaultHistoryDays - 1))
	if value := r.URL.Query().Get("from"); value != "" {
		parsed, err := time.Parse(dateLayout, value)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
		}
		from = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not be before from")
	}
	if to.Sub(from) > maxHistoryDays*24*time.Hour {
		return time.Time{}, time.Time{}, errors.New("range exceeds one year")
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
