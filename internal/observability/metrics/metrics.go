package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	metricPrefix = "fleet_"

	resultSuccess = "success"
	resultPartial = "partial"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec

	refreshTotal   *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
	refreshSkipped prometheus.Counter

	fleetDevices  *prometheus.GaugeVec
	fleetStations prometheus.Gauge
	fleetOutput   prometheus.Gauge

	alertsActive *prometheus.GaugeVec

	notifyTotal *prometheus.CounterVec
)

// Init registers fleet metrics. A non-nil db also exports connection pool stats.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		apiRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "api_requests_total",
				Help: "Total remote telemetry API calls by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		apiLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "api_latency_seconds",
				Help:    "Remote telemetry API latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		refreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_total",
				Help: "Total refresh passes by mode and result",
			},
			[]string{"mode", "result"},
		)
		refreshLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "refresh_latency_seconds",
				Help:    "Refresh pass latency in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"mode"},
		)
		refreshSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "refresh_skipped_total",
				Help: "Refresh triggers skipped because a pass was in flight",
			},
		)

		fleetDevices = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices",
				Help: "Displayed devices by status",
			},
			[]string{"status"},
		)
		fleetStations = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stations",
				Help: "Stations in the current topology",
			},
		)
		fleetOutput = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "output_kw",
				Help: "Total current output in kW",
			},
		)

		alertsActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alerts_active",
				Help: "Alerts in the current snapshot by severity",
			},
			[]string{"severity"},
		)

		notifyTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_notifications_total",
				Help: "Alert notifications by channel and result",
			},
			[]string{"channel", "result"},
		)

		prometheus.MustRegister(
			apiRequests,
			apiLatency,
			refreshTotal,
			refreshLatency,
			refreshSkipped,
			fleetDevices,
			fleetStations,
			fleetOutput,
			alertsActive,
			notifyTotal,
		)

		if db != nil {
			if err := prometheus.Register(collectors.NewDBStatsCollector(db, "fleet")); err != nil && logger != nil {
				logger.Printf("metrics db stats register failed: err=%v", err)
			}
		}
	})
}

// ObserveAPICall records a remote API call.
func ObserveAPICall(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if apiRequests != nil {
		apiRequests.WithLabelValues(endpoint, result).Inc()
	}
	if apiLatency != nil {
		apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// ObserveRefresh records a refresh pass.
func ObserveRefresh(mode, result string, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if refreshTotal != nil {
		refreshTotal.WithLabelValues(mode, result).Inc()
	}
	if refreshLatency != nil {
		refreshLatency.WithLabelValues(mode).Observe(duration.Seconds())
	}
}

// IncRefreshSkipped counts triggers dropped by the in-flight guard.
func IncRefreshSkipped() {
	if refreshSkipped != nil {
		refreshSkipped.Inc()
	}
}

// SetFleet publishes the gauges derived from a snapshot.
func SetFleet(stations int, devicesByStatus map[string]int, outputKW float64) {
	if fleetStations != nil {
		fleetStations.Set(float64(stations))
	}
	if fleetOutput != nil {
		fleetOutput.Set(outputKW)
	}
	if fleetDevices != nil {
		fleetDevices.Reset()
		for status, count := range devicesByStatus {
			fleetDevices.WithLabelValues(status).Set(float64(count))
		}
	}
}

// SetAlerts publishes alert counts by severity.
func SetAlerts(bySeverity map[string]int) {
	if alertsActive == nil {
		return
	}
	alertsActive.Reset()
	for severity, count := range bySeverity {
		alertsActive.WithLabelValues(severity).Set(float64(count))
	}
}

// IncNotification counts an alert notification attempt.
func IncNotification(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notifyTotal != nil {
		notifyTotal.WithLabelValues(channel, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultPartial = resultPartial
	ResultError   = resultError
)
