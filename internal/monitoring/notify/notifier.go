package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	monitoringapp "solar-fleet/internal/monitoring/application"
	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/observability/metrics"
)

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

// ActiveChecker reports whether an alert key is still raised.
type ActiveChecker interface {
	ActiveAlert(key string) bool
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events through a template and sends them on a
// channel, with per-alert cooldown, content dedupe and escalation.
type Notifier struct {
	name           string
	channel        Channel
	template       *Template
	escalation     time.Duration
	active         ActiveChecker
	clock          Clock
	logger         *log.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation re-sends critical alerts still active after the delay.
func WithEscalation(after time.Duration, active ActiveChecker) Option {
	return func(n *Notifier) {
		if after > 0 && active != nil {
			n.escalation = after
			n.active = active
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds each send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithName sets the channel label used in logs and metrics.
func WithName(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		name:           "webhook",
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event monitoringapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, event)

	switch event.Type {
	case monitoringapp.EventRaised:
		n.scheduleEscalation(event)
	case monitoringapp.EventCleared:
		n.cancelEscalation(event.Alert.Key())
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, event monitoringapp.AlertEvent) {
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		n.logf("notify %s render failed: key=%s err=%v", n.name, event.Alert.Key(), err)
		return
	}
	key := event.Alert.Key()
	if !n.shouldSend(key, event.Type, content) {
		metrics.IncNotification(n.name, "suppressed")
		return
	}
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotification(n.name, metrics.ResultError)
		n.logf("notify %s send failed: key=%s event=%s err=%v", n.name, key, event.Type, err)
		return
	}
	metrics.IncNotification(n.name, metrics.ResultSuccess)
	n.markSent(key, event.Type, content)
}

func (n *Notifier) scheduleEscalation(event monitoringapp.AlertEvent) {
	if n.escalation <= 0 || n.active == nil || event.Alert.Severity != monitoring.SeverityCritical {
		return
	}
	key := event.Alert.Key()
	n.mu.Lock()
	if existing, ok := n.timers[key]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[key] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(event)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(key string) {
	n.mu.Lock()
	timer := n.timers[key]
	delete(n.timers, key)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(event monitoringapp.AlertEvent) {
	key := event.Alert.Key()
	n.mu.Lock()
	delete(n.timers, key)
	n.mu.Unlock()

	if !n.active.ActiveAlert(key) {
		return
	}
	event.Type = monitoringapp.EventEscalated
	event.OccurredAt = n.clock.Now()
	n.dispatch(context.Background(), event)
}

func buildTemplateData(event monitoringapp.AlertEvent) TemplateData {
	alert := event.Alert
	station := alert.StationName
	if station == "" && alert.StationID != 0 {
		station = "#" + strconv.FormatInt(alert.StationID, 10)
	}
	return TemplateData{
		Title:      alert.Title,
		Serial:     alert.Serial,
		Station:    station,
		StationID:  alert.StationID,
		Rule:       string(alert.Rule),
		Severity:   string(alert.Severity),
		Message:    alert.Message,
		ObservedAt: alert.ObservedAt.UTC().Format(time.RFC3339),
		Suggestion: suggestionFor(alert.Rule),
		Event:      event.Type,
		EventLabel: eventLabel(event.Type),
		PassID:     event.PassID,
	}
}

func eventLabel(event string) string {
	switch event {
	case monitoringapp.EventRaised:
		return "Raised"
	case monitoringapp.EventCleared:
		return "Cleared"
	case monitoringapp.EventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(rule monitoring.Rule) string {
	switch rule {
	case monitoring.RuleOffline:
		return "Check the logger connection and inverter power."
	case monitoring.RuleNoGeneration:
		return "Inspect the inverter and array isolators."
	case monitoring.RuleLowEfficiency, monitoring.RuleLowUtilization:
		return "Check the array for shading or string faults."
	case monitoring.RuleStaleData:
		return "Verify the logger is uploading data."
	default:
		return "Monitor the alert condition."
	}
}

func (n *Notifier) shouldSend(key, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[notificationKey(key, eventType)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, eventType, content string) {
	n.mu.Lock()
	n.sent[notificationKey(key, eventType)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func (n *Notifier) logf(format string, args ...any) {
	if n.logger != nil {
		n.logger.Printf(format, args...)
	}
}

func notificationKey(key, eventType string) string {
	return key + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
