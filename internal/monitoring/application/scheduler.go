package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/observability/metrics"
)

const (
	defaultInterval      = 30 * time.Second
	defaultTopologyEvery = 10
)

var (
	// ErrRefreshInFlight is returned when a pass is already running.
	ErrRefreshInFlight = errors.New("scheduler: refresh in flight")
	// ErrSchedulerStopped is returned for a pass that finished after shutdown.
	ErrSchedulerStopped = errors.New("scheduler: stopped")
)

// Alert lifecycle event types.
const (
	EventRaised    = "raised"
	EventCleared   = "cleared"
	EventEscalated = "escalated"
)

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent is a change of an alert between two passes.
type AlertEvent struct {
	Type       string           `json:"type"`
	PassID     string           `json:"pass_id"`
	Alert      monitoring.Alert `json:"alert"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// SnapshotListener is called after each published snapshot.
type SnapshotListener func(snap *Snapshot)

// Scheduler drives periodic collection: idle, collecting, idle.
type Scheduler struct {
	collector     *Collector
	store         *SnapshotStore
	notifier      AlertNotifier
	interval      time.Duration
	topologyEvery int
	clock         Clock
	logger        *log.Logger

	running atomic.Bool
	stopped atomic.Bool
	passes  sync.WaitGroup

	mu        sync.Mutex
	topology  *Topology
	ticks     int
	active    map[string]monitoring.Alert
	listeners []SnapshotListener
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the tick interval.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithTopologyEvery forces a full topology rebuild every n ticks.
func WithTopologyEvery(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.topologyEvery = n
		}
	}
}

// WithNotifier assigns the alert notifier.
func WithNotifier(notifier AlertNotifier) SchedulerOption {
	return func(s *Scheduler) {
		s.notifier = notifier
	}
}

// WithSchedulerClock overrides the clock.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *log.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(collector *Collector, store *SnapshotStore, opts ...SchedulerOption) (*Scheduler, error) {
	if collector == nil {
		return nil, errors.New("scheduler: nil collector")
	}
	if store == nil {
		return nil, errors.New("scheduler: nil snapshot store")
	}
	s := &Scheduler{
		collector:     collector,
		store:         store,
		interval:      defaultInterval,
		topologyEvery: defaultTopologyEvery,
		clock:         systemClock{},
		active:        make(map[string]monitoring.Alert),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subscribe registers a listener for published snapshots.
func (s *Scheduler) Subscribe(listener SnapshotListener) {
	if s == nil || listener == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// InFlight reports whether a pass is running.
func (s *Scheduler) InFlight() bool {
	return s != nil && s.running.Load()
}

// Start runs a full pass immediately, then one pass per tick until ctx is
// done. On return the ticker is stopped and any in-flight pass is left to
// finish; its result is discarded.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.collector == nil {
		return
	}
	s.launch(ctx, ModeFull)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			s.logf("scheduler stopped: in_flight=%t", s.running.Load())
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// markStopped flags the scheduler as stopped. Once it returns no pass can
// publish.
func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.stopped.Store(true)
	s.mu.Unlock()
}

// Wait blocks until the in-flight pass, if any, has finished.
func (s *Scheduler) Wait() {
	if s == nil {
		return
	}
	s.passes.Wait()
}

// Refresh runs a manual full pass synchronously. It obeys the in-flight guard.
func (s *Scheduler) Refresh(ctx context.Context) (*Snapshot, error) {
	if s == nil {
		return nil, errors.New("scheduler: nil")
	}
	if s.stopped.Load() {
		return nil, ErrSchedulerStopped
	}
	if !s.running.CompareAndSwap(false, true) {
		metrics.IncRefreshSkipped()
		return nil, ErrRefreshInFlight
	}
	s.passes.Add(1)
	defer s.passes.Done()
	defer s.running.Store(false)
	return s.run(ctx, ModeFull)
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.ticks++
	mode := ModeIncremental
	if s.topology == nil || len(s.topology.Display) == 0 {
		mode = ModeFull
	} else if s.topologyEvery > 0 && s.ticks%s.topologyEvery == 0 {
		mode = ModeFull
	}
	s.mu.Unlock()
	s.launch(ctx, mode)
}

// launch starts a pass in the background unless one is running.
func (s *Scheduler) launch(ctx context.Context, mode RefreshMode) bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.IncRefreshSkipped()
		s.logf("scheduler tick skipped: reason=in_flight")
		return false
	}
	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		defer s.running.Store(false)
		if _, err := s.run(ctx, mode); err != nil && !errors.Is(err, ErrSchedulerStopped) {
			s.logf("scheduler pass failed: mode=%s err=%v", mode, err)
		}
	}()
	return true
}

// run executes one pass. The pass itself is detached from ctx cancellation so
// that in-flight requests complete; a pass finishing after shutdown publishes nothing.
func (s *Scheduler) run(ctx context.Context, mode RefreshMode) (*Snapshot, error) {
	passCtx := context.WithoutCancel(ctx)
	start := time.Now()

	s.mu.Lock()
	prev := s.topology
	s.mu.Unlock()

	result, err := s.collector.Collect(passCtx, mode, prev)

	// Publication happens under s.mu; markStopped takes the same lock.
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		s.logf("scheduler pass discarded: mode=%s reason=stopped", mode)
		return nil, ErrSchedulerStopped
	}
	if err != nil {
		s.store.MarkFailed(err, s.clock.Now())
		s.mu.Unlock()
		metrics.ObserveRefresh(string(mode), metrics.ResultError, time.Since(start))
		return nil, err
	}

	snap := result.Snapshot
	outcome := metrics.ResultSuccess
	if result.Partial != nil {
		outcome = metrics.ResultPartial
	}
	topo := result.Topology
	s.topology = &topo
	if snap.Mode == ModeFull {
		s.ticks = 0
	}
	events := s.diffAlerts(snap)
	listeners := append([]SnapshotListener(nil), s.listeners...)
	s.store.Store(snap)
	s.mu.Unlock()

	metrics.ObserveRefresh(string(snap.Mode), outcome, time.Since(start))
	publishGauges(snap)
	if s.notifier != nil {
		for _, event := range events {
			s.notifier.Notify(passCtx, event)
		}
	}
	for _, listener := range listeners {
		listener(snap)
	}
	return snap, nil
}

// diffAlerts computes raised and cleared events against the previous pass.
// Callers hold s.mu.
func (s *Scheduler) diffAlerts(snap *Snapshot) []AlertEvent {
	current := make(map[string]monitoring.Alert, len(snap.Alerts))
	var events []AlertEvent
	for _, alert := range snap.Alerts {
		key := alert.Key()
		current[key] = alert
		if _, ok := s.active[key]; !ok {
			events = append(events, AlertEvent{Type: EventRaised, PassID: snap.PassID, Alert: alert, OccurredAt: snap.CollectedAt})
		}
	}
	var cleared []monitoring.Alert
	for key, alert := range s.active {
		if _, ok := current[key]; !ok {
			cleared = append(cleared, alert)
		}
	}
	monitoring.SortAlerts(cleared)
	for _, alert := range cleared {
		events = append(events, AlertEvent{Type: EventCleared, PassID: snap.PassID, Alert: alert, OccurredAt: snap.CollectedAt})
	}
	s.active = current
	return events
}

// ActiveAlert reports whether the alert key is present in the latest pass.
func (s *Scheduler) ActiveAlert(key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[key]
	return ok
}

func publishGauges(snap *Snapshot) {
	byStatus := make(map[string]int, len(snap.Stats.ByStatus))
	for status, count := range snap.Stats.ByStatus {
		byStatus[string(status)] = count
	}
	metrics.SetFleet(snap.Stats.Stations, byStatus, snap.Stats.TotalOutputKW)
	bySeverity := make(map[string]int, len(snap.Stats.AlertsBySeverity))
	for severity, count := range snap.Stats.AlertsBySeverity {
		bySeverity[string(severity)] = count
	}
	metrics.SetAlerts(bySeverity)
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
