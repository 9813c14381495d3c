package application

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/solarcloud"
)

const defaultConcurrency = 4

// Collector runs one collection pass: topology, readings, classification, alerts.
type Collector struct {
	resolver    *TopologyResolver
	readings    ReadingSource
	rules       *monitoring.RuleEngine
	clock       Clock
	batchSize   int
	concurrency int
	logger      *log.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithClock overrides the clock.
func WithClock(clock Clock) CollectorOption {
	return func(c *Collector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBatchSize sets the serial batch size for latest-reading calls.
func WithBatchSize(size int) CollectorOption {
	return func(c *Collector) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// WithConcurrency bounds the number of reading calls in flight.
func WithConcurrency(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCollectorLogger sets the logger.
func WithCollectorLogger(logger *log.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// NewCollector constructs a Collector.
func NewCollector(resolver *TopologyResolver, readings ReadingSource, rules *monitoring.RuleEngine, opts ...CollectorOption) (*Collector, error) {
	if resolver == nil {
		return nil, errors.New("collector: nil resolver")
	}
	if readings == nil {
		return nil, errors.New("collector: nil reading source")
	}
	if rules == nil {
		rules = monitoring.NewRuleEngine(nil)
	}
	c := &Collector{
		resolver:    resolver,
		readings:    readings,
		rules:       rules,
		clock:       systemClock{},
		batchSize:   solarcloud.MaxBatchSize,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PassResult is the outcome of a successful pass.
type PassResult struct {
	Snapshot *Snapshot
	Topology Topology
	// Partial aggregates soft failures; nil when the pass was clean.
	Partial error
}

// Collect runs a pass. A full pass resolves the topology; an incremental pass
// reuses prev and only refreshes readings. An incremental pass without a
// previous topology falls back to full. The returned error is pass-level only.
func (c *Collector) Collect(ctx context.Context, mode RefreshMode, prev *Topology) (PassResult, error) {
	if c == nil {
		return PassResult{}, errors.New("collector: nil")
	}
	passID := uuid.NewString()
	partial := &monitoring.PartialCollectionError{}

	var topo Topology
	if mode == ModeIncremental && prev != nil && len(prev.Display) > 0 {
		topo = *prev
	} else {
		mode = ModeFull
		resolved, err := c.resolver.Resolve(ctx)
		if err != nil {
			return PassResult{}, err
		}
		topo = resolved
		for _, issue := range topo.Issues {
			partial.Add(issue)
		}
	}

	deviceSamples, stationSamples, failures := c.fetchReadings(ctx, topo)
	for _, failure := range failures {
		partial.Add(failure)
	}

	now := c.clock.Now()
	roster := make([]monitoring.RosterEntry, 0, len(topo.Display))
	for _, device := range topo.Display {
		obs := monitoring.Observation{Device: device, Station: topo.StationFor(device)}
		if sample, ok := deviceSamples[device.Serial]; ok {
			obs.DeviceSample = &sample
		}
		if device.HasStation() {
			if sample, ok := stationSamples[*device.StationID]; ok {
				obs.StationSample = &sample
			}
		}
		roster = append(roster, monitoring.BuildEntry(obs, now))
	}
	alerts := c.rules.Evaluate(roster, now)

	snap := &Snapshot{
		PassID:      passID,
		Mode:        mode,
		CollectedAt: now,
		Roster:      roster,
		Alerts:      alerts,
		Stats:       ComputeStats(roster, alerts),
	}
	for _, failure := range partial.Failures {
		snap.SoftErrors = append(snap.SoftErrors, failure.Error())
	}
	if c.logger != nil {
		c.logger.Printf("collector pass done: pass=%s mode=%s devices=%d alerts=%d soft_errors=%d",
			passID, mode, len(roster), len(alerts), len(partial.Failures))
	}
	return PassResult{Snapshot: snap, Topology: topo, Partial: partial.ErrOrNil()}, nil
}

type readingSlot struct {
	devices map[string]monitoring.TelemetrySample
	station *monitoring.TelemetrySample
	id      int64
	err     error
}

// fetchReadings issues the latest-reading calls with bounded parallelism.
// Every call owns one slot so failures stay isolated per batch or station.
func (c *Collector) fetchReadings(ctx context.Context, topo Topology) (map[string]monitoring.TelemetrySample, map[int64]monitoring.TelemetrySample, []error) {
	serials := make([]string, 0, len(topo.Display))
	for _, device := range topo.Display {
		serials = append(serials, device.Serial)
	}
	batches := solarcloud.Chunk(serials, c.batchSize)
	stationIDs := topo.DisplayStationIDs()
	slots := make([]readingSlot, len(batches)+len(stationIDs))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			samples, err := c.readings.DeviceLatest(ctx, batch)
			if err != nil {
				slots[i].err = fmt.Errorf("collector: device latest %v: %w", batch, err)
				return nil
			}
			slots[i].devices = samples
			return nil
		})
	}
	for j, id := range stationIDs {
		id := id
		slot := len(batches) + j
		g.Go(func() error {
			sample, err := c.readings.StationLatest(ctx, id)
			if err != nil {
				slots[slot].err = fmt.Errorf("collector: station latest %d: %w", id, err)
				return nil
			}
			slots[slot].id = id
			slots[slot].station = &sample
			return nil
		})
	}
	_ = g.Wait()

	deviceSamples := make(map[string]monitoring.TelemetrySample, len(serials))
	stationSamples := make(map[int64]monitoring.TelemetrySample, len(stationIDs))
	var failures []error
	for _, slot := range slots {
		if slot.err != nil {
			failures = append(failures, slot.err)
			c.logf("collector reading failed: err=%v", slot.err)
			continue
		}
		for serial, sample := range slot.devices {
			deviceSamples[serial] = sample
		}
		if slot.station != nil {
			stationSamples[slot.id] = *slot.station
		}
	}
	return deviceSamples, stationSamples, failures
}

func (c *Collector) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
