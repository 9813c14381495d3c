package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	monitoring "solar-fleet/internal/monitoring/domain"
	"solar-fleet/internal/solarcloud"
)

// Topology is the resolved station/device roster of one pass.
type Topology struct {
	// Stations is the authoritative station set keyed by id.
	Stations map[int64]monitoring.Station
	// Devices holds every resolved device keyed by serial, including collapsed ones.
	Devices map[string]monitoring.Device
	// Display is the collapsed roster: at most one device per station.
	Display []monitoring.Device
	// Issues are the soft failures met while resolving.
	Issues []error
}

// StationFor returns the known station of a device, or nil.
func (t Topology) StationFor(device monitoring.Device) *monitoring.Station {
	if !device.HasStation() {
		return nil
	}
	station, ok := t.Stations[*device.StationID]
	if !ok {
		return nil
	}
	return &station
}

// DisplayStationIDs returns the distinct known station ids of the display roster.
func (t Topology) DisplayStationIDs() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, device := range t.Display {
		if !device.HasStation() {
			continue
		}
		id := *device.StationID
		if _, ok := t.Stations[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// TopologyResolver merges the overlapping station and device listings into one roster.
type TopologyResolver struct {
	source    StationSource
	prefs     PreferenceReader
	batchSize int
	logger    *log.Logger
}

// ResolverOption configures a TopologyResolver.
type ResolverOption func(*TopologyResolver)

// WithPreferences sets the preferred device reader.
func WithPreferences(prefs PreferenceReader) ResolverOption {
	return func(r *TopologyResolver) {
		r.prefs = prefs
	}
}

// WithStationBatchSize sets the per-call station id batch for direct device queries.
func WithStationBatchSize(size int) ResolverOption {
	return func(r *TopologyResolver) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *log.Logger) ResolverOption {
	return func(r *TopologyResolver) {
		r.logger = logger
	}
}

// NewTopologyResolver constructs a resolver.
func NewTopologyResolver(source StationSource, opts ...ResolverOption) (*TopologyResolver, error) {
	if source == nil {
		return nil, errors.New("topology: nil station source")
	}
	r := &TopologyResolver{source: source, batchSize: solarcloud.MaxBatchSize}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// rosterBuilder keeps devices keyed by serial in first-sighting order.
type rosterBuilder struct {
	devices map[string]monitoring.Device
	order   []string
}

func newRosterBuilder() *rosterBuilder {
	return &rosterBuilder{devices: make(map[string]monitoring.Device)}
}

// add inserts a device or, for a known serial, fills missing station linkage only.
func (b *rosterBuilder) add(device monitoring.Device) {
	if device.Serial == "" {
		return
	}
	existing, ok := b.devices[device.Serial]
	if !ok {
		b.devices[device.Serial] = device
		b.order = append(b.order, device.Serial)
		return
	}
	b.devices[device.Serial] = existing.FillStation(device)
}

// addFallback inserts a device or, for a known serial, fills missing identity fields only.
func (b *rosterBuilder) addFallback(device monitoring.Device) {
	if device.Serial == "" {
		return
	}
	existing, ok := b.devices[device.Serial]
	if !ok {
		b.devices[device.Serial] = device
		b.order = append(b.order, device.Serial)
		return
	}
	b.devices[device.Serial] = existing.FillIdentity(device)
}

// Resolve builds the topology. Only a failed authoritative station listing
// is returned as an error; every other failure, including a station listing
// truncated at the page limit, is recorded in Topology.Issues.
func (r *TopologyResolver) Resolve(ctx context.Context) (Topology, error) {
	if r == nil || r.source == nil {
		return Topology{}, errors.New("topology: resolver not initialized")
	}

	listed, err := r.source.AllStations(ctx)
	var truncated error
	switch {
	case errors.Is(err, solarcloud.ErrPageLimit):
		truncated = fmt.Errorf("topology: station listing: %w", err)
		r.logf("topology station listing truncated: stations=%d err=%v", len(listed), err)
	case err != nil:
		return Topology{}, fmt.Errorf("topology: station listing: %w", err)
	}
	topo := Topology{Stations: make(map[int64]monitoring.Station, len(listed))}
	if truncated != nil {
		topo.Issues = append(topo.Issues, truncated)
	}
	var stationOrder []int64
	for _, station := range listed {
		if station.Validate() != nil {
			continue
		}
		if existing, ok := topo.Stations[station.ID]; ok {
			topo.Stations[station.ID] = existing.Merge(station)
			continue
		}
		station.Devices = nil
		topo.Stations[station.ID] = station
		stationOrder = append(stationOrder, station.ID)
	}

	builder := newRosterBuilder()
	covered := make(map[int64]bool)
	withDevices, err := r.source.AllStationsWithDevices(ctx)
	if err != nil {
		topo.Issues = append(topo.Issues, fmt.Errorf("topology: station device listing: %w", err))
		r.logf("topology station device listing failed: err=%v", err)
	}
	for _, station := range withDevices {
		if len(station.Devices) == 0 {
			continue
		}
		covered[station.ID] = true
		if existing, ok := topo.Stations[station.ID]; ok {
			merged := existing.Merge(station)
			merged.Devices = nil
			topo.Stations[station.ID] = merged
		}
		for _, device := range station.Devices {
			builder.add(device)
		}
	}

	var missing []int64
	for _, id := range stationOrder {
		if !covered[id] {
			missing = append(missing, id)
		}
	}
	for _, chunk := range solarcloud.Chunk(missing, r.batchSize) {
		devices, err := r.source.ListStationDevices(ctx, chunk)
		if err != nil {
			topo.Issues = append(topo.Issues, fmt.Errorf("topology: station devices %v: %w", chunk, err))
			r.logf("topology station devices failed: stations=%v err=%v", chunk, err)
			continue
		}
		for _, device := range devices {
			if !device.HasStation() && len(chunk) == 1 {
				device.StationID = monitoring.StationRef(chunk[0])
			}
			builder.add(device)
		}
	}

	if len(builder.order) == 0 {
		devices, err := r.source.AllDevices(ctx)
		if err != nil {
			topo.Issues = append(topo.Issues, fmt.Errorf("topology: device listing: %w", err))
			r.logf("topology device listing failed: err=%v", err)
		}
		for _, device := range devices {
			builder.addFallback(device)
		}
	}

	topo.Devices = builder.devices
	for _, serial := range builder.order {
		device := builder.devices[serial]
		if device.HasStation() {
			if _, ok := topo.Stations[*device.StationID]; !ok {
				topo.Issues = append(topo.Issues, &monitoring.TopologyInconsistency{Serial: serial, StationID: *device.StationID})
			}
		}
	}

	prefs := r.preferences(ctx, &topo)
	topo.Display = collapse(builder, prefs)
	return topo, nil
}

func (r *TopologyResolver) preferences(ctx context.Context, topo *Topology) map[int64]string {
	if r.prefs == nil {
		return nil
	}
	prefs, err := r.prefs.PreferredDevices(ctx)
	if err != nil {
		topo.Issues = append(topo.Issues, fmt.Errorf("topology: preferred devices: %w", err))
		r.logf("topology preferences failed: err=%v", err)
		return nil
	}
	return prefs
}

// collapse keeps one device per station: the preferred serial when present
// among the station's devices, otherwise the first sighted. Devices without
// a station are never collapsed. The result is ordered by station id, with
// unlinked devices last in sighting order.
func collapse(builder *rosterBuilder, prefs map[int64]string) []monitoring.Device {
	chosen := make(map[int64]string)
	var stationOrder []int64
	var unlinked []monitoring.Device
	for _, serial := range builder.order {
		device := builder.devices[serial]
		if !device.HasStation() {
			unlinked = append(unlinked, device)
			continue
		}
		id := *device.StationID
		current, ok := chosen[id]
		if !ok {
			chosen[id] = serial
			stationOrder = append(stationOrder, id)
			continue
		}
		if preferred := prefs[id]; preferred != "" && preferred == serial && current != preferred {
			chosen[id] = serial
		}
	}
	sort.Slice(stationOrder, func(i, j int) bool { return stationOrder[i] < stationOrder[j] })

	display := make([]monitoring.Device, 0, len(stationOrder)+len(unlinked))
	for _, id := range stationOrder {
		display = append(display, builder.devices[chosen[id]])
	}
	return append(display, unlinked...)
}

func (r *TopologyResolver) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
