package monitoring

import "strings"

// FieldCategory tells the normalizer how an untagged raw value was reported.
type FieldCategory int

const (
	// CategoryPowerFlow covers generation, consumption, grid, charge and discharge power.
	CategoryPowerFlow FieldCategory = iota
	// CategoryCapacity covers installed/rated capacity.
	CategoryCapacity
	// CategoryDailyEnergy covers "today" accumulators (generation, charge).
	CategoryDailyEnergy
	// CategoryAmbiguousPower covers power values of unknown origin.
	CategoryAmbiguousPower
	// CategoryPercent covers ratios such as battery state of charge.
	CategoryPercent
)

const (
	// ambiguousWattsThreshold separates watt-scale from kW-scale untagged power.
	ambiguousWattsThreshold = 10
	// dailyEnergyWhThreshold separates Wh from kWh in daily accumulators.
	dailyEnergyWhThreshold = 1000
)

// WattsToKilowatts converts W to kW.
func WattsToKilowatts(watts float64) float64 {
	return watts / 1000
}

// PowerFlowToKilowatts treats the raw API value as watts.
func PowerFlowToKilowatts(raw float64) float64 {
	return WattsToKilowatts(raw)
}

// LooksLikeWatts reports whether an untagged power value is watt-scale.
func LooksLikeWatts(raw float64) bool {
	return raw >= ambiguousWattsThreshold
}

// AmbiguousPowerToKilowatts converts an untagged power value of unknown category.
func AmbiguousPowerToKilowatts(raw float64) float64 {
	if LooksLikeWatts(raw) {
		return WattsToKilowatts(raw)
	}
	return raw
}

// CapacityToKilowatts normalizes installed capacity. Capacity is kW-scale at
// the source: an untagged value (including raw >= 10) is used as is, an
// explicit unit tag is honoured.
func CapacityToKilowatts(raw float64, unit string) float64 {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "p") {
	case "w":
		return WattsToKilowatts(raw)
	case "mw":
		return raw * 1000
	case "gw":
		return raw * 1000 * 1000
	default:
		return raw
	}
}

// DailyEnergyToKilowattHours normalizes a "today" accumulator: raw >= 1000 is Wh.
func DailyEnergyToKilowattHours(raw float64) float64 {
	if raw >= dailyEnergyWhThreshold {
		return raw / 1000
	}
	return raw
}

// Normalize dispatches on the field category.
func Normalize(category FieldCategory, raw float64) float64 {
	switch category {
	case CategoryPowerFlow:
		return PowerFlowToKilowatts(raw)
	case CategoryCapacity:
		return CapacityToKilowatts(raw, "")
	case CategoryDailyEnergy:
		return DailyEnergyToKilowattHours(raw)
	case CategoryAmbiguousPower:
		return AmbiguousPowerToKilowatts(raw)
	default:
		return raw
	}
}

// NormalizeTagged honours an explicit unit tag and falls back to the category
// heuristic when the tag is missing or unrecognised. Power flow is always
// watts whatever the tag says; capacity tags follow CapacityToKilowatts.
func NormalizeTagged(category FieldCategory, raw float64, unit string) float64 {
	switch category {
	case CategoryPowerFlow:
		return PowerFlowToKilowatts(raw)
	case CategoryCapacity:
		return CapacityToKilowatts(raw, unit)
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "w", "wh":
		return raw / 1000
	case "kw", "kwh":
		return raw
	case "mw", "mwh":
		return raw * 1000
	case "%":
		return raw
	}
	return Normalize(category, raw)
}
