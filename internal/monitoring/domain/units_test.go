package monitoring

import "testing"

func TestWattsToKilowatts(t *testing.T) {
	for _, v := range []float64{0, 1, 999, 1000, 5300, 1e6} {
		if got := WattsToKilowatts(v); got != v/1000 {
			t.Fatalf("WattsToKilowatts(%v) = %v, want %v", v, got, v/1000)
		}
	}
}

func TestDailyEnergyHeuristic(t *testing.T) {
	cases := []struct {
		raw  float64
		want float64
	}{
		{raw: 0, want: 0},
		{raw: 12.5, want: 12.5},
		{raw: 999.99, want: 999.99},
		{raw: 1000, want: 1},
		{raw: 25400, want: 25.4},
	}
	for _, tc := range cases {
		if got := DailyEnergyToKilowattHours(tc.raw); got != tc.want {
			t.Fatalf("DailyEnergyToKilowattHours(%v) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestPowerFlowAlwaysWatts(t *testing.T) {
	if got := Normalize(CategoryPowerFlow, 5); got != 0.005 {
		t.Fatalf("expected 0.005 kW, got %v", got)
	}
	if got := Normalize(CategoryPowerFlow, 6000); got != 6 {
		t.Fatalf("expected 6 kW, got %v", got)
	}
}

func TestCapacityNormalization(t *testing.T) {
	cases := []struct {
		raw  float64
		unit string
		want float64
	}{
		{raw: 10, unit: "", want: 10},
		{raw: 250, unit: "", want: 250},
		{raw: 5.5, unit: "", want: 5.5},
		{raw: 8000, unit: "W", want: 8},
		{raw: 12, unit: "kWp", want: 12},
		{raw: 1.2, unit: "MWp", want: 1200},
	}
	for _, tc := range cases {
		if got := CapacityToKilowatts(tc.raw, tc.unit); got != tc.want {
			t.Fatalf("CapacityToKilowatts(%v, %q) = %v, want %v", tc.raw, tc.unit, got, tc.want)
		}
	}
	if got := Normalize(CategoryCapacity, 40); got != 40 {
		t.Fatalf("expected capacity passthrough, got %v", got)
	}
}

func TestAmbiguousPowerHeuristic(t *testing.T) {
	if !LooksLikeWatts(10) || LooksLikeWatts(9.99) {
		t.Fatalf("watt threshold must be 10")
	}
	if got := AmbiguousPowerToKilowatts(4.2); got != 4.2 {
		t.Fatalf("expected kW passthrough, got %v", got)
	}
	if got := AmbiguousPowerToKilowatts(4200); got != 4.2 {
		t.Fatalf("expected 4.2 kW, got %v", got)
	}
}

func TestNormalizeTagged(t *testing.T) {
	if got := NormalizeTagged(CategoryAmbiguousPower, 3.5, "kW"); got != 3.5 {
		t.Fatalf("explicit kW must pass through, got %v", got)
	}
	if got := NormalizeTagged(CategoryPowerFlow, 5, "kW"); got != 0.005 {
		t.Fatalf("power flow is watts regardless of tag, got %v", got)
	}
	if got := NormalizeTagged(CategoryCapacity, 50, ""); got != 50 {
		t.Fatalf("untagged capacity is kW, got %v", got)
	}
	if got := NormalizeTagged(CategoryCapacity, 50000, "W"); got != 50 {
		t.Fatalf("capacity tagged W must convert, got %v", got)
	}
	if got := NormalizeTagged(CategoryDailyEnergy, 500, "Wh"); got != 0.5 {
		t.Fatalf("explicit Wh must convert, got %v", got)
	}
	if got := NormalizeTagged(CategoryDailyEnergy, 500, ""); got != 500 {
		t.Fatalf("untagged daily energy below 1000 is kWh, got %v", got)
	}
	if got := NormalizeTagged(CategoryPowerFlow, 500, ""); got != 0.5 {
		t.Fatalf("untagged power flow is watts, got %v", got)
	}
}
