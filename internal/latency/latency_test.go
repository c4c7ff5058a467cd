package latency

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	m := NewModel()

	if !m.MiddleEnabled() {
		t.Error("expected middle cache enabled by default")
	}

	for _, tier := range []Tier{TierDevice, TierMiddle, TierHost} {
		if d := m.Delay(tier); d != 0 {
			t.Errorf("expected zero delay for %s tier, got %v", tier, d)
		}
	}
}

func TestSetSimulationMode(t *testing.T) {
	m := NewModel()
	m.SetSimulationMode(false, 3000, 100, 800)

	if m.MiddleEnabled() {
		t.Error("expected middle cache disabled")
	}

	if d := m.Delay(TierDevice); d != 100*time.Nanosecond {
		t.Errorf("device delay = %v, want 100ns", d)
	}

	if d := m.Delay(TierMiddle); d != 800*time.Nanosecond {
		t.Errorf("middle delay = %v, want 800ns", d)
	}

	if d := m.Delay(TierHost); d != 3000*time.Nanosecond {
		t.Errorf("host delay = %v, want 3000ns", d)
	}
}

func TestSnapshot(t *testing.T) {
	m := NewModel()
	m.SetSimulationMode(true, 1, 2, 3)

	snap := m.Snapshot()
	want := Mode{EnableMiddleCache: true, HostDelayNs: 1, DeviceDelayNs: 2, MiddleDelayNs: 3}

	if snap != want {
		t.Errorf("Snapshot() = %+v, want %+v", snap, want)
	}
}

func TestApplySleeps(t *testing.T) {
	m := NewModel()
	m.SetSimulationMode(true, 0, int64(2*time.Millisecond), 0)

	start := time.Now()
	m.Apply(TierDevice)

	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Errorf("Apply returned after %v, want at least 2ms", elapsed)
	}
}

func TestTierString(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierDevice, "device"},
		{TierMiddle, "middle"},
		{TierHost, "host"},
		{Tier(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier(%d).String() = %q, want %q", tt.tier, got, tt.want)
		}
	}
}
