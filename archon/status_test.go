package archon

import "testing"

func TestActivityGroupIsExclusive(t *testing.T) {
	s := Idle
	s = s.Update(Exposing, true)
	if s.Has(Idle) {
		t.Fatalf("IDLE still set after setting EXPOSING: %s", s)
	}
	if !s.Has(Exposing) {
		t.Fatalf("EXPOSING not set: %s", s)
	}
}

func TestReadoutPendingCompatibleWithExposing(t *testing.T) {
	s := Idle.Update(Exposing|ReadoutPending, true)
	if !s.Has(Exposing) || !s.Has(ReadoutPending) {
		t.Fatalf("expected EXPOSING|READOUT_PENDING, got %s", s)
	}
}

func TestPowerGroupIsExclusive(t *testing.T) {
	s := PowerOn.Update(PowerBad, true)
	if s.Has(PowerOn) {
		t.Fatalf("POWERON still set after POWERBAD: %s", s)
	}
	if !s.Has(PowerBad) {
		t.Fatalf("POWERBAD not set: %s", s)
	}
}

func TestClearingBitsDoesNotTriggerExclusion(t *testing.T) {
	s := (Idle | PowerOn).Update(Idle, false)
	if s.Has(Idle) {
		t.Fatalf("IDLE should be cleared: %s", s)
	}
	if !s.Has(PowerOn) {
		t.Fatalf("POWERON should be untouched by clearing IDLE: %s", s)
	}
}

func TestNamesOrderAndCoalescing(t *testing.T) {
	s := Idle | PowerOn
	names := s.Names()
	if len(names) != 2 || names[0] != "IDLE" || names[1] != "POWERON" {
		t.Fatalf("unexpected names: %v", names)
	}
}
