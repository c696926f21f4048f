package faults

import "testing"

func TestSetAndIsActive(t *testing.T) {
	state := NewState()

	if state.IsActive(BearingFault) {
		t.Fatal("bearing fault active on fresh state")
	}
	if err := state.Set(BearingFault, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !state.IsActive(BearingFault) {
		t.Fatal("bearing fault not active after set")
	}
	if err := state.Set(BearingFault, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if state.IsActive(BearingFault) {
		t.Fatal("bearing fault still active after clear")
	}
}

func TestSetRejectsUnknownFault(t *testing.T) {
	state := NewState()

	if err := state.Set("coolant_leak", true); err == nil {
		t.Fatal("expected error for unknown fault")
	}
	// The rejected name must not have been added to the set.
	if state.IsActive("coolant_leak") {
		t.Fatal("unknown fault reads active")
	}
	if got := state.Active(); len(got) != 0 {
		t.Fatalf("expected no active faults, got %v", got)
	}
}

func TestActiveIsSorted(t *testing.T) {
	state := NewState()
	if err := state.Set(NetworkOutage, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := state.Set(BearingFault, true); err != nil {
		t.Fatalf("set: %v", err)
	}

	got := state.Active()
	if len(got) != 2 || got[0] != BearingFault || got[1] != NetworkOutage {
		t.Fatalf("unexpected active faults: %v", got)
	}
}
