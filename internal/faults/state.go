package faults

import (
	"fmt"
	"sort"
	"sync"
)

// Recognized fault names. The set is closed: Set rejects anything else.
const (
	BearingFault  = "bearing_fault"
	EnergySpike   = "energy_spike"
	NetworkOutage = "network_outage"
)

// State is the shared table of named fault flags. It is written by the
// inbound-command path and read concurrently by the generator and the
// delivery client, so every access holds the mutex. Construct it once
// at startup and pass it by reference; there is no package-level
// instance.
type State struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewState returns a state with all recognized faults cleared.
func NewState() *State {
	return &State{
		flags: map[string]bool{
			BearingFault:  false,
			EnergySpike:   false,
			NetworkOutage: false,
		},
	}
}

// Set updates a recognized fault flag. Unknown names are rejected and
// never added to the set.
func (s *State) Set(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[name]; !ok {
		return fmt.Errorf("faults: unknown fault %q", name)
	}
	s.flags[name] = value
	return nil
}

// IsActive reports whether a fault flag is set. Unknown names read as
// inactive.
func (s *State) IsActive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[name]
}

// Active returns the names of all currently set faults, sorted.
func (s *State) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []string
	for name, value := range s.flags {
		if value {
			active = append(active, name)
		}
	}
	sort.Strings(active)
	return active
}
