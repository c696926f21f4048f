package commands

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"factory-edge/internal/faults"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestApplySetsFault(t *testing.T) {
	state := faults.NewState()
	handler, err := NewHandler(state, nil, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	handler.apply(context.Background(), []byte(`{"cmd":"bearing_fault","value":true}`))
	if !state.IsActive(faults.BearingFault) {
		t.Fatal("bearing fault not set")
	}

	handler.apply(context.Background(), []byte(`{"cmd":"bearing_fault","value":false}`))
	if state.IsActive(faults.BearingFault) {
		t.Fatal("bearing fault not cleared")
	}
}

func TestApplyDefaultsValueToTrue(t *testing.T) {
	state := faults.NewState()
	handler, err := NewHandler(state, nil, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	handler.apply(context.Background(), []byte(`{"cmd":"network_outage"}`))
	if !state.IsActive(faults.NetworkOutage) {
		t.Fatal("omitted value did not default to true")
	}
}

func TestApplyIgnoresUnknownAndMalformedCommands(t *testing.T) {
	state := faults.NewState()
	handler, err := NewHandler(state, nil, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	handler.apply(context.Background(), []byte(`{"cmd":"coolant_leak","value":true}`))
	handler.apply(context.Background(), []byte(`{"value":true}`))
	handler.apply(context.Background(), []byte(`not json`))

	if got := state.Active(); len(got) != 0 {
		t.Fatalf("state changed by rejected commands: %v", got)
	}
}

func TestRunDrainsEnqueuedCommands(t *testing.T) {
	state := faults.NewState()
	handler, err := NewHandler(state, nil, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.Run(ctx)
	}()

	handler.Enqueue([]byte(`{"cmd":"energy_spike","value":true}`))

	deadline := time.After(2 * time.Second)
	for !state.IsActive(faults.EnergySpike) {
		select {
		case <-deadline:
			t.Fatal("command not applied before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestEnqueueNeverBlocksWhenInboxIsFull(t *testing.T) {
	state := faults.NewState()
	handler, err := NewHandler(state, nil, testLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	// Run is not draining, so this overflows the inbox. Enqueue must
	// drop instead of blocking the publisher callback.
	payload := []byte(`{"cmd":"bearing_fault","value":true}`)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < inboxSize+10; i++ {
			handler.Enqueue(payload)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on full inbox")
	}
}
