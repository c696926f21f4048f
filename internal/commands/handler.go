package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"factory-edge/internal/buffer"
	"factory-edge/internal/faults"
	"factory-edge/internal/observability/metrics"
)

const inboxSize = 64

// Command is the payload on the command topic.
type Command struct {
	Cmd string `json:"cmd"`
	// Value defaults to true when omitted.
	Value *bool `json:"value"`
}

// Handler applies inbound fault commands. All fault-state writes go
// through a single channel drained by Run, so the MQTT callback
// goroutine never touches the state directly and never blocks.
type Handler struct {
	state  *faults.State
	buf    buffer.Store
	logger *log.Logger
	inbox  chan []byte
}

// NewHandler constructs a command handler.
func NewHandler(state *faults.State, buf buffer.Store, logger *log.Logger) (*Handler, error) {
	if state == nil {
		return nil, errors.New("commands: nil fault state")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		state:  state,
		buf:    buf,
		logger: logger,
		inbox:  make(chan []byte, inboxSize),
	}, nil
}

// Enqueue hands a raw command payload to the owner goroutine. It never
// blocks: if the inbox is full the command is dropped with a warning.
func (h *Handler) Enqueue(payload []byte) {
	select {
	case h.inbox <- payload:
	default:
		h.logger.Printf("command inbox full, dropping command")
		metrics.IncCommand(metrics.CommandResultInvalid)
	}
}

// Run drains the inbox until ctx is done. Call it from exactly one
// goroutine.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.inbox:
			h.apply(ctx, payload)
		}
	}
}

func (h *Handler) apply(ctx context.Context, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.logger.Printf("malformed command payload: %v", err)
		metrics.IncCommand(metrics.CommandResultInvalid)
		return
	}
	if cmd.Cmd == "" {
		h.logger.Printf("command payload missing cmd field")
		metrics.IncCommand(metrics.CommandResultInvalid)
		return
	}

	value := true
	if cmd.Value != nil {
		value = *cmd.Value
	}
	h.logger.Printf("received command: %s = %t", cmd.Cmd, value)

	if err := h.state.Set(cmd.Cmd, value); err != nil {
		h.logger.Printf("unknown command: %s", cmd.Cmd)
		metrics.IncCommand(metrics.CommandResultUnknown)
		return
	}
	h.logger.Printf("fault state updated: %s = %t", cmd.Cmd, value)
	metrics.IncCommand(metrics.CommandResultApplied)

	if cmd.Cmd == faults.NetworkOutage && h.buf != nil {
		count, err := h.buf.CountUnsent(ctx)
		if err != nil {
			h.logger.Printf("buffer count error: %v", err)
			return
		}
		h.logger.Printf("buffer status: %d unsent points", count)
	}
}
