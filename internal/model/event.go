package model

import "time"

// StepInfo identifies a step for observers. Index is 1-based.
type StepInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StepUpdate reports the final outcome of one step. Sent exactly once per step.
type StepUpdate struct {
	StepInfo
	Result   Result `json:"result"`
	Evidence string `json:"evidence,omitempty"`
}

// Observer receives run progress. Implementations must not block.
type Observer interface {
	OnStatus(msg string)
	OnStepsInit(steps []StepInfo)
	OnStepUpdate(update StepUpdate)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) OnStatus(string)         {}
func (NopObserver) OnStepsInit([]StepInfo)  {}
func (NopObserver) OnStepUpdate(StepUpdate) {}

// EventKind classifies an Event.
type EventKind string

const (
	EventStatus     EventKind = "status"
	EventStepsInit  EventKind = "steps_init"
	EventStepUpdate EventKind = "step_update"
	EventPayload    EventKind = "payload" // audit tap of sanitized payloads
	EventWire       EventKind = "wire"    // raw line capture
)

// Event is tre's output record, written to every configured sink.
type Event struct {
	Kind      EventKind   `json:"kind"`
	RunID     string      `json:"run_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message,omitempty"`
	Steps     []StepInfo  `json:"steps,omitempty"`
	Update    *StepUpdate `json:"update,omitempty"`
	Count     int         `json:"count,omitempty"` // collapsed repeats in the payload tap
}
