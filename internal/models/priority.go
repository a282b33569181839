package models

import "fmt"

// Priority selects the delivery queue of a message. Scheduled messages go
// out at PriorityMiddle.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMiddle Priority = 2
	PriorityHigh   Priority = 3
)

var Priorities = []Priority{PriorityHigh, PriorityMiddle, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMiddle:
		return "middle"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Normalize turns the zero value into PriorityLow and rejects anything
// outside low..high.
func (p Priority) Normalize() (Priority, error) {
	if p == 0 {
		return PriorityLow, nil
	}
	if p < PriorityLow || p > PriorityHigh {
		return 0, fmt.Errorf("priority %d: %w", int(p), ErrInvalidInput)
	}
	return p, nil
}
