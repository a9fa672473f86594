// Package task implements the per-source-file ConversionTask record, its
// status state machine, the process-wide intern map that gives every
// source path exactly one task, and the mutex-protected TaskQueue the
// scheduler drains.
package task

import "fmt"

// Status is a ConversionTask's position in its state machine. States are
// ordered; normal progress never moves a task backward, except a JIT
// re-queue which resets a task to StatusNew.
type Status int

const (
	StatusNew Status = iota
	StatusQueued
	StatusProcessing
	StatusNeedsPrimaryDeps
	StatusNeedsSecondaryDeps
	StatusNeedsConversion
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusQueued:
		return "QUEUED"
	case StatusProcessing:
		return "PROCESSING"
	case StatusNeedsPrimaryDeps:
		return "NEEDS_PRIMARY_DEPS"
	case StatusNeedsSecondaryDeps:
		return "NEEDS_SECONDARY_DEPS"
	case StatusNeedsConversion:
		return "NEEDS_CONVERSION"
	case StatusDone:
		return "DONE"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IsTerminal reports whether s is a state the scheduler will never advance
// further without an explicit reset.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// rank orders states for the "transitions only forward" invariant; Failed
// is reachable from anywhere so it is not part of the linear rank.
var rank = map[Status]int{
	StatusNew:                0,
	StatusQueued:             1,
	StatusProcessing:         2,
	StatusNeedsPrimaryDeps:   3,
	StatusNeedsSecondaryDeps: 4,
	StatusNeedsConversion:    5,
	StatusDone:               6,
}

// CanTransition reports whether moving from 'from' to 'to' is legal: any
// move to Failed, any move to New (reset), or a move that does not go
// backward along the linear ordering (staying in the same state is
// allowed).
func CanTransition(from, to Status) bool {
	if to == StatusFailed || to == StatusNew {
		return true
	}
	fr, fok := rank[from]
	tr, tok := rank[to]
	if !fok || !tok {
		return false
	}
	return tr >= fr
}
