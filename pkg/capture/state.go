// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/pdscope/pkg/catalog"
	"github.com/Thermoquad/pdscope/pkg/snooper"
)

var (
	// ErrLinkLost is returned when the snooper endpoint keeps failing
	ErrLinkLost = errors.New("snooper link lost")

	// ErrInvalidTransition is returned for a state change the pipeline
	// does not allow, e.g. running a pipeline twice
	ErrInvalidTransition = errors.New("invalid pipeline state transition")

	errStopped = errors.New("pipeline stopping")
)

// State is the pipeline lifecycle state
type State int

const (
	StateIdle State = iota
	StateProbing
	StateCapturing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateCapturing:
		return "capturing"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateIdle:      {StateProbing, StateCapturing, StateStopped},
	StateProbing:   {StateCapturing, StateStopped},
	StateCapturing: {StateDraining},
	StateDraining:  {StateStopped},
}

// CanTransition reports whether the pipeline may move from s to next
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OverflowPolicy selects what ingest does when the buffer is full
type OverflowPolicy int

const (
	// OverflowBlock stops reading until the drain frees a slot
	OverflowBlock OverflowPolicy = iota
	// OverflowDrop discards the record that found the buffer full
	OverflowDrop
)

func (p OverflowPolicy) String() string {
	if p == OverflowDrop {
		return "drop"
	}
	return "block"
}

// ParseOverflowPolicy parses "block" or "drop"
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return OverflowBlock, nil
	case "drop":
		return OverflowDrop, nil
	default:
		return OverflowBlock, fmt.Errorf("unknown overflow policy %q (use block or drop)", s)
	}
}

// Command is a session control request
type Command int

const (
	CommandStart Command = iota
	CommandStop
	CommandToggle
	CommandShutdown
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandToggle:
		return "toggle"
	case CommandShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// EventKind identifies what an Event reports
type EventKind int

const (
	EventState EventKind = iota
	EventSessionStarted
	EventSessionStopped
	EventPacket
	EventInvalidPacket
	EventOverflow
	EventLinkError
	EventShellError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventSessionStarted:
		return "session_started"
	case EventSessionStopped:
		return "session_stopped"
	case EventPacket:
		return "packet"
	case EventInvalidPacket:
		return "invalid_packet"
	case EventOverflow:
		return "overflow"
	case EventLinkError:
		return "link_error"
	case EventShellError:
		return "shell_error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to the pipeline listener. Which fields are set
// depends on Kind.
type Event struct {
	Kind      EventKind
	State     State
	Packet    *snooper.DecodedPacket
	Anomalies []snooper.ValidationError
	Err       error
	Session   *catalog.Session
	Dropped   uint64
}
