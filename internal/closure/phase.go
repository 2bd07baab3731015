// Package closure implements the ticket closure state machine: a pure
// transition table over Phase and Event, and a Machine that performs the
// side effects for one operator's session at a time.
package closure

import (
	"errors"
	"fmt"
)

// Phase is where a session sits in the closure lifecycle.
type Phase string

// Phases, in lifecycle order.
const (
	Collecting Phase = "COLLECTING"
	Closing    Phase = "CLOSING"
	Extracting Phase = "EXTRACTING"
	Auditing   Phase = "AUDITING"
	Review     Phase = "REVIEW"
	Submitted  Phase = "SUBMITTED"
)

// Event drives a transition.
type Event string

// Events.
const (
	EventUserTurn        Event = "user_turn"
	EventContinue        Event = "continue"
	EventOracleFailed    Event = "oracle_failed"
	EventClose           Event = "close"
	EventExtracted       Event = "extracted"
	EventExtractFailed   Event = "extract_failed"
	EventExtractDegraded Event = "extract_degraded"
	EventAudited         Event = "audited"
	EventAuditFailed     Event = "audit_failed"
	EventEdit            Event = "edit"
	EventSubmit          Event = "submit"
	EventReset           Event = "reset"
	EventAbandon         Event = "abandon"
)

// ErrInvalidTransition is returned for an event the current phase does not accept.
var ErrInvalidTransition = errors.New("closure: invalid transition")

type edge struct {
	from  Phase
	event Event
}

var transitions = map[edge]Phase{
	{Collecting, EventUserTurn}:        Closing,
	{Closing, EventContinue}:           Collecting,
	{Closing, EventOracleFailed}:       Collecting,
	{Closing, EventClose}:              Extracting,
	{Extracting, EventExtracted}:       Auditing,
	{Extracting, EventExtractFailed}:   Extracting,
	{Extracting, EventExtractDegraded}: Auditing,
	{Auditing, EventAudited}:           Review,
	{Auditing, EventAuditFailed}:       Review,
	{Review, EventEdit}:                Review,
	{Review, EventSubmit}:              Submitted,
	{Submitted, EventReset}:            Collecting,
}

// Next returns the phase that follows p on e. Abandon is accepted from every
// phase except Submitted and always lands in a fresh Collecting session.
// No event leads from Extracting, Auditing or Review back to Collecting
// other than abandon.
func Next(p Phase, e Event) (Phase, error) {
	if e == EventAbandon && p != Submitted && p.Valid() {
		return Collecting, nil
	}
	if to, ok := transitions[edge{p, e}]; ok {
		return to, nil
	}
	return p, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, p)
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case Collecting, Closing, Extracting, Auditing, Review, Submitted:
		return true
	}
	return false
}

// Closed reports whether the dialogue is over for this phase.
func (p Phase) Closed() bool {
	switch p {
	case Extracting, Auditing, Review, Submitted:
		return true
	}
	return false
}
