// Package lifecycle is the single authority on case status transitions.
// Handlers never write Status or PoliceStatus directly; they build a State
// from the locked row, apply an Event, and persist whatever comes back in
// one update. That keeps the two denormalized status fields in lockstep.
package lifecycle

import (
	"fmt"

	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

// Event is something an actor does to a case.
type Event string

const (
	// Citizen submits a draft (or files directly) into the private track.
	EventSubmit Event = "submit"
	// Lawyer accepts a pending private case.
	EventAccept Event = "accept"
	// Payment for the accepted case is confirmed.
	EventPaymentConfirmed Event = "payment_confirmed"
	// Officer registers the FIR.
	EventPoliceApprove Event = "police_approve"
	// Officer logs the complaint as non-cognizable.
	EventPoliceNCR Event = "police_ncr"
	// Officer declines to register an FIR.
	EventPoliceReject Event = "police_reject"
	// Assigned handler (or admin) concludes an active case.
	EventClose Event = "close"
)

// State is the status pair a transition reads and writes. ComplaintType
// selects which track's transitions are legal.
type State struct {
	Status        models.CaseStatus
	PoliceStatus  models.PoliceStatus
	ComplaintType models.ComplaintType
}

// TransitionError reports an event applied in a state that does not allow it.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a case in status %q", e.Event, e.From.Status)
}

// PoliceDecided reports whether the officer determination is terminal.
// Terminal determinations are one-way: no later police action may change them.
func PoliceDecided(ps models.PoliceStatus) bool {
	switch ps {
	case models.PoliceStatusApproved, models.PoliceStatusNCR, models.PoliceStatusRejected:
		return true
	}
	return false
}

// CanHireLawyer reports whether the citizen may spawn a private case from
// this record. Only a police-terminated FIR unlocks the action; the FIR row
// itself stays terminal either way.
func CanHireLawyer(s State) bool {
	if s.ComplaintType != models.ComplaintPoliceFIR {
		return false
	}
	return s.Status == models.CaseClosedNCR || s.Status == models.CaseRejectedByPolice
}

// Apply returns the state after ev, or a *TransitionError if ev is not legal
// from s. It never mutates s.
func Apply(s State, ev Event) (State, error) {
	next := s

	switch ev {
	case EventSubmit:
		if s.ComplaintType != models.ComplaintPrivateLegal || s.Status != models.CaseDraft {
			return s, &TransitionError{From: s, Event: ev}
		}
		next.Status = models.CasePendingAcceptance

	case EventAccept:
		if s.ComplaintType != models.ComplaintPrivateLegal || s.Status != models.CasePendingAcceptance {
			return s, &TransitionError{From: s, Event: ev}
		}
		next.Status = models.CasePaymentPending

	case EventPaymentConfirmed:
		if s.ComplaintType != models.ComplaintPrivateLegal || s.Status != models.CasePaymentPending {
			return s, &TransitionError{From: s, Event: ev}
		}
		next.Status = models.CaseActive

	case EventPoliceApprove, EventPoliceNCR, EventPoliceReject:
		if s.ComplaintType != models.ComplaintPoliceFIR ||
			s.Status != models.CaseAwaitingPoliceReview ||
			PoliceDecided(s.PoliceStatus) {
			return s, &TransitionError{From: s, Event: ev}
		}
		switch ev {
		case EventPoliceApprove:
			next.Status = models.CaseActiveInvestigation
			next.PoliceStatus = models.PoliceStatusApproved
		case EventPoliceNCR:
			next.Status = models.CaseClosedNCR
			next.PoliceStatus = models.PoliceStatusNCR
		case EventPoliceReject:
			next.Status = models.CaseRejectedByPolice
			next.PoliceStatus = models.PoliceStatusRejected
		}

	case EventClose:
		if s.Status != models.CaseActive && s.Status != models.CaseActiveInvestigation {
			return s, &TransitionError{From: s, Event: ev}
		}
		next.Status = models.CaseClosed

	default:
		return s, &TransitionError{From: s, Event: ev}
	}

	return next, nil
}
