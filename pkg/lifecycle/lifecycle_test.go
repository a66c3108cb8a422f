package lifecycle

import (
	"errors"
	"testing"

	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

func private(st models.CaseStatus) State {
	return State{Status: st, ComplaintType: models.ComplaintPrivateLegal}
}

func fir(st models.CaseStatus, ps models.PoliceStatus) State {
	return State{Status: st, PoliceStatus: ps, ComplaintType: models.ComplaintPoliceFIR}
}

func Test_PrivateTrack_HappyPath(t *testing.T) {
	s := private(models.CaseDraft)

	steps := []struct {
		ev   Event
		want models.CaseStatus
	}{
		{EventSubmit, models.CasePendingAcceptance},
		{EventAccept, models.CasePaymentPending},
		{EventPaymentConfirmed, models.CaseActive},
		{EventClose, models.CaseClosed},
	}

	for _, step := range steps {
		next, err := Apply(s, step.ev)
		if err != nil {
			t.Fatalf("%s from %q: %v", step.ev, s.Status, err)
		}
		if next.Status != step.want {
			t.Fatalf("%s: want %q, got %q", step.ev, step.want, next.Status)
		}
		if next.PoliceStatus != "" {
			t.Fatalf("%s: private case must never gain a police status, got %q", step.ev, next.PoliceStatus)
		}
		s = next
	}
}

func Test_FIRTrack_DualFieldsMoveTogether(t *testing.T) {
	cases := []struct {
		ev     Event
		status models.CaseStatus
		police models.PoliceStatus
	}{
		{EventPoliceApprove, models.CaseActiveInvestigation, models.PoliceStatusApproved},
		{EventPoliceNCR, models.CaseClosedNCR, models.PoliceStatusNCR},
		{EventPoliceReject, models.CaseRejectedByPolice, models.PoliceStatusRejected},
	}

	for _, tc := range cases {
		next, err := Apply(fir(models.CaseAwaitingPoliceReview, models.PoliceStatusPending), tc.ev)
		if err != nil {
			t.Fatalf("%s: %v", tc.ev, err)
		}
		if next.Status != tc.status || next.PoliceStatus != tc.police {
			t.Fatalf("%s: want (%q,%q), got (%q,%q)", tc.ev, tc.status, tc.police, next.Status, next.PoliceStatus)
		}
	}
}

// A terminal police determination is one-way: every later police event on the
// same record must fail, whatever its direction.
func Test_PoliceDetermination_IsOneWay(t *testing.T) {
	decided := []State{
		fir(models.CaseActiveInvestigation, models.PoliceStatusApproved),
		fir(models.CaseClosedNCR, models.PoliceStatusNCR),
		fir(models.CaseRejectedByPolice, models.PoliceStatusRejected),
	}
	events := []Event{EventPoliceApprove, EventPoliceNCR, EventPoliceReject}

	for _, s := range decided {
		for _, ev := range events {
			next, err := Apply(s, ev)
			var terr *TransitionError
			if !errors.As(err, &terr) {
				t.Fatalf("%s on decided %q: want TransitionError, got %v", ev, s.PoliceStatus, err)
			}
			if next != s {
				t.Fatalf("%s on decided %q: state must be unchanged on error", ev, s.PoliceStatus)
			}
		}
	}
}

func Test_IllegalTransitions_Rejected(t *testing.T) {
	cases := []struct {
		name string
		s    State
		ev   Event
	}{
		{"accept a draft", private(models.CaseDraft), EventAccept},
		{"pay before acceptance", private(models.CasePendingAcceptance), EventPaymentConfirmed},
		{"submit twice", private(models.CasePendingAcceptance), EventSubmit},
		{"close an unpaid case", private(models.CasePaymentPending), EventClose},
		{"lawyer-accept an FIR", fir(models.CaseAwaitingPoliceReview, models.PoliceStatusPending), EventAccept},
		{"police-approve a private case", private(models.CasePendingAcceptance), EventPoliceApprove},
		{"close a rejected FIR", fir(models.CaseRejectedByPolice, models.PoliceStatusRejected), EventClose},
	}

	for _, tc := range cases {
		if _, err := Apply(tc.s, tc.ev); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func Test_ActiveInvestigation_CanClose(t *testing.T) {
	next, err := Apply(fir(models.CaseActiveInvestigation, models.PoliceStatusApproved), EventClose)
	if err != nil {
		t.Fatal(err)
	}
	if next.Status != models.CaseClosed {
		t.Fatalf("want %q, got %q", models.CaseClosed, next.Status)
	}
	// The determination itself stays on the record.
	if next.PoliceStatus != models.PoliceStatusApproved {
		t.Fatalf("police status must survive close, got %q", next.PoliceStatus)
	}
}

func Test_CanHireLawyer(t *testing.T) {
	if !CanHireLawyer(fir(models.CaseClosedNCR, models.PoliceStatusNCR)) {
		t.Error("NCR should unlock hiring a lawyer")
	}
	if !CanHireLawyer(fir(models.CaseRejectedByPolice, models.PoliceStatusRejected)) {
		t.Error("rejection should unlock hiring a lawyer")
	}
	if CanHireLawyer(fir(models.CaseAwaitingPoliceReview, models.PoliceStatusPending)) {
		t.Error("a pending FIR must not unlock hiring a lawyer")
	}
	if CanHireLawyer(private(models.CaseClosed)) {
		t.Error("private cases never unlock the FIR escalation path")
	}
}
