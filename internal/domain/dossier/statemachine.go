package dossier

import (
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// Effect names what a transition does to the venue beyond the status
// change.
type Effect string

const (
	EffectNone             Effect = ""
	EffectCreateVenue      Effect = "create"             // A05/A01 with no venue
	EffectMoveLocation     Effect = "move"               // A02
	EffectSetEnd           Effect = "set_end"            // A03
	EffectClearEnd         Effect = "clear_end"          // A13
	EffectRollbackLocation Effect = "rollback_location"  // A12
	EffectDossierType      Effect = "dossier_type"       // A06/A07
)

// Decision is the outcome of the transition table for one (status,
// trigger) pair.
type Decision struct {
	NewStatus VenueStatus
	Effect    Effect
	// CancelsTrigger requires the last non-cancelled movement to carry
	// this trigger; the new movement voids it.
	CancelsTrigger string
}

type transitionKey struct {
	status  VenueStatus
	trigger string
}

// transitions is the authoritative table, keyed (current status, trigger).
// A trigger absent for a status is a rejected transition. Patient-level
// triggers (A08, A28, A31, A40) never reach this table.
var transitions = map[transitionKey]Decision{
	{StatusNone, "A05"}:        {NewStatus: StatusPreAdmitted, Effect: EffectCreateVenue},
	{StatusPreAdmitted, "A05"}: {NewStatus: StatusPreAdmitted},

	{StatusNone, "A01"}:        {NewStatus: StatusActive, Effect: EffectCreateVenue},
	{StatusPreAdmitted, "A01"}: {NewStatus: StatusActive},
	{StatusNone, "A04"}:        {NewStatus: StatusActive, Effect: EffectCreateVenue},

	{StatusActive, "A02"}: {NewStatus: StatusActive, Effect: EffectMoveLocation},

	{StatusActive, "A21"}:  {NewStatus: StatusOnLeave},
	{StatusOnLeave, "A22"}: {NewStatus: StatusActive},

	{StatusActive, "A03"}:  {NewStatus: StatusDischarged, Effect: EffectSetEnd},
	{StatusOnLeave, "A03"}: {NewStatus: StatusDischarged, Effect: EffectSetEnd},

	{StatusActive, "A11"}:      {NewStatus: StatusCancelled, CancelsTrigger: "A01"},
	{StatusPreAdmitted, "A11"}: {NewStatus: StatusCancelled, CancelsTrigger: "A05"},
	{StatusActive, "A12"}:      {NewStatus: StatusActive, Effect: EffectRollbackLocation, CancelsTrigger: "A02"},
	{StatusDischarged, "A13"}:  {NewStatus: StatusActive, Effect: EffectClearEnd, CancelsTrigger: "A03"},

	{StatusActive, "A06"}:  {NewStatus: StatusActive, Effect: EffectDossierType},
	{StatusActive, "A07"}:  {NewStatus: StatusActive, Effect: EffectDossierType},
	{StatusOnLeave, "A06"}: {NewStatus: StatusOnLeave, Effect: EffectDossierType},
	{StatusOnLeave, "A07"}: {NewStatus: StatusOnLeave, Effect: EffectDossierType},
}

// Evaluate looks up the transition for a venue status and trigger.
// lastTrigger is the trigger of the last non-cancelled movement; it gates
// cancel transitions. A rejected transition carries INVALID_TRANSITION
// with the from-status, trigger and reason.
func Evaluate(status VenueStatus, trigger, lastTrigger string) (Decision, error) {
	d, ok := transitions[transitionKey{status, trigger}]
	if !ok {
		return Decision{}, diag.New(diag.InvalidTransition,
			"trigger %s not allowed from status %q", trigger, statusLabel(status))
	}
	if d.CancelsTrigger != "" && lastTrigger != d.CancelsTrigger {
		return Decision{}, diag.New(diag.InvalidTransition,
			"trigger %s from status %q requires last movement %s, have %q",
			trigger, statusLabel(status), d.CancelsTrigger, lastTrigger)
	}
	return d, nil
}

func statusLabel(s VenueStatus) string {
	if s == StatusNone {
		return "NONE"
	}
	return string(s)
}
