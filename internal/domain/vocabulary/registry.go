// Package vocabulary maps semantic event codes to HL7 trigger codes and
// ZBE movement natures. The registry is built once at startup and is
// read-mostly afterwards.
package vocabulary

import (
	"strings"
	"sync"
)

// MessageRole classifies what a semantic event does to the stay.
type MessageRole string

const (
	RoleLifecycle MessageRole = "lifecycle"
	RoleAdmission MessageRole = "admission"
	RoleTransfer  MessageRole = "transfer"
	RoleDischarge MessageRole = "discharge"
	RoleUpdate    MessageRole = "update"
)

// Semantic event codes.
const (
	EventPreAdmission       = "PRE_ADMISSION"
	EventAdmissionConfirmed = "ADMISSION_CONFIRMED"
	EventOutpatientVisit    = "OUTPATIENT_VISIT"
	EventTransfer           = "TRANSFER"
	EventLeaveStart         = "LEAVE_START"
	EventLeaveReturn        = "LEAVE_RETURN"
	EventDischarge          = "DISCHARGE"
	EventTypeChangeIn       = "TYPE_CHANGE_TO_INPATIENT"
	EventTypeChangeOut      = "TYPE_CHANGE_TO_OUTPATIENT"
	EventDemographicUpdate  = "DEMOGRAPHIC_UPDATE"
	EventCancelAdmit        = "CANCEL_ADMIT"
	EventCancelTransfer     = "CANCEL_TRANSFER"
	EventCancelDischarge    = "CANCEL_DISCHARGE"
	EventPatientCreate      = "PATIENT_CREATE"
	EventPatientUpdate      = "PATIENT_UPDATE"
	EventPatientMerge       = "PATIENT_MERGE"
)

// ValidNatures is the legal ZBE-9 set.
var ValidNatures = map[string]bool{
	"S": true, "H": true, "M": true, "L": true, "D": true, "SM": true,
}

// Entry binds one semantic event to its wire trigger.
type Entry struct {
	Semantic      string
	Trigger       string // e.g. "A01"
	Role          MessageRole
	DefaultNature string // "" = lifecycle, no nature
}

var entries = []Entry{
	{EventPreAdmission, "A05", RoleAdmission, "S"},
	{EventAdmissionConfirmed, "A01", RoleAdmission, "S"},
	{EventOutpatientVisit, "A04", RoleAdmission, "S"},
	{EventTransfer, "A02", RoleTransfer, "M"},
	{EventLeaveStart, "A21", RoleTransfer, "L"},
	{EventLeaveReturn, "A22", RoleTransfer, "L"},
	{EventDischarge, "A03", RoleDischarge, "D"},
	{EventTypeChangeIn, "A06", RoleUpdate, "M"},
	{EventTypeChangeOut, "A07", RoleUpdate, "M"},
	{EventDemographicUpdate, "A08", RoleUpdate, ""},
	{EventCancelAdmit, "A11", RoleUpdate, "S"},
	{EventCancelTransfer, "A12", RoleUpdate, "M"},
	{EventCancelDischarge, "A13", RoleUpdate, "S"},
	{EventPatientCreate, "A28", RoleLifecycle, ""},
	{EventPatientUpdate, "A31", RoleLifecycle, ""},
	{EventPatientMerge, "A40", RoleLifecycle, ""},
}

// Registry resolves both directions of the semantic/trigger mapping.
type Registry struct {
	bySemantic map[string]Entry
	byTrigger  map[string]Entry
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, built on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
	})
	return defaultReg
}

func New() *Registry {
	r := &Registry{
		bySemantic: make(map[string]Entry, len(entries)),
		byTrigger:  make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		r.bySemantic[e.Semantic] = e
		r.byTrigger[e.Trigger] = e
	}
	return r
}

// BySemantic resolves a semantic event code.
func (r *Registry) BySemantic(code string) (Entry, bool) {
	e, ok := r.bySemantic[strings.ToUpper(strings.TrimSpace(code))]
	return e, ok
}

// ByTrigger resolves a bare trigger code ("A01") or a full message type
// ("ADT^A01").
func (r *Registry) ByTrigger(trigger string) (Entry, bool) {
	t := strings.ToUpper(strings.TrimSpace(trigger))
	if i := strings.LastIndexByte(t, '^'); i >= 0 {
		t = t[i+1:]
	}
	e, ok := r.byTrigger[t]
	return e, ok
}

// DeriveNature picks the nature for a movement: an explicit legal value
// wins, otherwise the trigger default applies. Returns "" for lifecycle
// triggers that carry no nature.
func (r *Registry) DeriveNature(trigger, explicit string) string {
	if v := strings.ToUpper(strings.TrimSpace(explicit)); ValidNatures[v] {
		return v
	}
	if e, ok := r.ByTrigger(trigger); ok {
		return e.DefaultNature
	}
	return ""
}

// WireType renders the full MSH-9 value for a trigger, e.g. "ADT^A01".
func WireType(trigger string) string {
	return "ADT^" + trigger
}
