// Package scenario captures real dossier histories as reusable templates
// and replays them as freshly-identified message sequences against any
// endpoint. Templates are context-free: they carry no reference to the
// dossier they were captured from.
package scenario

import (
	"time"

	"github.com/google/uuid"
)

// Protocols a template renders to.
const (
	ProtocolHL7  = "hl7"
	ProtocolFHIR = "fhir"
)

// Template is an ordered, semantic, context-free event sequence.
type Template struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Key         string    `db:"key" json:"key"`
	Name        string    `db:"name" json:"name"`
	Protocol    string    `db:"protocol" json:"protocol"`
	Description string    `db:"description" json:"description,omitempty"`
	Category    string    `db:"category" json:"category,omitempty"`
	Tags        []string  `db:"tags" json:"tags,omitempty"`
	// TimeConfig is the template's default time plan; a replay request
	// carrying its own plan wins.
	TimeConfig *Timeplan `db:"time_config" json:"time_config,omitempty"`
	// CapturedStart anchors the snapshot timeline for the "none" time plan.
	CapturedStart time.Time `db:"captured_start" json:"captured_start"`
	Steps         []Step    `db:"-" json:"steps"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Step is one semantic event of a template with its payload hints.
type Step struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TemplateID uuid.UUID `db:"template_id" json:"template_id"`
	Sequence   int       `db:"sequence" json:"sequence"`
	Semantic   string    `db:"semantic" json:"semantic"`
	Trigger    string    `db:"trigger_code" json:"trigger_code"`
	Role       string    `db:"role" json:"role"`
	// DelaySeconds is the interval from the previous step (0 for the first).
	DelaySeconds int64 `db:"delay_seconds" json:"delay_seconds"`

	DossierType    string `db:"dossier_type" json:"dossier_type,omitempty"`
	Location       string `db:"location" json:"location,omitempty"`
	MedicalUFCode  string `db:"medical_uf_code" json:"medical_uf_code,omitempty"`
	MedicalUFLabel string `db:"medical_uf_label" json:"medical_uf_label,omitempty"`
	CareUFCode     string `db:"care_uf_code" json:"care_uf_code,omitempty"`
	CareUFLabel    string `db:"care_uf_label" json:"care_uf_label,omitempty"`
	Nature         string `db:"nature" json:"nature,omitempty"`
	Action         string `db:"action" json:"action,omitempty"`
	// Payload is the plain-text reference snapshot of the source movement.
	Payload string `db:"payload" json:"payload,omitempty"`
}

// RunStatus aggregates the step outcomes of one replay.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunPartial   RunStatus = "partial"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// StepStatus of one replayed step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// Run is one replay of a template against an endpoint.
type Run struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	TemplateKey string     `db:"template_key" json:"template_key"`
	EndpointID  *uuid.UUID `db:"endpoint_id" json:"endpoint_id,omitempty"`
	Status      RunStatus  `db:"status" json:"status"`
	DryRun      bool       `db:"dry_run" json:"dry_run"`
	StopOnError bool       `db:"stop_on_error" json:"stop_on_error"`

	// Identifiers minted for the whole run.
	IPP string `db:"ipp" json:"ipp"`
	NDA string `db:"nda" json:"nda"`
	VN  string `db:"vn" json:"vn"`

	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Steps      []*RunStep `db:"-" json:"steps"`
}

// RunStep records the outcome of one materialized step.
type RunStep struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RunID       uuid.UUID  `db:"run_id" json:"run_id"`
	Sequence    int        `db:"sequence" json:"sequence"`
	Trigger     string     `db:"trigger_code" json:"trigger_code"`
	ControlID   string     `db:"control_id" json:"control_id"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	Status      StepStatus `db:"status" json:"status"`
	// ErrorKind is the taxonomy code of a failed step.
	ErrorKind string `db:"error_kind" json:"error_kind,omitempty"`
	Message   string `db:"message" json:"message,omitempty"`
}

// Duration of a finished run, zero while running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
