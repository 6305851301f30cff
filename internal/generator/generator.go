// Package generator materializes canonical entities into wire messages:
// HL7 v2.5 ADT with the ZBE extension, and FHIR R4 transaction bundles.
// Per-endpoint identifier overrides are applied here and nowhere else.
package generator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/dossier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/identifier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/patient"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/vocabulary"
)

// EndpointInfo is the subset of endpoint configuration the generator
// needs: addressing and the forced identifier authority.
type EndpointInfo struct {
	SendingApp   string
	SendingFac   string
	ReceivingApp string
	ReceivingFac string
	// ForcedIdentifierOID wins over ForcedIdentifierSystem; both empty
	// means the namespace's own authority is used.
	ForcedIdentifierSystem string
	ForcedIdentifierOID    string
}

// identifierOverride returns the assigning authority forced by the
// endpoint, or "".
func (e EndpointInfo) identifierOverride() string {
	if e.ForcedIdentifierOID != "" {
		return e.ForcedIdentifierOID
	}
	return e.ForcedIdentifierSystem
}

// BoundIdentifier is a value with the namespace it was allocated from.
type BoundIdentifier struct {
	Value     string
	Namespace *identifier.Namespace
}

// CX renders the HL7 composite, applying the endpoint override.
func (b BoundIdentifier) CX(override string) string {
	if b.Value == "" || b.Namespace == nil {
		return b.Value
	}
	return identifier.FormatCX(b.Value, b.Namespace, override)
}

// system returns the FHIR identifier.system, applying the override.
func (b BoundIdentifier) system(override string) string {
	if override != "" {
		return override
	}
	if b.Namespace == nil {
		return ""
	}
	return b.Namespace.AssigningAuthority()
}

// Input is one canonical event snapshot to render.
type Input struct {
	Trigger   string
	ControlID string // fresh UUID-derived when empty
	Timestamp time.Time
	EventTime time.Time
	Endpoint  EndpointInfo

	Patient *patient.Patient
	IPP     BoundIdentifier
	NDA     BoundIdentifier
	VN      BoundIdentifier
	MVTID   string

	DossierType dossier.Type
	VenueStatus dossier.VenueStatus
	VenueStart  time.Time
	VenueEnd    *time.Time
	Location    dossier.Location
	// PriorLocation feeds PV1-6 on transfers.
	PriorLocation dossier.Location

	Action          string
	Historic        bool
	OriginalTrigger string
	MedicalUFCode   string
	MedicalUFLabel  string
	CareUFCode      string
	CareUFLabel     string
	Nature          string

	// MergedIPP is the absorbed patient's IPP, carried in MRG-1 on A40.
	MergedIPP BoundIdentifier
}

// isLifecycle reports whether the trigger is patient-level only.
func (in *Input) isLifecycle() bool {
	e, ok := vocabulary.Default().ByTrigger(in.Trigger)
	return ok && e.Role == vocabulary.RoleLifecycle
}

type Generator struct {
	zbeExtensionURL string
	log             zerolog.Logger
}

func New(zbeExtensionURL string, log zerolog.Logger) *Generator {
	return &Generator{
		zbeExtensionURL: zbeExtensionURL,
		log:             log.With().Str("component", "generator").Logger(),
	}
}

// NewControlID derives a wire-safe control id from a fresh UUID.
func NewControlID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:20]
}
