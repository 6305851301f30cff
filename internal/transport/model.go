// Package transport manages endpoints: the MLLP listeners and senders,
// file drops and FHIR clients the bridge exchanges messages through.
package transport

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/generator"
)

// Kind of an endpoint.
type Kind string

const (
	KindMLLPListener Kind = "mllp-listener"
	KindMLLPSender   Kind = "mllp-sender"
	KindFileInbox    Kind = "file-inbox"
	KindFileOutbox   Kind = "file-outbox"
	KindFHIRClient   Kind = "fhir-client"
)

// Endpoint is one configured exchange point. Only the fields of its kind
// are meaningful: Host/Port for MLLP, Path/Glob for files, URL for FHIR.
type Endpoint struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
	Kind Kind      `db:"kind" json:"kind"`

	Host string `db:"host" json:"host,omitempty"`
	Port int    `db:"port" json:"port,omitempty"`

	Path string `db:"path" json:"path,omitempty"`
	// Glob filters inbox files, default "*.hl7".
	Glob        string `db:"glob" json:"glob,omitempty"`
	PollSeconds int    `db:"poll_seconds" json:"poll_seconds,omitempty"`

	URL            string `db:"url" json:"url,omitempty"`
	TimeoutSeconds int    `db:"timeout_seconds" json:"timeout_seconds,omitempty"`

	// MSH-3..6 addressing stamped on messages generated for this endpoint.
	SendingApp   string `db:"sending_app" json:"sending_app,omitempty"`
	SendingFac   string `db:"sending_fac" json:"sending_fac,omitempty"`
	ReceivingApp string `db:"receiving_app" json:"receiving_app,omitempty"`
	ReceivingFac string `db:"receiving_fac" json:"receiving_fac,omitempty"`

	// ForcedIdentifierOID wins over ForcedIdentifierSystem on outbound
	// rendering; both empty keeps the namespace authority.
	ForcedIdentifierSystem string `db:"forced_identifier_system" json:"forced_identifier_system,omitempty"`
	ForcedIdentifierOID    string `db:"forced_identifier_oid" json:"forced_identifier_oid,omitempty"`

	JuridicalEntityID *uuid.UUID `db:"juridical_entity_id" json:"juridical_entity_id,omitempty"`
	Enabled           bool       `db:"enabled" json:"enabled"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// OutboundInfo maps the stored record onto the generator's addressing
// and identifier-override block.
func (e *Endpoint) OutboundInfo() generator.EndpointInfo {
	return generator.EndpointInfo{
		SendingApp:             e.SendingApp,
		SendingFac:             e.SendingFac,
		ReceivingApp:           e.ReceivingApp,
		ReceivingFac:           e.ReceivingFac,
		ForcedIdentifierSystem: e.ForcedIdentifierSystem,
		ForcedIdentifierOID:    e.ForcedIdentifierOID,
	}
}

// Addr renders the TCP address of an MLLP endpoint.
func (e *Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Timeout returns the configured timeout, defaulted per kind.
func (e *Endpoint) Timeout() time.Duration {
	if e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// PollInterval returns the inbox scan interval, default 5 s.
func (e *Endpoint) PollInterval() time.Duration {
	if e.PollSeconds > 0 {
		return time.Duration(e.PollSeconds) * time.Second
	}
	return 5 * time.Second
}

// FileGlob returns the inbox filename filter, default "*.hl7".
func (e *Endpoint) FileGlob() string {
	if e.Glob != "" {
		return e.Glob
	}
	return "*.hl7"
}
