// Package messagelog records every inbound and outbound wire message
// with its correlation id, status and diagnostics. The log is
// append-only: an entry's status moves pending→success|error exactly
// once.
package messagelog

import (
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// Direction of a wire message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status of an entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one recorded wire event.
type Entry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ControlID  string    `db:"control_id" json:"control_id"`
	Trigger    string    `db:"trigger_code" json:"trigger_code"`
	Direction  Direction `db:"direction" json:"direction"`
	// CorrelationID pairs a request with its ACK: it is the inbound
	// control id on both sides of the exchange.
	CorrelationID string           `db:"correlation_id" json:"correlation_id"`
	Raw           []byte           `db:"raw" json:"raw"`
	Timestamp     time.Time        `db:"ts" json:"ts"`
	Status        Status           `db:"status" json:"status"`
	Diagnostics   diag.Diagnostics `db:"diagnostics" json:"diagnostics,omitempty"`
	EndpointID    *uuid.UUID       `db:"endpoint_id" json:"endpoint_id,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}
