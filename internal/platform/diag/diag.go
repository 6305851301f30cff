// Package diag defines the error taxonomy shared by the codec, validator,
// pipeline and message log. A Code classifies a failure; a Diagnostic is
// one severity-tagged finding attached to a message.
package diag

import "fmt"

// Code identifies a failure or finding class.
type Code string

// Framing / codec.
const (
	FramingError     Code = "FRAMING_ERROR"
	InvalidMSH       Code = "INVALID_MSH"
	EncodingFallback Code = "ENCODING_FALLBACK"
)

// Validation.
const (
	InvalidTrigger       Code = "INVALID_TRIGGER"
	MissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	ZBE1Missing          Code = "ZBE1_MISSING"
	ZBE2Missing          Code = "ZBE2_MISSING"
	ZBE4ActionInvalid    Code = "ZBE4_ACTION_INVALID"
	ZBE5Missing          Code = "ZBE5_MISSING"
	ZBE6Required         Code = "ZBE6_REQUIRED"
	ZBE7CodeMissing      Code = "ZBE7_CODE_MISSING"
	ZBE8Missing          Code = "ZBE8_MISSING"
	ZBE9Invalid          Code = "ZBE9_INVALID"
)

// Resolution.
const (
	UFUnknown          Code = "UF_UNKNOWN"
	PatientNotFound    Code = "PATIENT_NOT_FOUND"
	VenueNotFound      Code = "VENUE_NOT_FOUND"
	StructureAmbiguity Code = "STRUCTURE_AMBIGUITY"
)

// State.
const (
	InvalidTransition      Code = "INVALID_TRANSITION"
	DuplicateControlID     Code = "DUPLICATE_CONTROL_ID"
	ConcurrentModification Code = "CONCURRENT_MODIFICATION"
)

// Identifier.
const (
	IdentifierCollision     Code = "IDENTIFIER_COLLISION"
	IdentifierPoolExhausted Code = "IDENTIFIER_POOL_EXHAUSTED"
	INSFormatInvalid        Code = "INS_FORMAT_INVALID"
)

// Transport.
const (
	ConnectionRefused Code = "CONNECTION_REFUSED"
	ConnectionReset   Code = "CONNECTION_RESET"
	ReadTimeout       Code = "READ_TIMEOUT"
	ACKRejected       Code = "ACK_REJECTED"
	ACKError          Code = "ACK_ERROR"
	HTTPError         Code = "HTTP_ERROR"
)

// Scenario.
const (
	TemplateNotFound   Code = "TEMPLATE_NOT_FOUND"
	CaptureEmptyFolder Code = "CAPTURE_EMPTY_DOSSIER"
	RunCancelled       Code = "RUN_CANCELLED"
)

// Internal tags failures that are ours, not the sender's.
const Internal Code = "INTERNAL_ERROR"

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one finding produced while validating or applying a message.
type Diagnostic struct {
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
	Segment  string   `json:"segment,omitempty"`
	Field    int      `json:"field,omitempty"`
	Text     string   `json:"text"`
}

func (d Diagnostic) String() string {
	if d.Segment != "" && d.Field > 0 {
		return fmt.Sprintf("[%s] %s %s-%d: %s", d.Severity, d.Code, d.Segment, d.Field, d.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Code, d.Text)
}

// Diagnostics is an ordered collection of findings.
type Diagnostics []Diagnostic

// HasErrors reports whether any diagnostic is error-severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error-severity subset.
func (ds Diagnostics) Errors() Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Error is a classified bridge error carrying a taxonomy code.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the taxonomy code from err, or "" when unclassified.
func CodeOf(err error) Code {
	for err != nil {
		if be, ok := err.(*Error); ok {
			return be.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
