// Package pam validates inbound ADT messages against the IHE PAM FR
// profile: segment-level mandatory fields, cross-segment rules and the
// ZBE national extension.
package pam

import (
	"fmt"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/vocabulary"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// Options steers validation. Strict is the per-juridical-entity PAM FR
// strict mode: it forbids A08 and upgrades a missing ZBE-6 to an error.
type Options struct {
	Strict bool
}

// Result couples the diagnostics with the parsed ZBE (nil when the
// message carries none or parsing failed hard).
type Result struct {
	Diags diag.Diagnostics
	ZBE   *ZBE
}

// Validate runs the PAM FR rule set over a parsed message.
func Validate(msg *hl7v2.Message, opts Options) *Result {
	res := &Result{}

	if msg.EncodingFallback {
		res.add(diag.EncodingFallback, diag.SeverityWarning, "MSH", 0,
			"message was not valid UTF-8, decoded as Latin-1")
	}

	res.Diags = append(res.Diags, validateMSH(msg)...)

	entry, known := vocabulary.Default().ByTrigger(msg.Trigger)
	if !known {
		res.add(diag.InvalidTrigger, diag.SeverityError, "MSH", 9,
			fmt.Sprintf("trigger %q is not a supported PAM event", msg.Trigger))
		return res
	}

	if opts.Strict && msg.Trigger == "A08" {
		res.add(diag.InvalidTrigger, diag.SeverityError, "MSH", 9,
			"strict PAM FR forbids A08")
		return res
	}

	res.Diags = append(res.Diags, validatePID(msg)...)

	if evn := msg.GetSegment("EVN"); evn == nil || evn.GetField(2) == "" {
		res.add(diag.MissingRequiredField, diag.SeverityError, "EVN", 2,
			"event recorded time is required")
	}

	// Venue-level rules only apply to triggers that touch a venue.
	if entry.Role != vocabulary.RoleLifecycle && msg.Trigger != "A08" {
		res.Diags = append(res.Diags, validatePV1(msg)...)

		zbe, ds := ParseZBE(msg, opts.Strict)
		res.Diags = append(res.Diags, ds...)
		res.ZBE = zbe
	}

	return res
}

func (r *Result) add(code diag.Code, sev diag.Severity, segment string, field int, text string) {
	r.Diags = append(r.Diags, diag.Diagnostic{
		Code: code, Severity: sev, Segment: segment, Field: field, Text: text,
	})
}

// mandatory MSH fields per PAM FR.
var mshMandatory = []int{3, 4, 5, 6, 7, 9, 10}

func validateMSH(msg *hl7v2.Message) diag.Diagnostics {
	var ds diag.Diagnostics
	msh := msg.GetSegment("MSH")
	if msh == nil {
		return diag.Diagnostics{{
			Code: diag.InvalidMSH, Severity: diag.SeverityError,
			Segment: "MSH", Text: "MSH segment is missing",
		}}
	}
	for _, f := range mshMandatory {
		if msh.GetField(f) == "" {
			ds = append(ds, diag.Diagnostic{
				Code: diag.MissingRequiredField, Severity: diag.SeverityError,
				Segment: "MSH", Field: f,
				Text: fmt.Sprintf("MSH-%d is required", f),
			})
		}
	}
	return ds
}

var pidMandatory = []int{3, 5, 7, 8}

func validatePID(msg *hl7v2.Message) diag.Diagnostics {
	var ds diag.Diagnostics
	pid := msg.GetSegment("PID")
	if pid == nil {
		return diag.Diagnostics{{
			Code: diag.MissingRequiredField, Severity: diag.SeverityError,
			Segment: "PID", Text: "PID segment is missing",
		}}
	}
	for _, f := range pidMandatory {
		if pid.GetField(f) == "" {
			ds = append(ds, diag.Diagnostic{
				Code: diag.MissingRequiredField, Severity: diag.SeverityError,
				Segment: "PID", Field: f,
				Text: fmt.Sprintf("PID-%d is required", f),
			})
		}
	}
	return ds
}

func validatePV1(msg *hl7v2.Message) diag.Diagnostics {
	var ds diag.Diagnostics
	pv1 := msg.GetSegment("PV1")
	if pv1 == nil {
		return diag.Diagnostics{{
			Code: diag.MissingRequiredField, Severity: diag.SeverityError,
			Segment: "PV1", Text: "PV1 segment is missing",
		}}
	}
	if pv1.GetField(2) == "" {
		ds = append(ds, diag.Diagnostic{
			Code: diag.MissingRequiredField, Severity: diag.SeverityError,
			Segment: "PV1", Field: 2, Text: "patient class is required",
		})
	}
	if pv1.GetField(19) == "" {
		ds = append(ds, diag.Diagnostic{
			Code: diag.MissingRequiredField, Severity: diag.SeverityError,
			Segment: "PV1", Field: 19, Text: "visit number is required",
		})
	}
	// PV1-6 carries the prior location and is mandatory on transfers.
	if msg.Trigger == "A02" && pv1.GetField(6) == "" {
		ds = append(ds, diag.Diagnostic{
			Code: diag.MissingRequiredField, Severity: diag.SeverityWarning,
			Segment: "PV1", Field: 6, Text: "prior location is expected on A02",
		})
	}
	return ds
}
