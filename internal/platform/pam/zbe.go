package pam

import (
	"strings"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/vocabulary"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// ZBE is the parsed French national movement segment.
type ZBE struct {
	MVTID     string
	EventTime time.Time
	Action    string // INSERT, UPDATE, CANCEL
	Historic  bool
	// OriginalTrigger is the trigger of the movement an UPDATE/CANCEL
	// refers to.
	OriginalTrigger string
	MedicalUFCode   string
	MedicalUFLabel  string
	CareUFCode      string
	CareUFLabel     string
	Nature          string
}

var zbeActions = map[string]bool{"INSERT": true, "UPDATE": true, "CANCEL": true}

// ParseZBE reads the ZBE segment applying the PAM FR fallback rules.
// Field-level findings are appended to the returned diagnostics; the
// segment is still returned when only warnings occurred. strict upgrades
// a missing ZBE-6 on UPDATE/CANCEL to an error.
func ParseZBE(msg *hl7v2.Message, strict bool) (*ZBE, diag.Diagnostics) {
	var ds diag.Diagnostics
	seg := msg.GetSegment("ZBE")
	if seg == nil {
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE1Missing, Severity: diag.SeverityError,
			Segment: "ZBE", Field: 1,
			Text: "ZBE segment is missing",
		})
		return nil, ds
	}

	z := &ZBE{}

	// ZBE-1: movement id, first repetition, CX value component.
	z.MVTID = seg.GetRepeatComponent(1, 1, 1)
	if z.MVTID == "" {
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE1Missing, Severity: diag.SeverityError,
			Segment: "ZBE", Field: 1,
			Text: "at least one movement identifier is required",
		})
	}

	// ZBE-2: event timestamp.
	if ts, err := hl7v2.ParseTimestamp(seg.GetField(2)); err == nil {
		z.EventTime = ts
	} else {
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE2Missing, Severity: diag.SeverityError,
			Segment: "ZBE", Field: 2,
			Text: "event timestamp is missing or malformed",
		})
	}

	// ZBE-4: action, defaulting to INSERT.
	z.Action = strings.ToUpper(strings.TrimSpace(seg.GetField(4)))
	if !zbeActions[z.Action] {
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE4ActionInvalid, Severity: diag.SeverityWarning,
			Segment: "ZBE", Field: 4,
			Text: "action " + quote(seg.GetField(4)) + " is not INSERT/UPDATE/CANCEL, INSERT assumed",
		})
		z.Action = "INSERT"
	}

	// ZBE-5: historic flag, defaulting to N.
	switch strings.ToUpper(strings.TrimSpace(seg.GetField(5))) {
	case "Y":
		z.Historic = true
	case "N":
		z.Historic = false
	default:
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE5Missing, Severity: diag.SeverityWarning,
			Segment: "ZBE", Field: 5,
			Text: "historic flag is missing, N assumed",
		})
	}

	// ZBE-6: original trigger, required on UPDATE/CANCEL, falling back
	// to the message trigger.
	z.OriginalTrigger = strings.ToUpper(strings.TrimSpace(seg.GetField(6)))
	if z.OriginalTrigger == "" && (z.Action == "UPDATE" || z.Action == "CANCEL") {
		sev := diag.SeverityWarning
		if strict {
			sev = diag.SeverityError
		}
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE6Required, Severity: sev,
			Segment: "ZBE", Field: 6,
			Text: "original trigger is required for action " + z.Action + ", message trigger assumed",
		})
		z.OriginalTrigger = msg.Trigger
	}

	// ZBE-7: medical UF as XON, code in component 10, label in 1.
	z.MedicalUFCode = seg.GetComponent(7, 10)
	z.MedicalUFLabel = seg.GetComponent(7, 1)
	if z.MedicalUFCode == "" {
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE7CodeMissing, Severity: diag.SeverityError,
			Segment: "ZBE", Field: 7,
			Text: "medical functional unit code (XON component 10) is required",
		})
	}

	// ZBE-8: care UF, optional, absence noted.
	z.CareUFCode = seg.GetComponent(8, 10)
	z.CareUFLabel = seg.GetComponent(8, 1)
	if z.CareUFCode == "" {
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE8Missing, Severity: diag.SeverityWarning,
			Segment: "ZBE", Field: 8,
			Text: "care functional unit is absent",
		})
	}

	// ZBE-9: nature, falling back to the trigger default.
	nature := strings.ToUpper(strings.TrimSpace(seg.GetField(9)))
	if nature != "" && !vocabulary.ValidNatures[nature] {
		ds = append(ds, diag.Diagnostic{
			Code: diag.ZBE9Invalid, Severity: diag.SeverityWarning,
			Segment: "ZBE", Field: 9,
			Text: "nature " + quote(nature) + " is not in {S,H,M,L,D,SM}, trigger default assumed",
		})
		nature = ""
	}
	z.Nature = vocabulary.Default().DeriveNature(msg.Trigger, nature)

	return z, ds
}

func quote(s string) string { return "\"" + s + "\"" }
