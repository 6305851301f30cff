package pam

import (
	"strings"
	"testing"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

func buildMessage(t *testing.T, segments ...string) *hl7v2.Message {
	t.Helper()
	msg, err := hl7v2.Parse([]byte(strings.Join(segments, "\r") + "\r"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return msg
}

// pv1Segment lays out PV1 positionally so the visit number always lands
// in PV1-19.
func pv1Segment(class, location, prior, vn string) string {
	f := make([]string, 20)
	f[0] = "PV1"
	f[1] = "1"
	f[2] = class
	f[3] = location
	f[6] = prior
	f[19] = vn
	return strings.Join(f, "|")
}

func validA01(t *testing.T) *hl7v2.Message {
	return buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A01|CTL001|P|2.5",
		"EVN|A01|20240101100000",
		"PID|1||IPP-42^^^HOSP^PI||DOE^JOHN||19800115|M||||||||||NDA-7^^^HOSP^AN",
		pv1Segment("I", "CARD^101^1", "", "VN-9^^^HOSP^VN"),
		"ZBE|MVT-1|20240101100000||INSERT|N||CARDIOLOGIE^^^^^^^^^UF-CARD|SOINS^^^^^^^^^UF-SOINS|S",
	)
}

func hasCode(ds diag.Diagnostics, code diag.Code) bool {
	for _, d := range ds {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestValidate_CleanA01(t *testing.T) {
	res := Validate(validA01(t), Options{})
	if res.Diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", res.Diags.Errors())
	}
	if res.ZBE == nil {
		t.Fatal("expected a parsed ZBE")
	}
	if res.ZBE.MVTID != "MVT-1" || res.ZBE.Action != "INSERT" || res.ZBE.Nature != "S" {
		t.Errorf("ZBE = %+v", res.ZBE)
	}
	if res.ZBE.MedicalUFCode != "UF-CARD" || res.ZBE.MedicalUFLabel != "CARDIOLOGIE" {
		t.Errorf("medical UF = %q/%q", res.ZBE.MedicalUFCode, res.ZBE.MedicalUFLabel)
	}
	if res.ZBE.CareUFCode != "UF-SOINS" {
		t.Errorf("care UF = %q", res.ZBE.CareUFCode)
	}
}

func TestValidate_MissingMandatoryFields(t *testing.T) {
	msg := buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A01|CTL002|P|2.5",
		"EVN|A01|20240101100000",
		"PID|1||IPP-42^^^HOSP^PI||||", // no name, no birth date, no sex
		"PV1|1|I|CARD^101^1",          // no visit number
		"ZBE|MVT-1|20240101100000||INSERT|N||CARDIOLOGIE^^^^^^^^^UF-CARD||S",
	)
	res := Validate(msg, Options{})
	if !res.Diags.HasErrors() {
		t.Fatal("expected errors")
	}
	if !hasCode(res.Diags.Errors(), diag.MissingRequiredField) {
		t.Errorf("diags = %v", res.Diags)
	}
}

func TestValidate_UnknownTrigger(t *testing.T) {
	msg := buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A99|CTL003|P|2.5",
	)
	res := Validate(msg, Options{})
	if !hasCode(res.Diags, diag.InvalidTrigger) {
		t.Fatalf("diags = %v, want INVALID_TRIGGER", res.Diags)
	}
}

func TestValidate_StrictModeRejectsA08(t *testing.T) {
	msg := buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A08|CTL004|P|2.5",
		"EVN|A08|20240101100000",
		"PID|1||IPP-42^^^HOSP^PI||DOE^JOHN||19800115|M",
	)

	res := Validate(msg, Options{Strict: true})
	if !res.Diags.HasErrors() {
		t.Fatal("strict mode must reject A08")
	}
	found := false
	for _, d := range res.Diags {
		if d.Text == "strict PAM FR forbids A08" {
			found = true
		}
	}
	if !found {
		t.Errorf("diags = %v, want the strict A08 diagnostic", res.Diags)
	}

	// Without strict mode the same message passes.
	res = Validate(msg, Options{})
	if res.Diags.HasErrors() {
		t.Errorf("non-strict A08 errors: %v", res.Diags.Errors())
	}
}

func TestParseZBE_Fallbacks(t *testing.T) {
	msg := buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A02|CTL005|P|2.5",
		"ZBE|MVT-2|20240101120000||BOGUS|maybe||CARDIOLOGIE^^^^^^^^^UF-CARD||ZZ",
	)
	z, ds := ParseZBE(msg, false)
	if z == nil {
		t.Fatal("expected a parsed ZBE")
	}
	if z.Action != "INSERT" {
		t.Errorf("action = %q, want INSERT fallback", z.Action)
	}
	if z.Historic {
		t.Error("historic must default to false")
	}
	if z.Nature != "M" {
		t.Errorf("nature = %q, want A02 default M", z.Nature)
	}
	for _, code := range []diag.Code{diag.ZBE4ActionInvalid, diag.ZBE5Missing, diag.ZBE9Invalid} {
		if !hasCode(ds, code) {
			t.Errorf("missing diagnostic %s in %v", code, ds)
		}
	}
	if ds.HasErrors() {
		t.Errorf("fallbacks must stay warnings: %v", ds.Errors())
	}
}

func TestParseZBE_OriginalTriggerRequired(t *testing.T) {
	msg := buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A11|CTL006|P|2.5",
		"ZBE|MVT-3|20240101130000||CANCEL|N||CARDIOLOGIE^^^^^^^^^UF-CARD||S",
	)

	z, ds := ParseZBE(msg, false)
	if z.OriginalTrigger != "A11" {
		t.Errorf("original trigger = %q, want message trigger fallback", z.OriginalTrigger)
	}
	if !hasCode(ds, diag.ZBE6Required) || ds.HasErrors() {
		t.Errorf("non-strict: diags = %v, want ZBE6_REQUIRED warning", ds)
	}

	_, ds = ParseZBE(msg, true)
	if !ds.HasErrors() || !hasCode(ds.Errors(), diag.ZBE6Required) {
		t.Errorf("strict: diags = %v, want ZBE6_REQUIRED error", ds)
	}
}

func TestParseZBE_MissingSegmentAndCode(t *testing.T) {
	msg := buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A01|CTL007|P|2.5",
	)
	z, ds := ParseZBE(msg, false)
	if z != nil {
		t.Error("missing segment must yield nil ZBE")
	}
	if !hasCode(ds, diag.ZBE1Missing) {
		t.Errorf("diags = %v", ds)
	}

	msg = buildMessage(t,
		"MSH|^~\\&|SENDAPP|HOSP|BRIDGE|HOSP|20240101100000||ADT^A01|CTL008|P|2.5",
		"ZBE|MVT-1|20240101100000||INSERT|N|||",
	)
	_, ds = ParseZBE(msg, false)
	if !hasCode(ds.Errors(), diag.ZBE7CodeMissing) {
		t.Errorf("diags = %v, want ZBE7_CODE_MISSING error", ds)
	}
}
