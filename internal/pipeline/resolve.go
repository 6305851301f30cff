package pipeline

import (
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/patient"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// cxTypeToInternal maps the CX identifier type code (component 5) onto
// the canonical identifier type tags.
func cxTypeToInternal(code string) string {
	switch code {
	case "PI", "":
		return "IPP"
	case "AN":
		return "NDA"
	case "VN":
		return "VN"
	default:
		return code
	}
}

// readPatientIdentifiers extracts every PID-3 repetition as a wire
// identifier. The first repetition is taken as the primary.
func readPatientIdentifiers(msg *hl7v2.Message) []patient.WireIdentifier {
	pid := msg.GetSegment("PID")
	if pid == nil {
		return nil
	}
	var out []patient.WireIdentifier
	for r := 1; r <= pid.NumRepeats(3); r++ {
		value := pid.GetRepeatComponent(3, r, 1)
		if value == "" {
			continue
		}
		out = append(out, patient.WireIdentifier{
			Type:    cxTypeToInternal(pid.GetRepeatComponent(3, r, 5)),
			System:  pid.GetRepeatComponent(3, r, 4),
			Value:   value,
			Primary: len(out) == 0,
		})
	}
	return out
}

// readMRGIdentifier extracts the absorbed patient's identifier from MRG-1.
func readMRGIdentifier(msg *hl7v2.Message) patient.WireIdentifier {
	mrg := msg.GetSegment("MRG")
	if mrg == nil {
		return patient.WireIdentifier{}
	}
	return patient.WireIdentifier{
		Type:   cxTypeToInternal(mrg.GetComponent(1, 5)),
		System: mrg.GetComponent(1, 4),
		Value:  mrg.GetComponent(1, 1),
	}
}

// readCX returns the assigning authority and value of a CX field.
func readCX(seg *hl7v2.Segment, field int) (system, value string) {
	if seg == nil {
		return "", ""
	}
	return seg.GetComponent(field, 4), seg.GetComponent(field, 1)
}

// readDemographics maps the PID identity fields. Missing fields stay
// zero so updates keep the stored values.
func readDemographics(msg *hl7v2.Message) patient.Demographics {
	demo := patient.Demographics{}
	pid := msg.GetSegment("PID")
	if pid == nil {
		return demo
	}

	demo.FamilyName = hl7v2.Unescape(pid.GetComponent(5, 1))
	for _, c := range []int{2, 3} {
		if g := hl7v2.Unescape(pid.GetComponent(5, c)); g != "" {
			demo.GivenNames = append(demo.GivenNames, g)
		}
	}
	if bd, err := hl7v2.ParseTimestamp(pid.GetField(7)); err == nil {
		demo.BirthDate = &bd
	}
	demo.Sex = patient.SexFromHL7(pid.GetField(8))
	demo.BirthPlace = hl7v2.Unescape(pid.GetField(23))
	return demo
}
