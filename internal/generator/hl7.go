package generator

import (
	"strings"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// GenerateHL7 renders the canonical snapshot as an HL7 v2.5 ADT message.
// Segment order: MSH, EVN, PID, [MRG], [PV1, ZBE]. Lifecycle triggers
// (A28/A31/A40) carry no venue segments.
func (g *Generator) GenerateHL7(in Input) (*hl7v2.Message, []byte, error) {
	controlID := in.ControlID
	if controlID == "" {
		controlID = NewControlID()
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	eventTime := in.EventTime
	if eventTime.IsZero() {
		eventTime = ts
	}
	override := in.Endpoint.identifierOverride()

	msg := &hl7v2.Message{
		Type:         "ADT^" + in.Trigger,
		Trigger:      in.Trigger,
		ControlID:    controlID,
		Version:      "2.5",
		Timestamp:    ts,
		SendingApp:   in.Endpoint.SendingApp,
		SendingFac:   in.Endpoint.SendingFac,
		ReceivingApp: in.Endpoint.ReceivingApp,
		ReceivingFac: in.Endpoint.ReceivingFac,
		Delims:       hl7v2.CanonicalDelimiters,
	}

	msh := hl7v2.Segment{Name: "MSH"}
	msh.SetField(1, "|")
	msh.SetField(2, `^~\&`)
	msh.SetField(3, in.Endpoint.SendingApp)
	msh.SetField(4, in.Endpoint.SendingFac)
	msh.SetField(5, in.Endpoint.ReceivingApp)
	msh.SetField(6, in.Endpoint.ReceivingFac)
	msh.SetField(7, hl7v2.FormatTimestamp(ts))
	msh.SetField(9, "ADT^"+in.Trigger)
	msh.SetField(10, controlID)
	msh.SetField(11, "P")
	msh.SetField(12, "2.5")
	msg.Segments = append(msg.Segments, msh)

	evn := hl7v2.Segment{Name: "EVN"}
	evn.SetField(1, in.Trigger)
	evn.SetField(2, hl7v2.FormatTimestamp(eventTime))
	msg.Segments = append(msg.Segments, evn)

	msg.Segments = append(msg.Segments, g.buildPID(in, override))

	if in.Trigger == "A40" && in.MergedIPP.Value != "" {
		mrg := hl7v2.Segment{Name: "MRG"}
		mrg.SetField(1, in.MergedIPP.CX(override))
		msg.Segments = append(msg.Segments, mrg)
	}

	if !in.isLifecycle() {
		msg.Segments = append(msg.Segments, g.buildPV1(in, override))
		msg.Segments = append(msg.Segments, g.buildZBE(in, eventTime))
	}

	return msg, hl7v2.Serialize(msg), nil
}

func (g *Generator) buildPID(in Input, override string) hl7v2.Segment {
	pid := hl7v2.Segment{Name: "PID"}
	pid.SetField(1, "1")
	if in.IPP.Value != "" {
		pid.SetField(3, in.IPP.CX(override))
	}
	if p := in.Patient; p != nil {
		name := hl7v2.Escape(p.FamilyName)
		if g := p.GivenName(); g != "" {
			name += "^" + hl7v2.Escape(g)
		}
		pid.SetField(5, name)
		if p.BirthDate != nil {
			pid.SetField(7, p.BirthDate.Format("20060102"))
		}
		pid.SetField(8, p.Sex.HL7())
		if p.BirthPlace != "" {
			pid.SetField(23, hl7v2.Escape(p.BirthPlace))
		}
	}
	if in.NDA.Value != "" {
		pid.SetField(18, in.NDA.CX(override))
	}
	return pid
}

func (g *Generator) buildPV1(in Input, override string) hl7v2.Segment {
	pv1 := hl7v2.Segment{Name: "PV1"}
	pv1.SetField(1, "1")
	pv1.SetField(2, in.DossierType.PV1Class())
	if !in.Location.IsZero() {
		pv1.SetField(3, in.Location.PL())
	}
	if in.Trigger == "A02" && !in.PriorLocation.IsZero() {
		pv1.SetField(6, in.PriorLocation.PL())
	}
	if in.VN.Value != "" {
		pv1.SetField(19, in.VN.CX(override))
	}
	if !in.VenueStart.IsZero() {
		pv1.SetField(44, hl7v2.FormatTimestamp(in.VenueStart))
	}
	if in.VenueEnd != nil {
		pv1.SetField(45, hl7v2.FormatTimestamp(*in.VenueEnd))
	}
	return pv1
}

func (g *Generator) buildZBE(in Input, eventTime time.Time) hl7v2.Segment {
	zbe := hl7v2.Segment{Name: "ZBE"}
	zbe.SetField(1, in.MVTID)
	zbe.SetField(2, hl7v2.FormatTimestamp(eventTime))
	action := in.Action
	if action == "" {
		action = "INSERT"
	}
	zbe.SetField(4, action)
	if in.Historic {
		zbe.SetField(5, "Y")
	} else {
		zbe.SetField(5, "N")
	}
	if action == "UPDATE" || action == "CANCEL" {
		zbe.SetField(6, in.OriginalTrigger)
	}
	zbe.SetField(7, xon(in.MedicalUFLabel, in.MedicalUFCode))
	if in.CareUFCode != "" {
		zbe.SetField(8, xon(in.CareUFLabel, in.CareUFCode))
	}
	zbe.SetField(9, in.Nature)
	return zbe
}

// xon renders the PAM FR XON shape: label in component 1, code in
// component 10.
func xon(label, code string) string {
	if code == "" {
		return hl7v2.Escape(label)
	}
	return hl7v2.Escape(label) + strings.Repeat("^", 9) + code
}
