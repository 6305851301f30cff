package hl7v2

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// ACK codes per MSA-1.
const (
	ACKAccept = "AA"
	ACKErr    = "AE"
	ACKReject = "AR"
)

// BuildACK creates an ACK for the given inbound message. The sending and
// receiving application/facility are swapped, MSA-2 echoes the original
// control id, MSA-3 carries free text and one ERR segment is appended per
// diagnostic when the code is AE or AR.
func BuildACK(in *Message, code, text string, diags diag.Diagnostics) *Message {
	trigger := in.Trigger
	now := time.Now().UTC()
	controlID := "ACK" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]

	ack := &Message{
		Type:         "ACK^" + trigger,
		Trigger:      trigger,
		ControlID:    controlID,
		Version:      in.Version,
		Timestamp:    now,
		SendingApp:   in.ReceivingApp,
		SendingFac:   in.ReceivingFac,
		ReceivingApp: in.SendingApp,
		ReceivingFac: in.SendingFac,
		Delims:       CanonicalDelimiters,
	}
	if ack.Version == "" {
		ack.Version = "2.5"
	}

	msh := Segment{Name: "MSH"}
	msh.SetField(1, "|")
	msh.SetField(2, `^~\&`)
	msh.SetField(3, ack.SendingApp)
	msh.SetField(4, ack.SendingFac)
	msh.SetField(5, ack.ReceivingApp)
	msh.SetField(6, ack.ReceivingFac)
	msh.SetField(7, FormatTimestamp(now))
	msh.SetField(9, "ACK^"+trigger)
	msh.SetField(10, controlID)
	msh.SetField(11, "P")
	msh.SetField(12, ack.Version)

	msa := Segment{Name: "MSA"}
	msa.SetField(1, code)
	msa.SetField(2, in.ControlID)
	if text != "" {
		msa.SetField(3, Escape(text))
	}

	ack.Segments = []Segment{msh, msa}

	if code != ACKAccept {
		for _, d := range diags {
			err := Segment{Name: "ERR"}
			if d.Segment != "" {
				err.SetField(2, fmt.Sprintf("%s^^%d", d.Segment, d.Field))
			}
			err.SetField(3, string(d.Code))
			err.SetField(4, severityToERR(d.Severity))
			err.SetField(8, Escape(d.Text))
			ack.Segments = append(ack.Segments, err)
		}
	}
	return ack
}

// SynthesizeInbound builds a minimal stand-in Message when the raw bytes
// could not be parsed, so a negative ACK can still be produced. The control
// id is extracted from the raw text when possible, else synthesized.
func SynthesizeInbound(raw []byte) *Message {
	m := &Message{Delims: CanonicalDelimiters, Version: "2.5"}
	text := strings.ReplaceAll(string(raw), "\n", "\r")
	for _, line := range strings.Split(text, "\r") {
		if strings.HasPrefix(line, "MSH") && len(line) > 4 {
			parts := strings.Split(line[4:], string(line[3]))
			if len(parts) > 8 {
				m.ControlID = parts[8]
			}
			if len(parts) > 7 {
				if c := strings.SplitN(parts[7], "^", 3); len(c) >= 2 {
					m.Trigger = c[1]
					m.Type = parts[7]
				}
			}
			break
		}
	}
	if m.ControlID == "" {
		m.ControlID = "UNK" + strings.ReplaceAll(uuid.NewString(), "-", "")[:17]
	}
	return m
}

func severityToERR(s diag.Severity) string {
	switch s {
	case diag.SeverityError:
		return "E"
	case diag.SeverityWarning:
		return "W"
	default:
		return "I"
	}
}
