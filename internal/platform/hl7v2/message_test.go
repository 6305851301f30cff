package hl7v2

import (
	"strings"
	"testing"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// testA01 is a minimal PAM admission used across codec tests.
var testA01 = "MSH|^~\\&|SendApp|SendFac|RecvApp|RecvFac|20240115120000||ADT^A01^ADT_A01|CTL001|P|2.5\r" +
	"EVN|A01|20240115120000\r" +
	"PID|||IPP-42^^^HOSP^PI||DOE^JOHN||19800115|M|||||||||||NDA-7^^^HOSP^AN\r" +
	"PV1||I|CARD^101^1|||||||||||||||||VN-9^^^HOSP^VN\r" +
	"ZBE|MVT-1|20240115120000||INSERT|N||CARDIOLOGIE^^^^^^^^^UF-CARD||S"

func TestParse_MSHHeader(t *testing.T) {
	msg, err := Parse([]byte(testA01))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != "ADT^A01^ADT_A01" {
		t.Errorf("type: got %q", msg.Type)
	}
	if msg.Trigger != "A01" {
		t.Errorf("trigger: got %q", msg.Trigger)
	}
	if msg.ControlID != "CTL001" {
		t.Errorf("control id: got %q", msg.ControlID)
	}
	if msg.SendingApp != "SendApp" || msg.ReceivingFac != "RecvFac" {
		t.Errorf("endpoints: got %q / %q", msg.SendingApp, msg.ReceivingFac)
	}
	if msg.Version != "2.5" {
		t.Errorf("version: got %q", msg.Version)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected MSH-7 timestamp to be parsed")
	}
}

func TestParse_ComponentsAndSubcomponents(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20240101||ADT^A01|X|P|2.5\rPID|||ID1^^^AUTH&1.2.3&ISO^PI"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pid := msg.GetSegment("PID")
	if got := pid.GetComponent(3, 1); got != "ID1" {
		t.Errorf("PID-3.1: got %q", got)
	}
	if got := pid.GetComponent(3, 4); got != "AUTH&1.2.3&ISO" {
		t.Errorf("PID-3.4: got %q", got)
	}
	if got := pid.GetSubcomponent(3, 4, 2); got != "1.2.3" {
		t.Errorf("PID-3.4.2: got %q", got)
	}
}

func TestParse_Repetitions(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20240101||ADT^A01|X|P|2.5\rPID|||IPP1^^^HOSP^PI~INS1^^^INSEE^INS"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pid := msg.GetSegment("PID")
	if n := pid.NumRepeats(3); n != 2 {
		t.Fatalf("PID-3 repeats: got %d", n)
	}
	if got := pid.GetRepeatComponent(3, 2, 1); got != "INS1" {
		t.Errorf("PID-3[2].1: got %q", got)
	}
	if got := pid.GetRepeatComponent(3, 2, 5); got != "INS" {
		t.Errorf("PID-3[2].5: got %q", got)
	}
}

func TestParse_AlternateDelimiters(t *testing.T) {
	// Field separator # and component separator $, declared in MSH-1/2.
	raw := "MSH#$~\\&#App#Fac#RApp#RFac#20240101##ADT$A01#C9#P#2.5\rPID###ID$$$AUTH$PI"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Trigger != "A01" {
		t.Errorf("trigger: got %q", msg.Trigger)
	}
	pid := msg.GetSegment("PID")
	if got := pid.GetComponent(3, 4); got != "AUTH" {
		t.Errorf("PID-3.4: got %q", got)
	}
}

func TestParse_UnknownSegmentPreserved(t *testing.T) {
	raw := testA01 + "\rZXY|custom|stuff"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	last := msg.Segments[len(msg.Segments)-1]
	if last.Name != "ZXY" {
		t.Fatalf("expected trailing ZXY, got %q", last.Name)
	}
	out := string(Serialize(msg))
	if !strings.Contains(out, "ZXY|custom|stuff") {
		t.Error("unknown segment lost on round-trip")
	}
}

func TestParse_Latin1Fallback(t *testing.T) {
	// 0xE9 is é in Latin-1 and invalid standalone UTF-8.
	raw := []byte("MSH|^~\\&|A|B|C|D|20240101||ADT^A01|X|P|2.5\rPID|||ID||DUR\xc9E^ANA")
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !msg.EncodingFallback {
		t.Error("expected EncodingFallback to be set")
	}
	pid := msg.GetSegment("PID")
	if got := pid.GetComponent(5, 1); got != "DURÉE" {
		t.Errorf("PID-5.1: got %q", got)
	}
}

func TestParse_InvalidMSH(t *testing.T) {
	for _, raw := range []string{"", "PID|||X", "MS"} {
		_, err := Parse([]byte(raw))
		if err == nil {
			t.Errorf("expected error for %q", raw)
			continue
		}
		if diag.CodeOf(err) != diag.InvalidMSH {
			t.Errorf("expected INVALID_MSH for %q, got %v", raw, err)
		}
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	msg, err := Parse([]byte(testA01))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := Serialize(msg)
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again.Segments) != len(msg.Segments) {
		t.Fatalf("segment count changed: %d != %d", len(again.Segments), len(msg.Segments))
	}
	for i := range msg.Segments {
		a := serializeSegment(msg.Segments[i])
		b := serializeSegment(again.Segments[i])
		if a != b {
			t.Errorf("segment %d differs:\n  %s\n  %s", i, a, b)
		}
	}
}

func TestEscapeUnescape(t *testing.T) {
	cases := []string{`DUPONT|SARL`, `A^B~C&D\E`, "plain"}
	for _, c := range cases {
		if got := Unescape(Escape(c)); got != c {
			t.Errorf("round-trip %q: got %q", c, got)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"20240115120000", "2024-01-15T12:00:00"},
		{"202401151200", "2024-01-15T12:00:00"},
		{"20240115", "2024-01-15T00:00:00"},
		{"20240115120000.123+0200", "2024-01-15T12:00:00"},
	}
	for _, c := range cases {
		got, err := ParseTimestamp(c.in)
		if err != nil {
			t.Errorf("%q: %v", c.in, err)
			continue
		}
		if got.Format("2006-01-02T15:04:05") != c.want {
			t.Errorf("%q: got %v", c.in, got)
		}
	}
	if _, err := ParseTimestamp("2024"); err == nil {
		t.Error("expected error for short timestamp")
	}
}
