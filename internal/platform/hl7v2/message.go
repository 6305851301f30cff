// Package hl7v2 implements the HL7 v2.5 wire codec: MLLP framing, message
// parsing with the full delimiter quartet, serialization and ACK building.
package hl7v2

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// Delimiters is the HL7 separator quartet plus the escape character.
// Inbound messages declare theirs in MSH-1/MSH-2; outbound always uses
// the canonical set.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// CanonicalDelimiters is the outbound quartet `|^~\&`.
var CanonicalDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	Subcomponent: '&',
}

// Message is a parsed HL7 v2 message.
type Message struct {
	Type         string    // MSH-9 (e.g. "ADT^A01")
	Trigger      string    // MSH-9.2 (e.g. "A01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Delims       Delimiters
	Segments     []Segment
	// EncodingFallback is set when the raw bytes were not valid UTF-8 and
	// were decoded as Latin-1 instead.
	EncodingFallback bool
}

// Segment is one segment with its 1-based fields. Unknown segment ids are
// kept in declared order.
type Segment struct {
	Name   string
	Fields []Field
}

// Field holds the raw field text and its parsed repetitions.
type Field struct {
	Value   string
	Repeats []Repetition
}

// Repetition is one `~`-separated repetition of a field.
type Repetition struct {
	Value      string
	Components []Component
}

// Component is one `^`-separated component with its `&` subcomponents.
type Component struct {
	Value         string
	Subcomponents []string
}

// Parse decodes raw HL7 bytes into a Message. The delimiter quartet is read
// from MSH-1/MSH-2 of the input. Decoding tries UTF-8 first and falls back
// to Latin-1; it never fails at the decode stage.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, diag.New(diag.InvalidMSH, "message is empty")
	}

	text, fallback := decodeText(raw)

	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, diag.New(diag.InvalidMSH, "no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") || len(lines[0]) < 9 {
		return nil, diag.New(diag.InvalidMSH, "first segment must be a well-formed MSH")
	}

	delims := readDelimiters(lines[0])

	msg := &Message{Delims: delims, EncodingFallback: fallback}
	for _, line := range lines {
		msg.Segments = append(msg.Segments, parseSegment(line, delims))
	}

	if err := msg.extractMSH(); err != nil {
		return nil, err
	}
	return msg, nil
}

// decodeText decodes bytes as UTF-8, or Latin-1 when invalid. The second
// return value reports whether the fallback was taken.
func decodeText(raw []byte) (string, bool) {
	if utf8.Valid(raw) {
		return string(raw), false
	}
	// Latin-1: every byte maps to the code point of the same value.
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes), true
}

// readDelimiters extracts the quartet from an MSH line.
// line[3] is the field separator, line[4:8] the encoding characters.
func readDelimiters(mshLine string) Delimiters {
	d := CanonicalDelimiters
	d.Field = mshLine[3]
	enc := mshLine[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	if len(enc) > 0 {
		d.Component = enc[0]
	}
	if len(enc) > 1 {
		d.Repetition = enc[1]
	}
	if len(enc) > 2 {
		d.Escape = enc[2]
	}
	if len(enc) > 3 {
		d.Subcomponent = enc[3]
	}
	return d
}

func parseSegment(line string, d Delimiters) Segment {
	seg := Segment{}
	sep := string(d.Field)

	if strings.HasPrefix(line, "MSH") {
		seg.Name = "MSH"
		// MSH-1 is the field separator itself; MSH-2 the encoding chars.
		// Neither is subject to component splitting.
		seg.Fields = append(seg.Fields, rawField(sep))
		rest := line[4:]
		parts := strings.Split(rest, sep)
		if len(parts) > 0 {
			seg.Fields = append(seg.Fields, rawField(parts[0]))
			for _, p := range parts[1:] {
				seg.Fields = append(seg.Fields, parseField(p, d))
			}
		}
		return seg
	}

	parts := strings.SplitN(line, sep, 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, p := range strings.Split(parts[1], sep) {
			seg.Fields = append(seg.Fields, parseField(p, d))
		}
	}
	return seg
}

// rawField wraps a literal value with no further splitting (MSH-1/MSH-2).
func rawField(v string) Field {
	return Field{Value: v, Repeats: []Repetition{{Value: v, Components: []Component{{Value: v, Subcomponents: []string{v}}}}}}
}

func parseField(raw string, d Delimiters) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(d.Repetition)) {
		r := Repetition{Value: rep}
		for _, comp := range strings.Split(rep, string(d.Component)) {
			c := Component{Value: comp, Subcomponents: strings.Split(comp, string(d.Subcomponent))}
			r.Components = append(r.Components, c)
		}
		f.Repeats = append(f.Repeats, r)
	}
	return f
}

func (m *Message) extractMSH() error {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return diag.New(diag.InvalidMSH, "MSH segment not found")
	}

	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetField(4)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)

	if parts := strings.SplitN(m.Type, string(m.Delims.Component), 3); len(parts) >= 2 {
		m.Trigger = parts[1]
	}

	if ts := msh.GetField(7); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
	return nil
}

// ParseTimestamp parses an HL7 TS value (YYYYMMDD[HHMM[SS]] with optional
// fraction/zone, which are ignored).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".+-"); i >= 0 {
		s = s[:i]
	}
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, diag.New(diag.InvalidMSH, "unrecognized timestamp %q", s)
	}
}

// FormatTimestamp renders t as an HL7 TS with second precision.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name, in declared order.
func (m *Message) GetSegments(name string) []*Segment {
	var out []*Segment
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			out = append(out, &m.Segments[i])
		}
	}
	return out
}

// GetField returns the raw value of a field by 1-based HL7 index.
// For MSH, index 1 is the field separator itself.
func (s *Segment) GetField(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// GetRepeat returns one repetition of a field (both indices 1-based).
func (s *Segment) GetRepeat(fieldIdx, repIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	reps := s.Fields[idx].Repeats
	if repIdx < 1 || repIdx > len(reps) {
		return ""
	}
	return reps[repIdx-1].Value
}

// NumRepeats returns the repetition count of a field.
func (s *Segment) NumRepeats(fieldIdx int) int {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return 0
	}
	return len(s.Fields[idx].Repeats)
}

// GetComponent returns a component of the first repetition (1-based).
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	return s.GetRepeatComponent(fieldIdx, 1, compIdx)
}

// GetRepeatComponent returns a component of a given repetition (1-based).
func (s *Segment) GetRepeatComponent(fieldIdx, repIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	reps := s.Fields[idx].Repeats
	if repIdx < 1 || repIdx > len(reps) {
		return ""
	}
	comps := reps[repIdx-1].Components
	if compIdx < 1 || compIdx > len(comps) {
		return ""
	}
	return comps[compIdx-1].Value
}

// GetSubcomponent returns a subcomponent of the first repetition (1-based).
func (s *Segment) GetSubcomponent(fieldIdx, compIdx, subIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	reps := s.Fields[idx].Repeats
	if len(reps) == 0 {
		return ""
	}
	comps := reps[0].Components
	if compIdx < 1 || compIdx > len(comps) {
		return ""
	}
	subs := comps[compIdx-1].Subcomponents
	if subIdx < 1 || subIdx > len(subs) {
		return ""
	}
	return subs[subIdx-1]
}

// SetField grows the field list as needed and sets a 1-based field value.
func (s *Segment) SetField(index int, value string) {
	idx := index - 1
	for len(s.Fields) <= idx {
		s.Fields = append(s.Fields, Field{})
	}
	s.Fields[idx] = parseField(value, CanonicalDelimiters)
}

// Serialize renders the message with \r segment terminators and the
// canonical delimiter quartet.
func Serialize(m *Message) []byte {
	parts := make([]string, 0, len(m.Segments))
	for _, seg := range m.Segments {
		parts = append(parts, serializeSegment(seg))
	}
	return []byte(strings.Join(parts, "\r") + "\r")
}

func serializeSegment(seg Segment) string {
	if seg.Name == "MSH" {
		if len(seg.Fields) < 2 {
			return "MSH|^~\\&"
		}
		// Fields[0] is MSH-1 (the separator), re-emitted implicitly.
		vals := make([]string, 0, len(seg.Fields)-1)
		for i := 1; i < len(seg.Fields); i++ {
			vals = append(vals, seg.Fields[i].Value)
		}
		return "MSH|" + strings.Join(vals, "|")
	}
	vals := make([]string, len(seg.Fields))
	for i, f := range seg.Fields {
		vals[i] = f.Value
	}
	if len(vals) == 0 {
		return seg.Name
	}
	return seg.Name + "|" + strings.Join(vals, "|")
}

// Escape escapes the HL7 special characters in a text value.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}

// Unescape reverses Escape.
func Unescape(s string) string {
	s = strings.ReplaceAll(s, "\\F\\", "|")
	s = strings.ReplaceAll(s, "\\S\\", "^")
	s = strings.ReplaceAll(s, "\\R\\", "~")
	s = strings.ReplaceAll(s, "\\T\\", "&")
	s = strings.ReplaceAll(s, "\\E\\", "\\")
	return s
}
