package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/fhir"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// ProcessFHIRBundle ingests a transaction Bundle of Patient plus optional
// Encounter. The bundle is transcoded to its PAM equivalent at the edge
// and runs through the same validation and apply chain as MLLP traffic,
// so the message log holds one uniform trail. The movement metadata is
// read from the proprietary zbe extension on the Encounter.
func (p *Pipeline) ProcessFHIRBundle(ctx context.Context, raw []byte, opts Options) (*Result, error) {
	b, err := fhir.ParseBundle(raw)
	if err != nil {
		return nil, err
	}
	if b.Type != "transaction" {
		return nil, diag.New(diag.HTTPError, "expected a transaction bundle, got %q", b.Type)
	}

	var pat *fhir.Patient
	var enc *fhir.Encounter
	orgs := map[string]*fhir.Organization{}
	locs := map[string]*fhir.Location{}
	for _, e := range b.Entry {
		var probe struct {
			ResourceType string `json:"resourceType"`
		}
		if json.Unmarshal(e.Resource, &probe) != nil {
			continue
		}
		switch probe.ResourceType {
		case "Patient":
			pat = &fhir.Patient{}
			if err := json.Unmarshal(e.Resource, pat); err != nil {
				return nil, diag.Wrap(diag.HTTPError, err, "decode Patient")
			}
		case "Encounter":
			enc = &fhir.Encounter{}
			if err := json.Unmarshal(e.Resource, enc); err != nil {
				return nil, diag.Wrap(diag.HTTPError, err, "decode Encounter")
			}
		case "Organization":
			o := &fhir.Organization{}
			if json.Unmarshal(e.Resource, o) == nil {
				orgs[o.ID] = o
			}
		case "Location":
			l := &fhir.Location{}
			if json.Unmarshal(e.Resource, l) == nil {
				locs[l.ID] = l
			}
		}
	}
	if pat == nil {
		return nil, diag.New(diag.HTTPError, "bundle carries no Patient resource")
	}

	msg, err := p.bundleToPAM(b, pat, enc, orgs, locs)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, msg, opts)
}

// bundleToPAM renders the bundle as raw PAM segments.
func (p *Pipeline) bundleToPAM(b *fhir.Bundle, pat *fhir.Patient, enc *fhir.Encounter,
	orgs map[string]*fhir.Organization, locs map[string]*fhir.Location) ([]byte, error) {

	trigger, eventTime, err := triggerOf(b, enc)
	if err != nil {
		return nil, err
	}
	controlID := b.ID
	if controlID == "" {
		controlID = "FHIR" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
	}

	ts := hl7v2.FormatTimestamp(eventTime)
	segs := []string{
		"MSH|^~\\&|FHIR|FHIR||" + "|" + ts + "||ADT^" + trigger + "^ADT_" + trigger +
			"|" + controlID + "|P|2.5",
		"EVN|" + trigger + "|" + ts,
		pidFromPatient(pat),
	}

	if enc != nil {
		segs = append(segs,
			pv1FromEncounter(enc, locs),
			zbeFromEncounter(enc, orgs, ts))
	}
	return []byte(strings.Join(segs, "\r")), nil
}

// triggerOf derives the PAM trigger: a bundle without Encounter is a
// demographics update, otherwise the Encounter status decides, with the
// movement nature separating admission from transfer.
func triggerOf(b *fhir.Bundle, enc *fhir.Encounter) (string, time.Time, error) {
	now := time.Now().UTC()
	if b.Timestamp != nil {
		now = *b.Timestamp
	}
	if enc == nil {
		return "A31", now, nil
	}

	when := now
	if enc.Period != nil && enc.Period.Start != nil {
		when = *enc.Period.Start
	}
	switch enc.Status {
	case "planned":
		return "A05", when, nil
	case "in-progress":
		if zbeExtValue(enc, "nature") == "M" {
			return "A02", when, nil
		}
		return "A01", when, nil
	case "finished":
		if enc.Period != nil && enc.Period.End != nil {
			when = *enc.Period.End
		}
		return "A03", when, nil
	default:
		return "", when, diag.New(diag.HTTPError,
			"unsupported Encounter status %q", enc.Status)
	}
}

func pidFromPatient(pat *fhir.Patient) string {
	f := make([]string, 20)
	f[0] = "PID"

	var pid3 []string
	for _, id := range pat.Identifier {
		switch identifierTypeCode(id) {
		case "AN":
			f[18] = id.Value + "^^^" + id.System + "^AN"
		case "VN":
			// carried on the Encounter, ignore here
		default:
			pid3 = append(pid3, id.Value+"^^^"+id.System+"^PI")
		}
	}
	f[3] = strings.Join(pid3, "~")

	if len(pat.Name) > 0 {
		n := pat.Name[0]
		comps := []string{hl7v2.Escape(n.Family)}
		for _, g := range n.Given {
			comps = append(comps, hl7v2.Escape(g))
		}
		f[5] = strings.Join(comps, "^")
	}
	if pat.BirthDate != "" {
		f[7] = strings.ReplaceAll(pat.BirthDate, "-", "")
	}
	if pat.Gender != "" {
		f[8] = sexHL7(pat.Gender)
	}
	return strings.Join(f, "|")
}

func pv1FromEncounter(enc *fhir.Encounter, locs map[string]*fhir.Location) string {
	f := make([]string, 20)
	f[0] = "PV1"
	f[2] = "I"
	if enc.Class != nil && enc.Class.Code == "AMB" {
		f[2] = "O"
	}

	for _, el := range enc.Location {
		id := strings.TrimPrefix(el.Location.Reference, "Location/")
		if l, ok := locs[id]; ok {
			f[3] = strings.ReplaceAll(l.Name, "/", "^")
			break
		}
	}
	for _, id := range enc.Identifier {
		if identifierTypeCode(id) == "VN" || len(enc.Identifier) == 1 {
			f[19] = id.Value + "^^^" + id.System + "^VN"
			break
		}
	}
	return strings.Join(f, "|")
}

func zbeFromEncounter(enc *fhir.Encounter, orgs map[string]*fhir.Organization, ts string) string {
	f := make([]string, 10)
	f[0] = "ZBE"
	f[1] = zbeExtValue(enc, "movementId")
	f[2] = ts
	f[4] = zbeExtValue(enc, "action")
	if f[4] == "" {
		f[4] = "INSERT"
	}
	f[5] = "N"
	if zbeExtValue(enc, "historic") == "true" {
		f[5] = "Y"
	}
	f[6] = zbeExtValue(enc, "originalTrigger")

	medCode := zbeExtValue(enc, "medicalUnit")
	medLabel := medCode
	if enc.ServiceProvider != nil {
		id := strings.TrimPrefix(enc.ServiceProvider.Reference, "Organization/")
		if o, ok := orgs[id]; ok && o.Name != "" {
			medLabel = o.Name
		}
	}
	f[7] = medLabel + strings.Repeat("^", 9) + medCode
	if care := zbeExtValue(enc, "careUnit"); care != "" {
		f[8] = care + strings.Repeat("^", 9) + care
	}
	f[9] = zbeExtValue(enc, "nature")
	return strings.Join(f, "|")
}

// zbeExtValue digs one sub-extension value out of the movement extension.
func zbeExtValue(enc *fhir.Encounter, name string) string {
	for _, ext := range enc.Extension {
		if !strings.Contains(ext.URL, "zbe") {
			continue
		}
		for _, sub := range ext.Extension {
			if sub.URL != name {
				continue
			}
			if sub.ValueString != "" {
				return sub.ValueString
			}
			if sub.ValueCode != "" {
				return sub.ValueCode
			}
			if sub.ValueBoolean != nil && *sub.ValueBoolean {
				return "true"
			}
		}
	}
	return ""
}

func identifierTypeCode(id fhir.Identifier) string {
	if id.Type == nil || len(id.Type.Coding) == 0 {
		return ""
	}
	return id.Type.Coding[0].Code
}

func sexHL7(gender string) string {
	switch gender {
	case "male":
		return "M"
	case "female":
		return "F"
	case "other":
		return "O"
	default:
		return "U"
	}
}
