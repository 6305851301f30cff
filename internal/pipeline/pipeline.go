// Package pipeline drives an inbound message end to end: parse, validate,
// resolve the canonical entities, apply the movement and answer with an
// ACK. Every message leaves a message-log trace, accepted or not.
package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/dossier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/messagelog"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/patient"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/structure"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/vocabulary"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/pam"
)

// Options carries the per-endpoint processing knobs.
type Options struct {
	// Strict enables the PAM FR strict profile of the receiving juridical
	// entity.
	Strict            bool
	EndpointID        *uuid.UUID
	JuridicalEntityID *uuid.UUID
}

// Result is the outcome of one processed message. ACKBytes is always
// populated, even when the message could not be parsed.
type Result struct {
	Accepted bool
	Entry    *messagelog.Entry
	Diags    diag.Diagnostics
	ACK      *hl7v2.Message
	ACKBytes []byte
}

type Pipeline struct {
	patients    *patient.Service
	dossiers    *dossier.Service
	dossierRepo dossier.Repository
	structures  *structure.Service
	msglog      *messagelog.Service
	log         zerolog.Logger
}

func New(
	patients *patient.Service,
	dossiers *dossier.Service,
	dossierRepo dossier.Repository,
	structures *structure.Service,
	msglog *messagelog.Service,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		patients:    patients,
		dossiers:    dossiers,
		dossierRepo: dossierRepo,
		structures:  structures,
		msglog:      msglog,
		log:         log.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs one raw inbound message through the full chain. The
// returned error is infrastructural only; protocol-level rejections come
// back as a negative ACK inside the Result.
func (p *Pipeline) Process(ctx context.Context, raw []byte, opts Options) (*Result, error) {
	msg, perr := hl7v2.Parse(raw)
	if perr != nil {
		msg = hl7v2.SynthesizeInbound(raw)
		ds := diag.Diagnostics{{
			Code: diag.InvalidMSH, Severity: diag.SeverityError,
			Segment: "MSH", Text: perr.Error(),
		}}
		entry, lerr := p.msglog.RecordInbound(ctx, msg.ControlID, msg.Trigger, raw, opts.EndpointID)
		if lerr != nil {
			entry = nil
		}
		return p.finish(ctx, entry, msg, ds, opts, false)
	}

	entry, err := p.msglog.RecordInbound(ctx, msg.ControlID, msg.Trigger, raw, opts.EndpointID)
	if err != nil {
		if diag.CodeOf(err) == diag.DuplicateControlID {
			ds := diag.Diagnostics{{
				Code: diag.DuplicateControlID, Severity: diag.SeverityError,
				Segment: "MSH", Field: 10, Text: err.Error(),
			}}
			return p.finish(ctx, nil, msg, ds, opts, false)
		}
		return nil, err
	}

	if strings.HasPrefix(msg.Type, "MFN") {
		res, ierr := p.structures.ImportMFN(ctx, msg, opts.JuridicalEntityID)
		if ierr != nil {
			return p.finish(ctx, entry, msg, errDiags(ierr), opts, false)
		}
		return p.finish(ctx, entry, msg, res.Diags, opts, true)
	}

	vres := pam.Validate(msg, pam.Options{Strict: opts.Strict})
	diags := vres.Diags
	if diags.HasErrors() {
		return p.finish(ctx, entry, msg, diags, opts, false)
	}

	if aerr := p.apply(ctx, msg, vres.ZBE, opts, &diags); aerr != nil {
		diags = append(diags, errDiags(aerr)...)
		return p.finish(ctx, entry, msg, diags, opts, false)
	}
	return p.finish(ctx, entry, msg, diags, opts, true)
}

// apply routes the validated message by trigger role.
func (p *Pipeline) apply(ctx context.Context, msg *hl7v2.Message, zbe *pam.ZBE, opts Options, diags *diag.Diagnostics) error {
	entry, _ := vocabulary.Default().ByTrigger(msg.Trigger)

	if entry.Role == vocabulary.RoleLifecycle {
		return p.applyLifecycle(ctx, msg)
	}
	if msg.Trigger == "A08" {
		pat, err := p.resolvePatient(ctx, msg, false)
		if err != nil {
			return err
		}
		return p.patients.UpdateDemographics(ctx, pat, readDemographics(msg))
	}
	return p.applyMovement(ctx, msg, zbe, entry, opts, diags)
}

func (p *Pipeline) applyLifecycle(ctx context.Context, msg *hl7v2.Message) error {
	switch msg.Trigger {
	case "A28", "A31":
		pat, err := p.resolvePatient(ctx, msg, true)
		if err != nil {
			return err
		}
		return p.patients.UpdateDemographics(ctx, pat, readDemographics(msg))
	case "A40":
		surviving, err := p.resolvePatient(ctx, msg, true)
		if err != nil {
			return err
		}
		absorbedIdent := readMRGIdentifier(msg)
		if absorbedIdent.Value == "" {
			return diag.New(diag.MissingRequiredField, "MRG-1 is required on A40")
		}
		absorbed, err := p.patients.FindByAnyIdentifier(ctx, []patient.WireIdentifier{absorbedIdent})
		if err != nil {
			return err
		}
		if absorbed == nil {
			return diag.New(diag.PatientNotFound,
				"merge source %q is unknown", absorbedIdent.Value)
		}
		if absorbed.ID == surviving.ID {
			// Already merged or self-referential; idempotent no-op.
			return nil
		}
		return p.patients.Merge(ctx, surviving.ID, absorbed.ID)
	default:
		return diag.New(diag.InvalidTrigger, "unhandled lifecycle trigger %s", msg.Trigger)
	}
}

func (p *Pipeline) applyMovement(ctx context.Context, msg *hl7v2.Message, zbe *pam.ZBE, ventry vocabulary.Entry, opts Options, diags *diag.Diagnostics) error {
	if zbe == nil {
		return diag.New(diag.ZBE1Missing, "movement segment is required for %s", msg.Trigger)
	}

	pat, err := p.resolvePatient(ctx, msg, true)
	if err != nil {
		return err
	}

	ufNode, err := p.structures.Resolve(ctx, zbe.MedicalUFCode, structure.KindFunctionalUnit, opts.JuridicalEntityID)
	if err != nil {
		if code := diag.CodeOf(err); code != "" {
			return err
		}
		return diag.Wrap(diag.UFUnknown, err, "medical unit %q", zbe.MedicalUFCode)
	}
	if zbe.CareUFCode != "" {
		if _, cerr := p.structures.Resolve(ctx, zbe.CareUFCode, structure.KindFunctionalUnit, opts.JuridicalEntityID); cerr != nil {
			*diags = append(*diags, diag.Diagnostic{
				Code: diag.UFUnknown, Severity: diag.SeverityWarning,
				Segment: "ZBE", Field: 8,
				Text: "care unit " + zbe.CareUFCode + " is unknown, code kept as-is",
			})
		}
	}

	creating := ventry.Role == vocabulary.RoleAdmission
	pv1 := msg.GetSegment("PV1")

	ndaSystem, nda := readCX(msg.GetSegment("PID"), 18)
	dos, err := p.dossierRepo.FindDossierByNDA(ctx, ndaSystem, nda)
	if err != nil {
		return err
	}
	if dos == nil {
		if !creating || nda == "" {
			return diag.New(diag.VenueNotFound, "dossier %q/%q is unknown", ndaSystem, nda)
		}
		dos = &dossier.Dossier{
			PatientID:         pat.ID,
			JuridicalEntityID: opts.JuridicalEntityID,
			NDA:               nda,
			NDASystem:         ndaSystem,
			AdmitTime:         zbe.EventTime,
			Type:              dossier.TypeFromPV1(pv1.GetField(2)),
			MedicalUFCode:     ufNode.Code,
			CareUFCode:        zbe.CareUFCode,
		}
		if err := p.dossierRepo.CreateDossier(ctx, dos); err != nil {
			return err
		}
	}

	vnSystem, vn := readCX(pv1, 19)
	venue, err := p.dossierRepo.FindVenueByVN(ctx, vnSystem, vn)
	if err != nil {
		return err
	}
	if venue == nil && !creating {
		return diag.New(diag.VenueNotFound, "venue %q/%q is unknown", vnSystem, vn)
	}

	req := dossier.ApplyRequest{
		Dossier:         dos,
		Venue:           venue,
		MVTID:           zbe.MVTID,
		Timestamp:       zbe.EventTime,
		Trigger:         msg.Trigger,
		Action:          dossier.Action(zbe.Action),
		Historic:        zbe.Historic,
		OriginalTrigger: zbe.OriginalTrigger,
		Nature:          zbe.Nature,
		Location:        dossier.ParseLocation(pv1.GetField(3)),
		MedicalUFCode:   ufNode.Code,
		MedicalUFLabel:  ufNode.Label,
		CareUFCode:      zbe.CareUFCode,
		CareUFLabel:     zbe.CareUFLabel,
		VN:              vn,
		VNSystem:        vnSystem,
	}
	switch msg.Trigger {
	case "A06":
		req.NewDossierType = dossier.TypeHospitalise
	case "A07":
		req.NewDossierType = dossier.TypeExterne
	}

	_, err = p.dossiers.Apply(ctx, req)
	return err
}

// resolvePatient finds the patient carried by PID-3, registering a new
// record when allowed and none matches.
func (p *Pipeline) resolvePatient(ctx context.Context, msg *hl7v2.Message, createMissing bool) (*patient.Patient, error) {
	idents := readPatientIdentifiers(msg)
	pat, err := p.patients.FindByAnyIdentifier(ctx, idents)
	if err != nil {
		return nil, err
	}
	if pat != nil {
		return pat, nil
	}
	if !createMissing {
		return nil, diag.New(diag.PatientNotFound, "no patient matches PID-3")
	}
	return p.patients.Register(ctx, readDemographics(msg), idents)
}

// finish resolves the log entry, builds the ACK and records it outbound.
func (p *Pipeline) finish(ctx context.Context, entry *messagelog.Entry, msg *hl7v2.Message, diags diag.Diagnostics, opts Options, accepted bool) (*Result, error) {
	code := hl7v2.ACKAccept
	status := messagelog.StatusSuccess
	text := ""
	if !accepted {
		code = hl7v2.ACKErr
		status = messagelog.StatusError
		if errs := diags.Errors(); len(errs) > 0 {
			text = errs[0].Text
		}
	}

	ack := hl7v2.BuildACK(msg, code, text, diags)
	ackRaw := hl7v2.Serialize(ack)

	if entry != nil {
		if err := p.msglog.Resolve(ctx, entry, status, diags); err != nil {
			return nil, err
		}
	}
	if ae, err := p.msglog.RecordOutbound(ctx, ack.ControlID, ack.Trigger, msg.ControlID, ackRaw, opts.EndpointID); err == nil {
		if rerr := p.msglog.Resolve(ctx, ae, messagelog.StatusSuccess, nil); rerr != nil {
			return nil, rerr
		}
	}

	evt := p.log.Info()
	if !accepted {
		evt = p.log.Warn()
	}
	evt.
		Str("control_id", msg.ControlID).
		Str("trigger", msg.Trigger).
		Bool("accepted", accepted).
		Int("diagnostics", len(diags)).
		Msg("message processed")

	return &Result{
		Accepted: accepted,
		Entry:    entry,
		Diags:    diags,
		ACK:      ack,
		ACKBytes: ackRaw,
	}, nil
}

// errDiags converts a classified error into a single error diagnostic.
func errDiags(err error) diag.Diagnostics {
	code := diag.CodeOf(err)
	if code == "" {
		code = diag.Internal
	}
	return diag.Diagnostics{{
		Code: code, Severity: diag.SeverityError, Text: err.Error(),
	}}
}
