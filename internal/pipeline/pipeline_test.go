package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/dossier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/messagelog"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/patient"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/structure"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// --- in-memory repositories ---

type memPatients struct {
	patients map[uuid.UUID]*patient.Patient
	idents   []*patient.ExternalIdentifier
}

func newMemPatients() *memPatients {
	return &memPatients{patients: map[uuid.UUID]*patient.Patient{}}
}

func (m *memPatients) Create(_ context.Context, p *patient.Patient) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m *memPatients) Update(_ context.Context, p *patient.Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *memPatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s not found", id)
	}
	return p, nil
}

func (m *memPatients) FindByIdentifier(_ context.Context, idType, system, value string) (*patient.Patient, error) {
	for _, ei := range m.idents {
		if ei.Type == idType && ei.System == system && ei.Value == value {
			return m.patients[ei.PatientID], nil
		}
	}
	return nil, nil
}

func (m *memPatients) AddIdentifier(_ context.Context, ei *patient.ExternalIdentifier) error {
	ei.ID = uuid.New()
	m.idents = append(m.idents, ei)
	return nil
}

func (m *memPatients) Identifiers(_ context.Context, patientID uuid.UUID) ([]*patient.ExternalIdentifier, error) {
	var out []*patient.ExternalIdentifier
	for _, ei := range m.idents {
		if ei.PatientID == patientID {
			out = append(out, ei)
		}
	}
	return out, nil
}

func (m *memPatients) RepointIdentifiers(_ context.Context, from, to uuid.UUID) error {
	for _, ei := range m.idents {
		if ei.PatientID == from {
			ei.PatientID = to
		}
	}
	return nil
}

type memDossiers struct {
	dossiers  map[uuid.UUID]*dossier.Dossier
	venues    map[uuid.UUID]*dossier.Venue
	movements map[uuid.UUID][]*dossier.Movement
}

func newMemDossiers() *memDossiers {
	return &memDossiers{
		dossiers:  map[uuid.UUID]*dossier.Dossier{},
		venues:    map[uuid.UUID]*dossier.Venue{},
		movements: map[uuid.UUID][]*dossier.Movement{},
	}
}

func (m *memDossiers) CreateDossier(_ context.Context, d *dossier.Dossier) error {
	d.ID = uuid.New()
	m.dossiers[d.ID] = d
	return nil
}

func (m *memDossiers) UpdateDossier(_ context.Context, d *dossier.Dossier) error {
	m.dossiers[d.ID] = d
	return nil
}

func (m *memDossiers) GetDossier(_ context.Context, id uuid.UUID) (*dossier.Dossier, error) {
	d, ok := m.dossiers[id]
	if !ok {
		return nil, fmt.Errorf("dossier %s not found", id)
	}
	return d, nil
}

func (m *memDossiers) FindDossierByNDA(_ context.Context, system, nda string) (*dossier.Dossier, error) {
	for _, d := range m.dossiers {
		if d.NDASystem == system && d.NDA == nda {
			return d, nil
		}
	}
	return nil, nil
}

func (m *memDossiers) DossiersForPatient(_ context.Context, patientID uuid.UUID) ([]*dossier.Dossier, error) {
	var out []*dossier.Dossier
	for _, d := range m.dossiers {
		if d.PatientID == patientID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDossiers) RepointDossiers(_ context.Context, from, to uuid.UUID) error {
	for _, d := range m.dossiers {
		if d.PatientID == from {
			d.PatientID = to
		}
	}
	return nil
}

func (m *memDossiers) CreateVenue(_ context.Context, v *dossier.Venue) error {
	v.ID = uuid.New()
	m.venues[v.ID] = v
	return nil
}

func (m *memDossiers) UpdateVenue(_ context.Context, v *dossier.Venue) error {
	m.venues[v.ID] = v
	return nil
}

func (m *memDossiers) GetVenue(_ context.Context, id uuid.UUID) (*dossier.Venue, error) {
	v, ok := m.venues[id]
	if !ok {
		return nil, fmt.Errorf("venue %s not found", id)
	}
	return v, nil
}

func (m *memDossiers) FindVenueByVN(_ context.Context, system, vn string) (*dossier.Venue, error) {
	for _, v := range m.venues {
		if v.VNSystem == system && v.VN == vn {
			return v, nil
		}
	}
	return nil, nil
}

func (m *memDossiers) VenuesForDossier(_ context.Context, dossierID uuid.UUID) ([]*dossier.Venue, error) {
	var out []*dossier.Venue
	for _, v := range m.venues {
		if v.DossierID == dossierID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memDossiers) ActiveVenueForDossier(_ context.Context, dossierID uuid.UUID) (*dossier.Venue, error) {
	for _, v := range m.venues {
		if v.DossierID == dossierID && v.Status == dossier.StatusActive {
			return v, nil
		}
	}
	return nil, nil
}

func (m *memDossiers) AddMovement(_ context.Context, mv *dossier.Movement) error {
	mv.ID = uuid.New()
	m.movements[mv.VenueID] = append(m.movements[mv.VenueID], mv)
	return nil
}

func (m *memDossiers) UpdateMovement(_ context.Context, mv *dossier.Movement) error {
	for i, e := range m.movements[mv.VenueID] {
		if e.ID == mv.ID {
			m.movements[mv.VenueID][i] = mv
		}
	}
	return nil
}

func (m *memDossiers) Movements(_ context.Context, venueID uuid.UUID) ([]*dossier.Movement, error) {
	return m.movements[venueID], nil
}

type memStructure struct {
	nodes map[uuid.UUID]*structure.Node
}

func newMemStructure() *memStructure {
	return &memStructure{nodes: map[uuid.UUID]*structure.Node{}}
}

func (m *memStructure) Create(_ context.Context, n *structure.Node) error {
	n.ID = uuid.New()
	m.nodes[n.ID] = n
	return nil
}

func (m *memStructure) Update(_ context.Context, n *structure.Node) error {
	m.nodes[n.ID] = n
	return nil
}

func (m *memStructure) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.nodes, id)
	return nil
}

func (m *memStructure) Get(_ context.Context, id uuid.UUID) (*structure.Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return n, nil
}

func (m *memStructure) FindByCode(_ context.Context, kind structure.Kind, code string, ejID *uuid.UUID) ([]*structure.Node, error) {
	var out []*structure.Node
	for _, n := range m.nodes {
		if n.Kind != kind || n.Code != code {
			continue
		}
		if ejID != nil && (n.JuridicalEntityID == nil || *n.JuridicalEntityID != *ejID) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *memStructure) Children(_ context.Context, parentID uuid.UUID) ([]*structure.Node, error) {
	var out []*structure.Node
	for _, n := range m.nodes {
		if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out, nil
}

type memLog struct {
	entries []*messagelog.Entry
}

func (m *memLog) Insert(_ context.Context, e *messagelog.Entry) error {
	e.ID = uuid.New()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) Get(_ context.Context, id uuid.UUID) (*messagelog.Entry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("entry %s not found", id)
}

func (m *memLog) FindByControlID(_ context.Context, controlID string) (*messagelog.Entry, error) {
	for _, e := range m.entries {
		if e.ControlID == controlID && e.Direction == messagelog.DirectionInbound {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memLog) FindByCorrelationID(_ context.Context, correlationID string) ([]*messagelog.Entry, error) {
	var out []*messagelog.Entry
	for _, e := range m.entries {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLog) UpdateStatus(_ context.Context, e *messagelog.Entry) error { return nil }

func (m *memLog) List(_ context.Context, f messagelog.Filter) ([]*messagelog.Entry, error) {
	return m.entries, nil
}

// --- fixtures ---

type testEnv struct {
	pipeline *Pipeline
	patients *memPatients
	dossiers *memDossiers
	nodes    *memStructure
	msglog   *memLog
}

func newTestEnv(policy structure.Policy) *testEnv {
	env := &testEnv{
		patients: newMemPatients(),
		dossiers: newMemDossiers(),
		nodes:    newMemStructure(),
		msglog:   &memLog{},
	}
	locks := db.NewKeyedLock()
	nop := zerolog.Nop()

	dossierSvc := dossier.NewService(env.dossiers, locks, nop)
	patientSvc := patient.NewService(env.patients, dossierSvc, nop)
	structureSvc := structure.NewService(env.nodes, locks, policy, nop)
	logSvc := messagelog.NewService(env.msglog, nop)

	env.pipeline = New(patientSvc, dossierSvc, env.dossiers, structureSvc, logSvc, nop)
	return env
}

func (e *testEnv) seedUF(code, label string) {
	e.nodes.nodes[uuid.New()] = &structure.Node{
		ID: uuid.New(), Kind: structure.KindFunctionalUnit, Code: code, Label: label,
	}
}

func mshSegment(trigger, controlID string) string {
	return "MSH|^~\\&|SND|SF|RCV|RF|20240101100000||ADT^" + trigger + "|" + controlID + "|P|2.5"
}

func pidSegment(ipp, name, dob, sex, nda string) string {
	f := make([]string, 19)
	f[0] = "PID"
	f[1] = "1"
	f[3] = ipp
	f[5] = name
	f[7] = dob
	f[8] = sex
	f[18] = nda
	return strings.Join(f, "|")
}

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

func zbeSegment(mvtID, ts, action, historic, original, ufCode, nature string) string {
	f := make([]string, 10)
	f[0] = "ZBE"
	f[1] = mvtID
	f[2] = ts
	f[4] = action
	f[5] = historic
	f[6] = original
	f[7] = "CARDIOLOGIE" + strings.Repeat("^", 9) + ufCode
	f[9] = nature
	return strings.Join(f, "|")
}

func admissionMessage(controlID string) []byte {
	return []byte(strings.Join([]string{
		mshSegment("A01", controlID),
		"EVN|A01|20240101100000",
		pidSegment("IPP-1^^^HOSP^PI", "DOE^JOHN", "19800115", "M", "NDA-1^^^HOSP^AN"),
		pv1Segment("I", "UF-CARD^101^1", "", "VN-1^^^HOSP^VN"),
		zbeSegment("MVT-1", "20240101100000", "INSERT", "N", "", "UF-CARD", "S"),
	}, "\r"))
}

func ackCode(t *testing.T, res *Result) string {
	t.Helper()
	msa := res.ACK.GetSegment("MSA")
	if msa == nil {
		t.Fatal("ACK has no MSA segment")
	}
	return msa.GetField(1)
}

// --- tests ---

func TestProcess_AdmissionCreatesFullChain(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	env.seedUF("UF-CARD", "CARDIOLOGIE")
	ctx := context.Background()

	res, err := env.pipeline.Process(ctx, admissionMessage("CTL-1"), Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Accepted || ackCode(t, res) != hl7v2.ACKAccept {
		t.Fatalf("accepted=%v ack=%s diags=%v", res.Accepted, ackCode(t, res), res.Diags)
	}
	if got := res.ACK.GetSegment("MSA").GetField(2); got != "CTL-1" {
		t.Errorf("MSA-2 = %q, must echo the inbound control id", got)
	}

	if len(env.patients.patients) != 1 {
		t.Fatalf("patients = %d", len(env.patients.patients))
	}
	if len(env.dossiers.dossiers) != 1 || len(env.dossiers.venues) != 1 {
		t.Fatalf("dossiers = %d venues = %d", len(env.dossiers.dossiers), len(env.dossiers.venues))
	}
	for _, v := range env.dossiers.venues {
		if v.Status != dossier.StatusActive {
			t.Errorf("venue status = %s", v.Status)
		}
		if v.Location.PL() != "UF-CARD^101^1" {
			t.Errorf("venue location = %s", v.Location.PL())
		}
		if len(env.dossiers.movements[v.ID]) != 1 {
			t.Errorf("movements = %d", len(env.dossiers.movements[v.ID]))
		}
	}
	if res.Entry.Status != messagelog.StatusSuccess {
		t.Errorf("entry status = %s", res.Entry.Status)
	}
	// Inbound plus its ACK.
	if len(env.msglog.entries) != 2 {
		t.Errorf("log entries = %d", len(env.msglog.entries))
	}
}

func TestProcess_DuplicateControlIDRejected(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	env.seedUF("UF-CARD", "CARDIOLOGIE")
	ctx := context.Background()

	if _, err := env.pipeline.Process(ctx, admissionMessage("CTL-1"), Options{}); err != nil {
		t.Fatal(err)
	}
	res, err := env.pipeline.Process(ctx, admissionMessage("CTL-1"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted || ackCode(t, res) != hl7v2.ACKErr {
		t.Fatalf("duplicate must be rejected, got ack %s", ackCode(t, res))
	}
	if len(res.Diags) != 1 || res.Diags[0].Code != diag.DuplicateControlID {
		t.Errorf("diags = %v", res.Diags)
	}
}

func TestProcess_ValidationErrorsAllReported(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	ctx := context.Background()

	// PID-5/PID-7 missing and no ZBE at all.
	raw := []byte(strings.Join([]string{
		mshSegment("A01", "CTL-2"),
		"EVN|A01|20240101100000",
		pidSegment("IPP-1^^^HOSP^PI", "", "", "M", ""),
		pv1Segment("I", "UF-CARD", "", "VN-1^^^HOSP^VN"),
	}, "\r"))

	res, err := env.pipeline.Process(ctx, raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted {
		t.Fatal("invalid message must be rejected")
	}
	if len(res.Diags.Errors()) < 3 {
		t.Errorf("want all field errors collected, got %v", res.Diags)
	}
	if len(res.ACK.GetSegments("ERR")) != len(res.Diags) {
		t.Errorf("ACK carries %d ERR segments for %d diagnostics",
			len(res.ACK.GetSegments("ERR")), len(res.Diags))
	}
	// Nothing was applied.
	if len(env.patients.patients) != 0 || len(env.dossiers.venues) != 0 {
		t.Error("rejected message must not touch the canonical model")
	}
}

func TestProcess_TransferOnUnknownVenueRejected(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	env.seedUF("UF-CARD", "CARDIOLOGIE")
	ctx := context.Background()

	raw := []byte(strings.Join([]string{
		mshSegment("A02", "CTL-3"),
		"EVN|A02|20240101110000",
		pidSegment("IPP-1^^^HOSP^PI", "DOE^JOHN", "19800115", "M", "NDA-1^^^HOSP^AN"),
		pv1Segment("I", "UF-CARD^102^1", "UF-CARD^101^1", "VN-404^^^HOSP^VN"),
		zbeSegment("MVT-2", "20240101110000", "INSERT", "N", "", "UF-CARD", "M"),
	}, "\r"))

	res, err := env.pipeline.Process(ctx, raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted {
		t.Fatal("transfer on unknown venue must be rejected")
	}
	found := false
	for _, d := range res.Diags {
		if d.Code == diag.VenueNotFound {
			found = true
		}
	}
	if !found {
		t.Errorf("want VENUE_NOT_FOUND, got %v", res.Diags)
	}
}

func TestProcess_StrictModeRejectsA08(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	ctx := context.Background()

	raw := []byte(strings.Join([]string{
		mshSegment("A08", "CTL-4"),
		"EVN|A08|20240101100000",
		pidSegment("IPP-1^^^HOSP^PI", "DOE^JOHN", "19800115", "M", ""),
	}, "\r"))

	res, err := env.pipeline.Process(ctx, raw, Options{Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted {
		t.Fatal("strict mode must reject A08")
	}
	if !strings.Contains(string(res.ACKBytes), "strict PAM FR forbids A08") {
		t.Error("ACK must carry the strict-mode rejection text")
	}
}

func TestProcess_UnparsableStillNACKs(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	ctx := context.Background()

	res, err := env.pipeline.Process(ctx, []byte("not an hl7 message"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted || res.ACK == nil {
		t.Fatal("unparsable input must produce a negative ACK")
	}
	if ackCode(t, res) != hl7v2.ACKErr {
		t.Errorf("ack = %s", ackCode(t, res))
	}
}

func TestProcess_UnknownUFRejected(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	ctx := context.Background()

	res, err := env.pipeline.Process(ctx, admissionMessage("CTL-5"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted {
		t.Fatal("unknown functional unit must be rejected when auto-create is off")
	}
	found := false
	for _, d := range res.Diags {
		if d.Code == diag.UFUnknown {
			found = true
		}
	}
	if !found {
		t.Errorf("want UF_UNKNOWN, got %v", res.Diags)
	}
}

func TestProcess_AutoCreateUFAdmits(t *testing.T) {
	env := newTestEnv(structure.Policy{AutoCreateUF: true})
	ctx := context.Background()

	res, err := env.pipeline.Process(ctx, admissionMessage("CTL-6"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Accepted {
		t.Fatalf("admission with auto-create must pass, diags %v", res.Diags)
	}
	ufs, _ := env.nodes.FindByCode(ctx, structure.KindFunctionalUnit, "UF-CARD", nil)
	if len(ufs) != 1 || !ufs[0].Virtual {
		t.Errorf("want one virtual UF, got %v", ufs)
	}
}

func TestProcess_MergeRepointsEverything(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	env.seedUF("UF-CARD", "CARDIOLOGIE")
	ctx := context.Background()

	// Admit the patient that will be absorbed.
	absorbed := []byte(strings.Join([]string{
		mshSegment("A01", "CTL-7"),
		"EVN|A01|20240101100000",
		pidSegment("IPP-2^^^HOSP^PI", "DOE^JANE", "19900202", "F", "NDA-2^^^HOSP^AN"),
		pv1Segment("I", "UF-CARD^101^2", "", "VN-2^^^HOSP^VN"),
		zbeSegment("MVT-1", "20240101100000", "INSERT", "N", "", "UF-CARD", "S"),
	}, "\r"))
	if res, err := env.pipeline.Process(ctx, absorbed, Options{}); err != nil || !res.Accepted {
		t.Fatalf("seed admission failed: %v %v", err, res.Diags)
	}

	merge := []byte(strings.Join([]string{
		mshSegment("A40", "CTL-8"),
		"EVN|A40|20240102100000",
		pidSegment("IPP-1^^^HOSP^PI", "DOE^JOHN", "19800115", "M", ""),
		"MRG|IPP-2^^^HOSP^PI",
	}, "\r"))
	res, err := env.pipeline.Process(ctx, merge, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Accepted {
		t.Fatalf("merge rejected: %v", res.Diags)
	}

	surviving, err := env.patients.FindByIdentifier(ctx, "IPP", "HOSP", "IPP-1")
	if err != nil || surviving == nil {
		t.Fatal("surviving patient not found")
	}
	for _, d := range env.dossiers.dossiers {
		if d.PatientID != surviving.ID {
			t.Errorf("dossier still points at the absorbed patient")
		}
	}
	// The absorbed record is kept, flagged and chained.
	var absorbedRec *patient.Patient
	for _, p := range env.patients.patients {
		if p.MergedIntoID != nil {
			absorbedRec = p
		}
	}
	if absorbedRec == nil {
		t.Fatal("absorbed patient must keep a merged-into marker")
	}
	if absorbedRec.IdentityReliability != patient.ReliabilityDuplicate {
		t.Errorf("absorbed reliability = %s", absorbedRec.IdentityReliability)
	}
}

func TestProcess_PreAdmitThenConfirm(t *testing.T) {
	env := newTestEnv(structure.Policy{})
	env.seedUF("UF-CARD", "CARDIOLOGIE")
	ctx := context.Background()

	pre := []byte(strings.Join([]string{
		mshSegment("A05", "CTL-9"),
		"EVN|A05|20240101090000",
		pidSegment("IPP-1^^^HOSP^PI", "DOE^JOHN", "19800115", "M", "NDA-1^^^HOSP^AN"),
		pv1Segment("I", "UF-CARD^101^1", "", "VN-1^^^HOSP^VN"),
		zbeSegment("MVT-1", "20240101090000", "INSERT", "N", "", "UF-CARD", "S"),
	}, "\r"))
	if res, err := env.pipeline.Process(ctx, pre, Options{}); err != nil || !res.Accepted {
		t.Fatalf("pre-admission failed: %v", err)
	}
	for _, v := range env.dossiers.venues {
		if v.Status != dossier.StatusPreAdmitted {
			t.Fatalf("venue status after A05 = %s", v.Status)
		}
	}

	confirm := []byte(strings.Join([]string{
		mshSegment("A01", "CTL-10"),
		"EVN|A01|20240101100000",
		pidSegment("IPP-1^^^HOSP^PI", "DOE^JOHN", "19800115", "M", "NDA-1^^^HOSP^AN"),
		pv1Segment("I", "UF-CARD^101^1", "", "VN-1^^^HOSP^VN"),
		zbeSegment("MVT-2", "20240101100000", "INSERT", "N", "", "UF-CARD", "S"),
	}, "\r"))
	res, err := env.pipeline.Process(ctx, confirm, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Accepted {
		t.Fatalf("confirmation rejected: %v", res.Diags)
	}
	if len(env.dossiers.venues) != 1 {
		t.Fatalf("confirmation must reuse the pre-admitted venue, got %d", len(env.dossiers.venues))
	}
	for _, v := range env.dossiers.venues {
		if v.Status != dossier.StatusActive {
			t.Errorf("venue status after A01 = %s", v.Status)
		}
	}
	// Only one patient despite two messages.
	if len(env.patients.patients) != 1 {
		t.Errorf("patients = %d", len(env.patients.patients))
	}
}

func TestProcess_MFNImport(t *testing.T) {
	env := newTestEnv(structure.Policy{AutoVirtualPole: true})
	ctx := context.Background()

	raw := []byte(strings.Join([]string{
		"MSH|^~\\&|SND|SF|RCV|RF|20240101100000||MFN^M05|CTL-11|P|2.5",
		"MFE|MAD||" + "|UF-CARD^UF^",
		"LOC|UF-CARD|Cardiologie",
	}, "\r"))

	res, err := env.pipeline.Process(ctx, raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Accepted {
		t.Fatalf("MFN import rejected: %v", res.Diags)
	}
	ufs, _ := env.nodes.FindByCode(ctx, structure.KindFunctionalUnit, "UF-CARD", nil)
	if len(ufs) != 1 || ufs[0].Label != "Cardiologie" || ufs[0].Virtual {
		t.Errorf("imported UF = %+v", ufs)
	}
}
