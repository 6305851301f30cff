package dossier

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const dossierCols = `id, patient_id, juridical_entity_id, nda, nda_system,
	admit_time, type, medical_uf_code, housing_uf_code, care_uf_code,
	created_at, updated_at`

func (r *repoPG) CreateDossier(ctx context.Context, d *Dossier) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dossier (
			id, patient_id, juridical_entity_id, nda, nda_system, admit_time,
			type, medical_uf_code, housing_uf_code, care_uf_code
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.PatientID, d.JuridicalEntityID, d.NDA, d.NDASystem,
		d.AdmitTime, d.Type, d.MedicalUFCode, d.HousingUFCode, d.CareUFCode,
	)
	return err
}

func (r *repoPG) UpdateDossier(ctx context.Context, d *Dossier) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE dossier SET
			patient_id = $2, type = $3, medical_uf_code = $4,
			housing_uf_code = $5, care_uf_code = $6, updated_at = NOW()
		WHERE id = $1`,
		d.ID, d.PatientID, d.Type, d.MedicalUFCode, d.HousingUFCode, d.CareUFCode,
	)
	return err
}

func (r *repoPG) GetDossier(ctx context.Context, id uuid.UUID) (*Dossier, error) {
	return scanDossier(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dossierCols+` FROM dossier WHERE id = $1`, id))
}

func (r *repoPG) FindDossierByNDA(ctx context.Context, system, nda string) (*Dossier, error) {
	d, err := scanDossier(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dossierCols+` FROM dossier WHERE nda_system = $1 AND nda = $2`,
		system, nda))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *repoPG) DossiersForPatient(ctx context.Context, patientID uuid.UUID) ([]*Dossier, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+dossierCols+` FROM dossier WHERE patient_id = $1 ORDER BY admit_time`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Dossier
	for rows.Next() {
		d, err := scanDossier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) RepointDossiers(ctx context.Context, fromPatient, toPatient uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE dossier SET patient_id = $2, updated_at = NOW() WHERE patient_id = $1`,
		fromPatient, toPatient)
	return err
}

const venueCols = `id, dossier_id, vn, vn_system, start_time, end_time,
	status, location_uf, location_room, location_bed, created_at, updated_at`

func (r *repoPG) CreateVenue(ctx context.Context, v *Venue) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO venue (
			id, dossier_id, vn, vn_system, start_time, end_time, status,
			location_uf, location_room, location_bed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		v.ID, v.DossierID, v.VN, v.VNSystem, v.Start, v.End, v.Status,
		v.Location.UF, v.Location.Room, v.Location.Bed,
	)
	return err
}

func (r *repoPG) UpdateVenue(ctx context.Context, v *Venue) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE venue SET
			start_time = $2, end_time = $3, status = $4,
			location_uf = $5, location_room = $6, location_bed = $7,
			updated_at = NOW()
		WHERE id = $1`,
		v.ID, v.Start, v.End, v.Status,
		v.Location.UF, v.Location.Room, v.Location.Bed,
	)
	return err
}

func (r *repoPG) GetVenue(ctx context.Context, id uuid.UUID) (*Venue, error) {
	return scanVenue(r.conn(ctx).QueryRow(ctx,
		`SELECT `+venueCols+` FROM venue WHERE id = $1`, id))
}

func (r *repoPG) FindVenueByVN(ctx context.Context, system, vn string) (*Venue, error) {
	v, err := scanVenue(r.conn(ctx).QueryRow(ctx,
		`SELECT `+venueCols+` FROM venue WHERE vn_system = $1 AND vn = $2`,
		system, vn))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *repoPG) VenuesForDossier(ctx context.Context, dossierID uuid.UUID) ([]*Venue, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+venueCols+` FROM venue WHERE dossier_id = $1 ORDER BY start_time`,
		dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repoPG) ActiveVenueForDossier(ctx context.Context, dossierID uuid.UUID) (*Venue, error) {
	v, err := scanVenue(r.conn(ctx).QueryRow(ctx,
		`SELECT `+venueCols+` FROM venue WHERE dossier_id = $1 AND status = $2`,
		dossierID, StatusActive))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

const movementCols = `id, venue_id, sequence, mvt_id, ts, trigger_code,
	action, historic, original_trigger, medical_uf_code, medical_uf_label,
	care_uf_code, care_uf_label, nature, location_uf, location_room,
	location_bed, cancels_sequence, cancelled, created_at`

func (r *repoPG) AddMovement(ctx context.Context, m *Movement) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO movement (
			id, venue_id, sequence, mvt_id, ts, trigger_code, action, historic,
			original_trigger, medical_uf_code, medical_uf_label, care_uf_code,
			care_uf_label, nature, location_uf, location_room, location_bed,
			cancels_sequence, cancelled
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		m.ID, m.VenueID, m.Sequence, m.MVTID, m.Timestamp, m.Trigger, m.Action,
		m.Historic, m.OriginalTrigger, m.MedicalUFCode, m.MedicalUFLabel,
		m.CareUFCode, m.CareUFLabel, m.Nature,
		m.Location.UF, m.Location.Room, m.Location.Bed,
		m.CancelsSequence, m.Cancelled,
	)
	return err
}

func (r *repoPG) UpdateMovement(ctx context.Context, m *Movement) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE movement SET cancelled = $2, cancels_sequence = $3 WHERE id = $1`,
		m.ID, m.Cancelled, m.CancelsSequence)
	return err
}

func (r *repoPG) Movements(ctx context.Context, venueID uuid.UUID) ([]*Movement, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+movementCols+` FROM movement WHERE venue_id = $1 ORDER BY sequence`,
		venueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Movement
	for rows.Next() {
		m := &Movement{}
		if err := rows.Scan(&m.ID, &m.VenueID, &m.Sequence, &m.MVTID,
			&m.Timestamp, &m.Trigger, &m.Action, &m.Historic,
			&m.OriginalTrigger, &m.MedicalUFCode, &m.MedicalUFLabel,
			&m.CareUFCode, &m.CareUFLabel, &m.Nature,
			&m.Location.UF, &m.Location.Room, &m.Location.Bed,
			&m.CancelsSequence, &m.Cancelled, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanDossier(row pgx.Row) (*Dossier, error) {
	d := &Dossier{}
	err := row.Scan(&d.ID, &d.PatientID, &d.JuridicalEntityID, &d.NDA,
		&d.NDASystem, &d.AdmitTime, &d.Type, &d.MedicalUFCode,
		&d.HousingUFCode, &d.CareUFCode, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanVenue(row pgx.Row) (*Venue, error) {
	v := &Venue{}
	err := row.Scan(&v.ID, &v.DossierID, &v.VN, &v.VNSystem, &v.Start,
		&v.End, &v.Status, &v.Location.UF, &v.Location.Room,
		&v.Location.Bed, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}
