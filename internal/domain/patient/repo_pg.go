package patient

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

const patientCols = `id, family_name, given_names, birth_date, sex,
	birth_place, birth_insee_code, birth_country,
	national_id, national_id_type, ins_in_registry, ins_last_queried_at,
	identity_reliability, merged_into_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.IdentityReliability == "" {
		p.IdentityReliability = ReliabilityProvisional
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			id, family_name, given_names, birth_date, sex,
			birth_place, birth_insee_code, birth_country,
			national_id, national_id_type, ins_in_registry, ins_last_queried_at,
			identity_reliability
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.FamilyName, p.GivenNames, p.BirthDate, p.Sex,
		p.BirthPlace, p.BirthINSEECode, p.BirthCountry,
		p.NationalID, p.NationalIDType, p.INSInRegistry, p.INSLastQueriedAt,
		p.IdentityReliability,
	)
	return err
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			family_name = $2, given_names = $3, birth_date = $4, sex = $5,
			birth_place = $6, birth_insee_code = $7, birth_country = $8,
			national_id = $9, national_id_type = $10, ins_in_registry = $11,
			ins_last_queried_at = $12, identity_reliability = $13,
			merged_into_id = $14, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.FamilyName, p.GivenNames, p.BirthDate, p.Sex,
		p.BirthPlace, p.BirthINSEECode, p.BirthCountry,
		p.NationalID, p.NationalIDType, p.INSInRegistry, p.INSLastQueriedAt,
		p.IdentityReliability, p.MergedIntoID,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) FindByIdentifier(ctx context.Context, idType, system, value string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		SELECT `+prefixCols("p")+`
		FROM patient p
		JOIN patient_identifier pi ON pi.patient_id = p.id
		WHERE pi.type = $1 AND pi.system = $2 AND pi.value = $3`,
		idType, system, value))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *repoPG) AddIdentifier(ctx context.Context, ident *ExternalIdentifier) error {
	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_identifier (id, patient_id, system, type, value, is_primary)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ident.ID, ident.PatientID, ident.System, ident.Type, ident.Value, ident.Primary,
	)
	return err
}

func (r *repoPG) Identifiers(ctx context.Context, patientID uuid.UUID) ([]*ExternalIdentifier, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, system, type, value, is_primary, created_at
		FROM patient_identifier WHERE patient_id = $1 ORDER BY created_at`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExternalIdentifier
	for rows.Next() {
		e := &ExternalIdentifier{}
		if err := rows.Scan(&e.ID, &e.PatientID, &e.System, &e.Type,
			&e.Value, &e.Primary, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) RepointIdentifiers(ctx context.Context, from, to uuid.UUID) error {
	// Demote incoming identifiers whose (type) already has a primary on
	// the absorbing patient, then move everything over.
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_identifier src SET is_primary = FALSE
		WHERE src.patient_id = $1 AND src.is_primary AND EXISTS (
			SELECT 1 FROM patient_identifier dst
			WHERE dst.patient_id = $2 AND dst.type = src.type AND dst.is_primary
		)`, from, to)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE patient_identifier SET patient_id = $2 WHERE patient_id = $1`,
		from, to)
	return err
}

func prefixCols(alias string) string {
	return alias + `.id, ` + alias + `.family_name, ` + alias + `.given_names, ` +
		alias + `.birth_date, ` + alias + `.sex, ` + alias + `.birth_place, ` +
		alias + `.birth_insee_code, ` + alias + `.birth_country, ` +
		alias + `.national_id, ` + alias + `.national_id_type, ` +
		alias + `.ins_in_registry, ` + alias + `.ins_last_queried_at, ` +
		alias + `.identity_reliability, ` + alias + `.merged_into_id, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

func scanPatient(row pgx.Row) (*Patient, error) {
	p := &Patient{}
	err := row.Scan(&p.ID, &p.FamilyName, &p.GivenNames, &p.BirthDate, &p.Sex,
		&p.BirthPlace, &p.BirthINSEECode, &p.BirthCountry,
		&p.NationalID, &p.NationalIDType, &p.INSInRegistry, &p.INSLastQueriedAt,
		&p.IdentityReliability, &p.MergedIntoID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
