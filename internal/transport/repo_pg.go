package transport

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

const endpointCols = `id, name, kind, host, port, path, glob, poll_seconds,
	url, timeout_seconds, sending_app, sending_fac, receiving_app, receiving_fac,
	forced_identifier_system, forced_identifier_oid,
	juridical_entity_id, enabled, created_at`

func (r *repoPG) Create(ctx context.Context, e *Endpoint) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO endpoint (
			id, name, kind, host, port, path, glob, poll_seconds,
			url, timeout_seconds, sending_app, sending_fac,
			receiving_app, receiving_fac,
			forced_identifier_system, forced_identifier_oid,
			juridical_entity_id, enabled
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		e.ID, e.Name, e.Kind, e.Host, e.Port, e.Path, e.Glob, e.PollSeconds,
		e.URL, e.TimeoutSeconds, e.SendingApp, e.SendingFac,
		e.ReceivingApp, e.ReceivingFac,
		e.ForcedIdentifierSystem, e.ForcedIdentifierOID,
		e.JuridicalEntityID, e.Enabled)
	return err
}

func (r *repoPG) Update(ctx context.Context, e *Endpoint) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE endpoint SET
			name = $2, kind = $3, host = $4, port = $5, path = $6, glob = $7,
			poll_seconds = $8, url = $9, timeout_seconds = $10,
			sending_app = $11, sending_fac = $12,
			receiving_app = $13, receiving_fac = $14,
			forced_identifier_system = $15, forced_identifier_oid = $16,
			juridical_entity_id = $17, enabled = $18
		WHERE id = $1`,
		e.ID, e.Name, e.Kind, e.Host, e.Port, e.Path, e.Glob, e.PollSeconds,
		e.URL, e.TimeoutSeconds, e.SendingApp, e.SendingFac,
		e.ReceivingApp, e.ReceivingFac,
		e.ForcedIdentifierSystem, e.ForcedIdentifierOID,
		e.JuridicalEntityID, e.Enabled)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM endpoint WHERE id = $1`, id)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return scanEndpoint(r.conn(ctx).QueryRow(ctx,
		`SELECT `+endpointCols+` FROM endpoint WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context) ([]*Endpoint, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+endpointCols+` FROM endpoint ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	e := &Endpoint{}
	err := row.Scan(&e.ID, &e.Name, &e.Kind, &e.Host, &e.Port, &e.Path,
		&e.Glob, &e.PollSeconds, &e.URL, &e.TimeoutSeconds,
		&e.SendingApp, &e.SendingFac, &e.ReceivingApp, &e.ReceivingFac,
		&e.ForcedIdentifierSystem, &e.ForcedIdentifierOID,
		&e.JuridicalEntityID, &e.Enabled, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}
