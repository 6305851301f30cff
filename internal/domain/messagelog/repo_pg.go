package messagelog

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
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

const entryCols = `id, control_id, trigger_code, direction, correlation_id,
	raw, ts, status, diagnostics, endpoint_id, created_at`

func (r *repoPG) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	diags, err := json.Marshal(e.Diagnostics)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO message_log (
			id, control_id, trigger_code, direction, correlation_id,
			raw, ts, status, diagnostics, endpoint_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.ControlID, e.Trigger, e.Direction, e.CorrelationID,
		e.Raw, e.Timestamp, e.Status, diags, e.EndpointID,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM message_log WHERE id = $1`, id))
}

func (r *repoPG) FindByControlID(ctx context.Context, controlID string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM message_log WHERE control_id = $1`, controlID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) FindByCorrelationID(ctx context.Context, correlationID string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM message_log
		WHERE correlation_id = $1 ORDER BY ts`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *repoPG) UpdateStatus(ctx context.Context, e *Entry) error {
	diags, err := json.Marshal(e.Diagnostics)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE message_log SET status = $2, diagnostics = $3 WHERE id = $1`,
		e.ID, e.Status, diags)
	return err
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Entry, error) {
	q := `SELECT ` + entryCols + ` FROM message_log WHERE 1=1`
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		q += cond
	}
	if f.Status != "" {
		add(` AND status = $`+strconv.Itoa(len(args)+1), f.Status)
	}
	if f.Direction != "" {
		add(` AND direction = $`+strconv.Itoa(len(args)+1), f.Direction)
	}
	if f.EndpointID != nil {
		add(` AND endpoint_id = $`+strconv.Itoa(len(args)+1), *f.EndpointID)
	}
	if f.Since != nil {
		add(` AND ts >= $`+strconv.Itoa(len(args)+1), *f.Since)
	}
	q += ` ORDER BY ts DESC`
	if f.Limit > 0 {
		add(` LIMIT $`+strconv.Itoa(len(args)+1), f.Limit)
	}

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var diags []byte
	err := row.Scan(&e.ID, &e.ControlID, &e.Trigger, &e.Direction,
		&e.CorrelationID, &e.Raw, &e.Timestamp, &e.Status, &diags,
		&e.EndpointID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(diags) > 0 {
		var ds diag.Diagnostics
		if err := json.Unmarshal(diags, &ds); err == nil {
			e.Diagnostics = ds
		}
	}
	return e, nil
}
