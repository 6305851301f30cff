package identifier

import (
	"context"
	"errors"

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

const nsCols = `id, name, system, oid, type, juridical_entity_id, mode,
	prefix_pattern, range_min, range_max, created_at`

func (r *repoPG) CreateNamespace(ctx context.Context, ns *Namespace) error {
	ns.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identifier_namespace (
			id, name, system, oid, type, juridical_entity_id, mode,
			prefix_pattern, range_min, range_max
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ns.ID, ns.Name, ns.System, ns.OID, ns.Type, ns.JuridicalEntityID,
		ns.Mode, ns.PrefixPattern, ns.RangeMin, ns.RangeMax,
	)
	return err
}

func (r *repoPG) GetNamespace(ctx context.Context, id uuid.UUID) (*Namespace, error) {
	return scanNS(r.conn(ctx).QueryRow(ctx,
		`SELECT `+nsCols+` FROM identifier_namespace WHERE id = $1`, id))
}

func (r *repoPG) GetNamespaceByTypeAndEntity(ctx context.Context, t Type, ejID *uuid.UUID) (*Namespace, error) {
	// Entity-scoped namespace wins over the global one.
	ns, err := scanNS(r.conn(ctx).QueryRow(ctx, `
		SELECT `+nsCols+` FROM identifier_namespace
		WHERE type = $1 AND juridical_entity_id = $2`, t, ejID))
	if err == nil {
		return ns, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return scanNS(r.conn(ctx).QueryRow(ctx, `
		SELECT `+nsCols+` FROM identifier_namespace
		WHERE type = $1 AND juridical_entity_id IS NULL`, t))
}

func (r *repoPG) ListNamespaces(ctx context.Context) ([]*Namespace, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+nsCols+` FROM identifier_namespace ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Namespace
	for rows.Next() {
		ns, err := scanNS(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func (r *repoPG) Exists(ctx context.Context, t Type, system, value string) (bool, error) {
	var found bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM identifier
			WHERE type = $1 AND system = $2 AND value = $3
		)`, t, system, value).Scan(&found)
	return found, err
}

func (r *repoPG) Insert(ctx context.Context, ident *Identifier) error {
	ident.ID = uuid.New()
	if ident.Status == "" {
		ident.Status = "active"
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identifier (id, value, type, system, status)
		VALUES ($1,$2,$3,$4,$5)`,
		ident.ID, ident.Value, ident.Type, ident.System, ident.Status,
	)
	return err
}

func (r *repoPG) CountAssigned(ctx context.Context, t Type, system string) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM identifier WHERE type = $1 AND system = $2`,
		t, system).Scan(&n)
	return n, err
}

func scanNS(row pgx.Row) (*Namespace, error) {
	ns := &Namespace{}
	err := row.Scan(&ns.ID, &ns.Name, &ns.System, &ns.OID, &ns.Type,
		&ns.JuridicalEntityID, &ns.Mode, &ns.PrefixPattern,
		&ns.RangeMin, &ns.RangeMax, &ns.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ns, nil
}
