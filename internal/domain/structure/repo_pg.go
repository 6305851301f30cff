package structure

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

const nodeCols = `id, kind, code, label, finess, parent_id,
	juridical_entity_id, virtual, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, n *Node) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO structure_node (
			id, kind, code, label, finess, parent_id, juridical_entity_id, virtual
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.Kind, n.Code, n.Label, n.FINESS, n.ParentID,
		n.JuridicalEntityID, n.Virtual,
	)
	return err
}

func (r *repoPG) Update(ctx context.Context, n *Node) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE structure_node
		SET label = $2, finess = $3, parent_id = $4, virtual = $5,
			updated_at = NOW()
		WHERE id = $1`,
		n.ID, n.Label, n.FINESS, n.ParentID, n.Virtual,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM structure_node WHERE id = $1`, id)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Node, error) {
	return scanNode(r.conn(ctx).QueryRow(ctx,
		`SELECT `+nodeCols+` FROM structure_node WHERE id = $1`, id))
}

func (r *repoPG) FindByCode(ctx context.Context, kind Kind, code string, ejID *uuid.UUID) ([]*Node, error) {
	q := `SELECT ` + nodeCols + ` FROM structure_node WHERE kind = $1 AND code = $2`
	args := []interface{}{kind, code}
	if ejID != nil {
		q += ` AND juridical_entity_id = $3`
		args = append(args, *ejID)
	}
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNodes(rows)
}

func (r *repoPG) Children(ctx context.Context, parentID uuid.UUID) ([]*Node, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+nodeCols+` FROM structure_node
		WHERE parent_id = $1 ORDER BY code`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNodes(rows)
}

func collectNodes(rows pgx.Rows) ([]*Node, error) {
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNode(row pgx.Row) (*Node, error) {
	n := &Node{}
	err := row.Scan(&n.ID, &n.Kind, &n.Code, &n.Label, &n.FINESS,
		&n.ParentID, &n.JuridicalEntityID, &n.Virtual,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}
