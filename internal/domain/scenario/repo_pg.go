package scenario

import (
	"context"
	"time"

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

func (r *repoPG) SaveTemplate(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO scenario_templates (
				id, key, name, protocol, description, category, tags,
				time_config, captured_start
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (key) DO UPDATE SET
				name = EXCLUDED.name,
				protocol = EXCLUDED.protocol,
				description = EXCLUDED.description,
				category = EXCLUDED.category,
				tags = EXCLUDED.tags,
				time_config = EXCLUDED.time_config,
				captured_start = EXCLUDED.captured_start`,
			t.ID, t.Key, t.Name, t.Protocol, t.Description, t.Category,
			t.Tags, t.TimeConfig, t.CapturedStart)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx,
			`DELETE FROM scenario_steps WHERE template_id = $1`, t.ID); err != nil {
			return err
		}
		for i := range t.Steps {
			st := &t.Steps[i]
			if st.ID == uuid.Nil {
				st.ID = uuid.New()
			}
			st.TemplateID = t.ID
			if _, err := q.Exec(ctx, `
				INSERT INTO scenario_steps (
					id, template_id, sequence, semantic, trigger_code, role,
					delay_seconds, dossier_type, location,
					medical_uf_code, medical_uf_label, care_uf_code, care_uf_label,
					nature, action, payload
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
				st.ID, st.TemplateID, st.Sequence, st.Semantic, st.Trigger, st.Role,
				st.DelaySeconds, st.DossierType, st.Location,
				st.MedicalUFCode, st.MedicalUFLabel, st.CareUFCode, st.CareUFLabel,
				st.Nature, st.Action, st.Payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx,
			`DELETE FROM scenario_steps WHERE template_id = $1`, id); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `DELETE FROM scenario_templates WHERE id = $1`, id)
		return err
	})
}

const templateCols = `id, key, name, protocol, description, category, tags,
	time_config, captured_start, created_at`

func (r *repoPG) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM scenario_templates WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return r.loadSteps(ctx, t)
}

func (r *repoPG) FindTemplateByKey(ctx context.Context, key string) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM scenario_templates WHERE key = $1`, key))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.loadSteps(ctx, t)
}

func (r *repoPG) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+templateCols+` FROM scenario_templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) loadSteps(ctx context.Context, t *Template) (*Template, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, template_id, sequence, semantic, trigger_code, role,
			delay_seconds, dossier_type, location,
			medical_uf_code, medical_uf_label, care_uf_code, care_uf_label,
			nature, action, payload
		FROM scenario_steps WHERE template_id = $1 ORDER BY sequence`, t.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.ID, &st.TemplateID, &st.Sequence, &st.Semantic,
			&st.Trigger, &st.Role, &st.DelaySeconds, &st.DossierType, &st.Location,
			&st.MedicalUFCode, &st.MedicalUFLabel, &st.CareUFCode, &st.CareUFLabel,
			&st.Nature, &st.Action, &st.Payload); err != nil {
			return nil, err
		}
		t.Steps = append(t.Steps, st)
	}
	return t, rows.Err()
}

func scanTemplate(row pgx.Row) (*Template, error) {
	t := &Template{}
	err := row.Scan(&t.ID, &t.Key, &t.Name, &t.Protocol, &t.Description,
		&t.Category, &t.Tags, &t.TimeConfig, &t.CapturedStart, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *repoPG) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scenario_runs (
			id, template_key, endpoint_id, status, dry_run, stop_on_error,
			ipp, nda, vn, started_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		run.ID, run.TemplateKey, run.EndpointID, run.Status, run.DryRun,
		run.StopOnError, run.IPP, run.NDA, run.VN, run.StartedAt)
	return err
}

func (r *repoPG) UpdateRun(ctx context.Context, run *Run) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE scenario_runs SET status = $2, finished_at = $3 WHERE id = $1`,
		run.ID, run.Status, run.FinishedAt)
	return err
}

const runCols = `id, template_key, endpoint_id, status, dry_run, stop_on_error,
	ipp, nda, vn, started_at, finished_at`

func (r *repoPG) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(r.conn(ctx).QueryRow(ctx,
		`SELECT `+runCols+` FROM scenario_runs WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return r.loadRunSteps(ctx, run)
}

func (r *repoPG) RunsForTemplate(ctx context.Context, key string, since *time.Time) ([]*Run, error) {
	q := `SELECT ` + runCols + ` FROM scenario_runs WHERE template_key = $1`
	args := []interface{}{key}
	if since != nil {
		q += ` AND started_at >= $2`
		args = append(args, *since)
	}
	q += ` ORDER BY started_at DESC`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, run := range out {
		if _, err := r.loadRunSteps(ctx, run); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *repoPG) loadRunSteps(ctx context.Context, run *Run) (*Run, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, run_id, sequence, trigger_code, control_id, scheduled_at,
			sent_at, status, error_kind, message
		FROM scenario_run_steps WHERE run_id = $1 ORDER BY sequence`, run.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rs := &RunStep{}
		if err := rows.Scan(&rs.ID, &rs.RunID, &rs.Sequence, &rs.Trigger,
			&rs.ControlID, &rs.ScheduledAt, &rs.SentAt, &rs.Status,
			&rs.ErrorKind, &rs.Message); err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, rs)
	}
	return run, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	err := row.Scan(&run.ID, &run.TemplateKey, &run.EndpointID, &run.Status,
		&run.DryRun, &run.StopOnError, &run.IPP, &run.NDA, &run.VN,
		&run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *repoPG) AddRunStep(ctx context.Context, rs *RunStep) error {
	if rs.ID == uuid.Nil {
		rs.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scenario_run_steps (
			id, run_id, sequence, trigger_code, control_id, scheduled_at,
			sent_at, status, error_kind, message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rs.ID, rs.RunID, rs.Sequence, rs.Trigger, rs.ControlID, rs.ScheduledAt,
		rs.SentAt, rs.Status, rs.ErrorKind, rs.Message)
	return err
}

func (r *repoPG) UpdateRunStep(ctx context.Context, rs *RunStep) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE scenario_run_steps SET
			sent_at = $2, status = $3, error_kind = $4, message = $5
		WHERE id = $1`,
		rs.ID, rs.SentAt, rs.Status, rs.ErrorKind, rs.Message)
	return err
}
