package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
)

// WorkflowRepo implements storage.WorkflowRepository using PostgreSQL.
type WorkflowRepo struct {
	db *DB
}

// NewWorkflowRepo creates a new PostgreSQL workflow repository.
func NewWorkflowRepo(db *DB) *WorkflowRepo {
	return &WorkflowRepo{db: db}
}

type templateRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Steps     []byte    `db:"steps"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *templateRow) toDomain() (*domain.WorkflowTemplate, error) {
	t := &domain.WorkflowTemplate{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Steps) > 0 {
		if err := json.Unmarshal(r.Steps, &t.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode template steps for %s: %w", r.ID, err)
		}
	}
	return t, nil
}

type instanceRow struct {
	ID          string    `db:"id"`
	MaterialID  string    `db:"material_id"`
	TemplateID  string    `db:"template_id"`
	CurrentStep int       `db:"current_step"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *instanceRow) toDomain() *domain.WorkflowInstance {
	return &domain.WorkflowInstance{
		ID:          r.ID,
		MaterialID:  r.MaterialID,
		TemplateID:  r.TemplateID,
		CurrentStep: r.CurrentStep,
		Status:      domain.WorkflowStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// SaveTemplate upserts a template by name.
func (r *WorkflowRepo) SaveTemplate(ctx context.Context, t *domain.WorkflowTemplate) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode template steps: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (id, name, steps, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET steps = EXCLUDED.steps
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query, t.ID, t.Name, steps); err != nil {
			return fmt.Errorf("failed to save template: %w", err)
		}
		return nil
	})
}

// GetTemplate retrieves a template by id.
func (r *WorkflowRepo) GetTemplate(ctx context.Context, id string) (*domain.WorkflowTemplate, error) {
	var row templateRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM workflow_templates WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return row.toDomain()
}

// GetTemplateByName retrieves a template by its unique name.
func (r *WorkflowRepo) GetTemplateByName(ctx context.Context, name string) (*domain.WorkflowTemplate, error) {
	var row templateRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM workflow_templates WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return row.toDomain()
}

// CreateInstance binds a template to a material.
func (r *WorkflowRepo) CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	if inst.Status == "" {
		inst.Status = domain.WorkflowStatusActive
	}

	query := `
		INSERT INTO workflow_instances (id, material_id, template_id, current_step, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			inst.ID, inst.MaterialID, inst.TemplateID, inst.CurrentStep, string(inst.Status))
		if err != nil {
			return fmt.Errorf("failed to create workflow instance: %w", err)
		}
		return nil
	})
}

// GetInstance retrieves an instance by id.
func (r *WorkflowRepo) GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	var row instanceRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM workflow_instances WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	return row.toDomain(), nil
}

// GetActiveInstance returns the material's active instance.
func (r *WorkflowRepo) GetActiveInstance(ctx context.Context, materialID string) (*domain.WorkflowInstance, error) {
	query := `
		SELECT * FROM workflow_instances
		WHERE material_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1
	`
	var row instanceRow
	err := r.db.GetContext(ctx, &row, query, materialID, string(domain.WorkflowStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active instance: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateInstanceStatus moves an instance through active -> completed|failed|paused.
func (r *WorkflowRepo) UpdateInstanceStatus(ctx context.Context, id string, status domain.WorkflowStatus) error {
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workflow_instances SET status = $2, updated_at = NOW() WHERE id = $1`,
			id, string(status))
		if err != nil {
			return fmt.Errorf("failed to update instance status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// AdvanceInstance moves the current-step cursor.
func (r *WorkflowRepo) AdvanceInstance(ctx context.Context, id string, step int) error {
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workflow_instances SET current_step = $2, updated_at = NOW() WHERE id = $1`,
			id, step)
		if err != nil {
			return fmt.Errorf("failed to advance instance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}
