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

// MaterialRepo implements storage.MaterialRepository using PostgreSQL.
type MaterialRepo struct {
	db *DB
}

// NewMaterialRepo creates a new PostgreSQL material repository.
func NewMaterialRepo(db *DB) *MaterialRepo {
	return &MaterialRepo{db: db}
}

type materialRow struct {
	ID             string    `db:"id"`
	Formula        string    `db:"formula"`
	SpacegroupNum  int       `db:"spacegroup_num"`
	Dimensionality string    `db:"dimensionality"`
	Source         string    `db:"source"`
	Metadata       []byte    `db:"metadata"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *materialRow) toDomain() (*domain.Material, error) {
	m := &domain.Material{
		ID:             r.ID,
		Formula:        r.Formula,
		SpacegroupNum:  r.SpacegroupNum,
		Dimensionality: r.Dimensionality,
		Source:         r.Source,
		Status:         domain.MaterialStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", r.ID, err)
		}
	}
	return m, nil
}

// Create inserts a new material.
func (r *MaterialRepo) Create(ctx context.Context, m *domain.Material) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if m.Status == "" {
		m.Status = domain.MaterialStatusActive
	}

	query := `
		INSERT INTO materials (id, formula, spacegroup_num, dimensionality, source, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			m.ID, m.Formula, m.SpacegroupNum, m.Dimensionality, m.Source, meta, string(m.Status))
		if err != nil {
			return fmt.Errorf("failed to create material: %w", err)
		}
		return nil
	})
}

// Get retrieves a material by id.
func (r *MaterialRepo) Get(ctx context.Context, id string) (*domain.Material, error) {
	var row materialRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM materials WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get material: %w", err)
	}
	return row.toDomain()
}

// Update rewrites the mutable material attributes.
func (r *MaterialRepo) Update(ctx context.Context, m *domain.Material) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		UPDATE materials
		SET formula = $2, spacegroup_num = $3, dimensionality = $4, source = $5,
		    metadata = $6, status = $7, updated_at = NOW()
		WHERE id = $1
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			m.ID, m.Formula, m.SpacegroupNum, m.Dimensionality, m.Source, meta, string(m.Status))
		if err != nil {
			return fmt.Errorf("failed to update material: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// Archive marks a material archived. Materials are never hard-deleted.
func (r *MaterialRepo) Archive(ctx context.Context, id string) error {
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE materials SET status = $2, updated_at = NOW() WHERE id = $1`,
			id, string(domain.MaterialStatusArchived))
		if err != nil {
			return fmt.Errorf("failed to archive material: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// List returns materials in a lifecycle status, newest first.
func (r *MaterialRepo) List(ctx context.Context, status domain.MaterialStatus) ([]*domain.Material, error) {
	var rows []materialRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM materials WHERE status = $1 ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}

	out := make([]*domain.Material, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
