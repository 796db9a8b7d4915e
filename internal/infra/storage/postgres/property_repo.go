package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/calcwatch/internal/core/domain"
)

// PropertyRepo implements storage.PropertyRepository using PostgreSQL.
// Properties are append-only.
type PropertyRepo struct {
	db *DB
}

// NewPropertyRepo creates a new PostgreSQL property repository.
func NewPropertyRepo(db *DB) *PropertyRepo {
	return &PropertyRepo{db: db}
}

type propertyRow struct {
	ID         int64           `db:"id"`
	MaterialID string          `db:"material_id"`
	CalcID     sql.NullString  `db:"calc_id"`
	Name       string          `db:"name"`
	NumValue   sql.NullFloat64 `db:"num_value"`
	TextValue  sql.NullString  `db:"text_value"`
	Unit       string          `db:"unit"`
	CreatedAt  time.Time       `db:"created_at"`
}

func (r *propertyRow) toDomain() *domain.Property {
	p := &domain.Property{
		ID:         r.ID,
		MaterialID: r.MaterialID,
		Name:       r.Name,
		Unit:       r.Unit,
		CreatedAt:  r.CreatedAt,
	}
	if r.CalcID.Valid {
		p.CalcID = r.CalcID.String
	}
	if r.NumValue.Valid {
		v := r.NumValue.Float64
		p.NumValue = &v
	}
	if r.TextValue.Valid {
		v := r.TextValue.String
		p.TextValue = &v
	}
	return p
}

// Add appends a property.
func (r *PropertyRepo) Add(ctx context.Context, p *domain.Property) error {
	var calcID sql.NullString
	if p.CalcID != "" {
		calcID = sql.NullString{String: p.CalcID, Valid: true}
	}
	var num sql.NullFloat64
	if p.NumValue != nil {
		num = sql.NullFloat64{Float64: *p.NumValue, Valid: true}
	}
	var text sql.NullString
	if p.TextValue != nil {
		text = sql.NullString{String: *p.TextValue, Valid: true}
	}

	query := `
		INSERT INTO properties (material_id, calc_id, name, num_value, text_value, unit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &p.ID, query,
			p.MaterialID, calcID, p.Name, num, text, p.Unit); err != nil {
			return fmt.Errorf("failed to add property: %w", err)
		}
		return nil
	})
}

// GetByMaterial returns all properties of a material, newest first.
func (r *PropertyRepo) GetByMaterial(ctx context.Context, materialID string) ([]*domain.Property, error) {
	var rows []propertyRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM properties WHERE material_id = $1 ORDER BY created_at DESC`, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}

	out := make([]*domain.Property, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
