package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/calcwatch/internal/core/domain"
)

// FileRepo implements storage.FileRepository using PostgreSQL.
type FileRepo struct {
	db *DB
}

// NewFileRepo creates a new PostgreSQL file repository.
func NewFileRepo(db *DB) *FileRepo {
	return &FileRepo{db: db}
}

type fileRow struct {
	ID        int64     `db:"id"`
	CalcID    string    `db:"calc_id"`
	FileType  string    `db:"file_type"`
	Name      string    `db:"name"`
	Path      string    `db:"path"`
	SizeBytes int64     `db:"size_bytes"`
	Checksum  string    `db:"checksum"`
	CreatedAt time.Time `db:"created_at"`
}

// Add records a file association.
func (r *FileRepo) Add(ctx context.Context, f *domain.FileRecord) error {
	query := `
		INSERT INTO files (calc_id, file_type, name, path, size_bytes, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &f.ID, query,
			f.CalcID, string(f.Type), f.Name, f.Path, f.SizeBytes, f.Checksum); err != nil {
			return fmt.Errorf("failed to add file record: %w", err)
		}
		return nil
	})
}

// GetByCalculation returns all file records of a calculation, newest first.
func (r *FileRepo) GetByCalculation(ctx context.Context, calcID string) ([]*domain.FileRecord, error) {
	var rows []fileRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM files WHERE calc_id = $1 ORDER BY created_at DESC`, calcID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}

	out := make([]*domain.FileRecord, 0, len(rows))
	for i := range rows {
		row := rows[i]
		out = append(out, &domain.FileRecord{
			ID:        row.ID,
			CalcID:    row.CalcID,
			Type:      domain.FileType(row.FileType),
			Name:      row.Name,
			Path:      row.Path,
			SizeBytes: row.SizeBytes,
			Checksum:  row.Checksum,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
