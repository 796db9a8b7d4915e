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

// CalcRepo implements storage.CalculationRepository using PostgreSQL.
type CalcRepo struct {
	db *DB
}

// NewCalcRepo creates a new PostgreSQL calculation repository.
func NewCalcRepo(db *DB) *CalcRepo {
	return &CalcRepo{db: db}
}

const calcColumns = `
	id, material_id, calc_type, status, job_id, input_file, output_file,
	work_dir, settings, prerequisite_id, exit_code, failure_kind,
	error_message, recovery_attempts, completion_type, created_at,
	submitted_at, started_at, completed_at`

type calcRow struct {
	ID               string         `db:"id"`
	MaterialID       string         `db:"material_id"`
	CalcType         string         `db:"calc_type"`
	Status           string         `db:"status"`
	JobID            string         `db:"job_id"`
	InputFile        string         `db:"input_file"`
	OutputFile       string         `db:"output_file"`
	WorkDir          string         `db:"work_dir"`
	Settings         []byte         `db:"settings"`
	PrerequisiteID   sql.NullString `db:"prerequisite_id"`
	ExitCode         sql.NullInt32  `db:"exit_code"`
	FailureKind      string         `db:"failure_kind"`
	ErrorMessage     string         `db:"error_message"`
	RecoveryAttempts int            `db:"recovery_attempts"`
	CompletionType   string         `db:"completion_type"`
	CreatedAt        time.Time      `db:"created_at"`
	SubmittedAt      sql.NullTime   `db:"submitted_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
}

func (r *calcRow) toDomain() (*domain.Calculation, error) {
	c := &domain.Calculation{
		ID:               r.ID,
		MaterialID:       r.MaterialID,
		Type:             domain.CalcType(r.CalcType),
		Status:           domain.CalcStatus(r.Status),
		JobID:            r.JobID,
		InputFile:        r.InputFile,
		OutputFile:       r.OutputFile,
		WorkDir:          r.WorkDir,
		FailureKind:      r.FailureKind,
		ErrorMessage:     r.ErrorMessage,
		RecoveryAttempts: r.RecoveryAttempts,
		CompletionType:   domain.CompletionType(r.CompletionType),
		CreatedAt:        r.CreatedAt,
	}
	if len(r.Settings) > 0 {
		if err := json.Unmarshal(r.Settings, &c.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings for %s: %w", r.ID, err)
		}
	}
	if r.PrerequisiteID.Valid {
		c.PrerequisiteID = r.PrerequisiteID.String
	}
	if r.ExitCode.Valid {
		code := int(r.ExitCode.Int32)
		c.ExitCode = &code
	}
	if r.SubmittedAt.Valid {
		t := r.SubmittedAt.Time
		c.SubmittedAt = &t
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		c.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		c.CompletedAt = &t
	}
	return c, nil
}

// Create inserts a new calculation record.
func (r *CalcRepo) Create(ctx context.Context, c *domain.Calculation) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	var prereq sql.NullString
	if c.PrerequisiteID != "" {
		prereq = sql.NullString{String: c.PrerequisiteID, Valid: true}
	}
	if c.CompletionType == "" {
		c.CompletionType = domain.CompletionNormal
	}

	query := `
		INSERT INTO calculations (
			id, material_id, calc_type, status, job_id, input_file, output_file,
			work_dir, settings, prerequisite_id, completion_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			c.ID, c.MaterialID, string(c.Type), string(c.Status), c.JobID,
			c.InputFile, c.OutputFile, c.WorkDir, settings, prereq,
			string(c.CompletionType),
		)
		if err != nil {
			return fmt.Errorf("failed to create calculation: %w", err)
		}
		return nil
	})
}

// Get retrieves a calculation by id.
func (r *CalcRepo) Get(ctx context.Context, id string) (*domain.Calculation, error) {
	query := `SELECT ` + calcColumns + ` FROM calculations WHERE id = $1`

	var row calcRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calculation: %w", err)
	}
	return row.toDomain()
}

// UpdateStatus is the sole status-transition entry point. It locks the row,
// validates the transition against the allowed-transitions table, enforces
// the prerequisite invariant for submitted, and stamps the matching
// timestamp column.
func (r *CalcRepo) UpdateStatus(ctx context.Context, id string, status domain.CalcStatus, upd storage.StatusUpdate) error {
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var row calcRow
		err := tx.GetContext(ctx, &row,
			`SELECT `+calcColumns+` FROM calculations WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock calculation: %w", err)
		}

		from := domain.CalcStatus(row.Status)
		if !domain.CanTransition(from, status) {
			return &storage.ErrInvalidTransition{From: from, To: status}
		}

		if status == domain.CalcStatusSubmitted && row.PrerequisiteID.Valid {
			var prereqStatus string
			err := tx.GetContext(ctx, &prereqStatus,
				`SELECT status FROM calculations WHERE id = $1`, row.PrerequisiteID.String)
			if err != nil {
				return fmt.Errorf("failed to check prerequisite: %w", err)
			}
			if domain.CalcStatus(prereqStatus) != domain.CalcStatusCompleted {
				return storage.ErrPrerequisiteIncomplete
			}
		}

		query := `UPDATE calculations SET status = $2`
		args := []any{id, string(status)}
		n := 3

		if col := timestampColumn(status); col != "" {
			query += fmt.Sprintf(", %s = NOW()", col)
		}
		if status == domain.CalcStatusResubmitted {
			// Clear the prior attempt's run timestamps so the next
			// submission keeps submitted_at <= started_at <= completed_at.
			query += ", started_at = NULL, completed_at = NULL"
		}
		if upd.JobID != "" {
			query += fmt.Sprintf(", job_id = $%d", n)
			args = append(args, upd.JobID)
			n++
		}
		if upd.ExitCode != nil {
			query += fmt.Sprintf(", exit_code = $%d", n)
			args = append(args, *upd.ExitCode)
			n++
		}
		if upd.FailureKind != "" {
			query += fmt.Sprintf(", failure_kind = $%d", n)
			args = append(args, upd.FailureKind)
			n++
		}
		if upd.ErrorMessage != "" {
			query += fmt.Sprintf(", error_message = $%d", n)
			args = append(args, upd.ErrorMessage)
			n++
		}
		query += " WHERE id = $1"

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		return nil
	})
}

// MarkRecoveryAttempt persists mutated settings, flags the attempt and
// increments the bounded counter.
func (r *CalcRepo) MarkRecoveryAttempt(ctx context.Context, id string, settings domain.CalcSettings, ceiling int) error {
	blob, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var attempts int
		err := tx.GetContext(ctx, &attempts,
			`SELECT recovery_attempts FROM calculations WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock calculation: %w", err)
		}
		if attempts >= ceiling {
			return storage.ErrRecoveryCeiling
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE calculations
			SET settings = $2, recovery_attempts = recovery_attempts + 1, completion_type = $3
			WHERE id = $1`,
			id, blob, string(domain.CompletionRecovery))
		if err != nil {
			return fmt.Errorf("failed to mark recovery attempt: %w", err)
		}
		return nil
	})
}

func (r *CalcRepo) selectMany(ctx context.Context, where string, args ...any) ([]*domain.Calculation, error) {
	query := `SELECT ` + calcColumns + ` FROM calculations WHERE ` + where + ` ORDER BY created_at DESC`

	var rows []calcRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query calculations: %w", err)
	}

	calcs := make([]*domain.Calculation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, c)
	}
	return calcs, nil
}

// GetByStatus returns calculations in a given status, newest first.
func (r *CalcRepo) GetByStatus(ctx context.Context, status domain.CalcStatus) ([]*domain.Calculation, error) {
	return r.selectMany(ctx, "status = $1", string(status))
}

// GetByType returns calculations of a given kind, newest first.
func (r *CalcRepo) GetByType(ctx context.Context, t domain.CalcType) ([]*domain.Calculation, error) {
	return r.selectMany(ctx, "calc_type = $1", string(t))
}

// GetByMaterial returns all calculations of a material, newest first.
func (r *CalcRepo) GetByMaterial(ctx context.Context, materialID string) ([]*domain.Calculation, error) {
	return r.selectMany(ctx, "material_id = $1", materialID)
}

// GetActive returns calculations currently occupying the scheduler.
func (r *CalcRepo) GetActive(ctx context.Context) ([]*domain.Calculation, error) {
	return r.selectMany(ctx, "status IN ($1, $2, $3)",
		string(domain.CalcStatusSubmitted),
		string(domain.CalcStatusRunning),
		string(domain.CalcStatusResubmitted))
}

// GetByJobID resolves the calculation holding an external job handle.
func (r *CalcRepo) GetByJobID(ctx context.Context, jobID string) (*domain.Calculation, error) {
	query := `SELECT ` + calcColumns + ` FROM calculations WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`

	var row calcRow
	err := r.db.GetContext(ctx, &row, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calculation by job id: %w", err)
	}
	return row.toDomain()
}
