package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

const jobColumns = `job_id, account_id, idempotency_key, category, background_style, template_layout,
	mannequin_mode, custom_prompt, source_channel, source_image_key, priority, status, attempts,
	COALESCE(last_error_code, ''), COALESCE(last_error_message, ''), stage_durations, total_duration_ms,
	created_at, COALESCE(queued_at, created_at), COALESCE(processing_started_at, 'epoch'), COALESCE(completed_at, 'epoch')`

func scanJob(row interface{ Scan(...interface{}) error }) (*model.Job, error) {
	jb := &model.Job{}
	var durationsJSON []byte
	err := row.Scan(&jb.JobID, &jb.AccountID, &jb.IdempotencyKey, &jb.Category, &jb.BackgroundStyle,
		&jb.TemplateLayout, &jb.MannequinMode, &jb.CustomPrompt, &jb.SourceChannel, &jb.SourceImageKey,
		&jb.Priority, &jb.Status, &jb.Attempts, &jb.LastErrorCode, &jb.LastErrorMessage, &durationsJSON,
		&jb.TotalDurationMillis, &jb.CreatedAt, &jb.QueuedAt, &jb.ProcessingStartedAt, &jb.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(durationsJSON) > 0 {
		if err := json.Unmarshal(durationsJSON, &jb.StageDurations); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal stage durations", err)
		}
	}
	return jb, nil
}

// AdmitJob performs the admission's atomic unit: existence check by
// idempotency key, balance check, job insert and debit insert inside one
// serializable transaction. A concurrent duplicate that loses the race hits
// the unique constraint and is answered with the pre-existing job and no
// second debit.
func (d Datasource) AdmitJob(ctx context.Context, jb *model.Job, cost int64) (*model.Job, bool, int64, error) {
	ctx, span := otel.Tracer("kpata.admission").Start(ctx, "Admitting job in db")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin admission transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, balance, err := d.findExistingAdmission(ctx, tx, jb)
	if err != nil {
		return nil, false, 0, err
	}
	if existing != nil {
		return existing, false, balance, nil
	}

	if balance+cost < 0 {
		return nil, false, balance, apierror.NewAPIError(apierror.ErrInsufficientCredits,
			fmt.Sprintf("Account '%s' has insufficient credits: balance %d, required %d", jb.AccountID, balance, -cost), nil)
	}

	now := time.Now()
	jb.Status = model.JobStatusQueued
	jb.CreatedAt = now
	jb.QueuedAt = now
	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs(job_id, account_id, idempotency_key, category, background_style, template_layout,
			mannequin_mode, custom_prompt, source_channel, source_image_key, priority, status, created_at, queued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		jb.JobID, jb.AccountID, jb.IdempotencyKey, jb.Category, jb.BackgroundStyle, jb.TemplateLayout,
		jb.MannequinMode, jb.CustomPrompt, jb.SourceChannel, jb.SourceImageKey, jb.Priority, jb.Status,
		jb.CreatedAt, jb.QueuedAt)
	if err != nil {
		if dup := d.retryAsDuplicate(ctx, err, jb); dup != nil {
			currentBalance, balErr := d.Balance(ctx, jb.AccountID)
			if balErr != nil {
				return nil, false, 0, balErr
			}
			return dup, false, currentBalance, nil
		}
		return nil, false, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert job", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_entries(entry_id, account_id, amount, reason, job_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		model.GenerateUUIDWithSuffix("ent"), jb.AccountID, cost, model.EntryReasonGeneration, jb.JobID, now)
	if err != nil {
		return nil, false, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record debit entry", err)
	}

	if err := tx.Commit(); err != nil {
		if dup := d.retryAsDuplicate(ctx, err, jb); dup != nil {
			currentBalance, balErr := d.Balance(ctx, jb.AccountID)
			if balErr != nil {
				return nil, false, 0, balErr
			}
			return dup, false, currentBalance, nil
		}
		return nil, false, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit admission", err)
	}

	return jb, true, balance + cost, nil
}

// findExistingAdmission resolves the idempotency key and account balance
// inside the admission transaction.
func (d Datasource) findExistingAdmission(ctx context.Context, tx *sql.Tx, jb *model.Job) (*model.Job, int64, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, jb.IdempotencyKey)
	existing, err := scanJob(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check idempotency key", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_entries WHERE account_id = $1`, jb.AccountID).Scan(&balance)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute balance", err)
	}

	return existing, balance, nil
}

// retryAsDuplicate maps a unique-constraint collision on the idempotency key
// to the job the concurrent winner created. Any other error returns nil.
func (d Datasource) retryAsDuplicate(ctx context.Context, err error, jb *model.Job) *model.Job {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code != "23505" {
		return nil
	}
	row := d.Conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, jb.IdempotencyKey)
	existing, scanErr := scanJob(row)
	if scanErr != nil {
		return nil
	}
	return existing
}

func (d Datasource) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	jb, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", jobID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve job", err)
	}
	return jb, nil
}

func (d Datasource) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	var status string
	err := d.Conn.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", jobID), err)
		}
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve job status", err)
	}
	return status, nil
}

func (d Datasource) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	result, err := d.Conn.ExecContext(ctx, `UPDATE jobs SET status = $2 WHERE job_id = $1`, jobID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update job status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", jobID), nil)
	}
	return nil
}

// MarkJobProcessing flips the job into processing and records the attempt the
// worker is about to run.
func (d Datasource) MarkJobProcessing(ctx context.Context, jobID string, attempts int) error {
	_, err := d.Conn.ExecContext(ctx,
		`UPDATE jobs SET status = $2, attempts = $3, processing_started_at = NOW() WHERE job_id = $1`,
		jobID, model.JobStatusProcessing, attempts)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark job processing", err)
	}
	return nil
}

// RecordJobFailure persists the error and stage timings of a retryable
// failure and puts the job back into queued so the queue's redelivery picks
// it up again.
func (d Datasource) RecordJobFailure(ctx context.Context, jobID, code, message string, attempts int, durations map[string]int64) error {
	durationsJSON, err := json.Marshal(durations)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal stage durations", err)
	}
	_, err = d.Conn.ExecContext(ctx,
		`UPDATE jobs SET status = $2, last_error_code = $3, last_error_message = $4, attempts = $5, stage_durations = $6
		WHERE job_id = $1`,
		jobID, model.JobStatusQueued, code, message, attempts, durationsJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record job failure", err)
	}
	return nil
}

func (d Datasource) CompleteJob(ctx context.Context, jobID string, durations map[string]int64, totalMillis int64) error {
	durationsJSON, err := json.Marshal(durations)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal stage durations", err)
	}
	_, err = d.Conn.ExecContext(ctx,
		`UPDATE jobs SET status = $2, stage_durations = $3, total_duration_ms = $4, completed_at = NOW()
		WHERE job_id = $1`,
		jobID, model.JobStatusCompleted, durationsJSON, totalMillis)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete job", err)
	}
	return nil
}
