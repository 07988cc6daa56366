package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

// InsertFailedJob records the terminal failure for a job. The unique
// constraint on job_id makes the insert the exactly-once guard: a redelivery
// that crosses the terminal path again inserts nothing and gets false back.
func (d Datasource) InsertFailedJob(ctx context.Context, fj *model.FailedJob) (bool, error) {
	if fj.FailedAt.IsZero() {
		fj.FailedAt = time.Now()
	}
	snapshotJSON, err := json.Marshal(fj.JobSnapshot)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal job snapshot", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO failed_jobs(job_id, account_id, error_code, error_message, attempts, job_snapshot, failed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (job_id) DO NOTHING
	`, fj.JobID, fj.AccountID, fj.ErrorCode, fj.ErrorMessage, fj.Attempts, snapshotJSON, fj.FailedAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert failed job record", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}

func (d Datasource) ListFailedJobs(ctx context.Context, limit, offset int) ([]model.FailedJob, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT job_id, account_id, error_code, COALESCE(error_message, ''), attempts, job_snapshot,
			reviewed, COALESCE(reviewed_by, ''), COALESCE(review_notes, ''), failed_at
		FROM failed_jobs
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve failed jobs", err)
	}
	defer rows.Close()

	var failed []model.FailedJob
	for rows.Next() {
		fj := model.FailedJob{}
		var snapshotJSON []byte
		err = rows.Scan(&fj.JobID, &fj.AccountID, &fj.ErrorCode, &fj.ErrorMessage, &fj.Attempts,
			&snapshotJSON, &fj.Reviewed, &fj.ReviewedBy, &fj.ReviewNotes, &fj.FailedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan failed job", err)
		}
		if len(snapshotJSON) > 0 {
			if err := json.Unmarshal(snapshotJSON, &fj.JobSnapshot); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal job snapshot", err)
			}
		}
		failed = append(failed, fj)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over failed jobs", err)
	}

	return failed, nil
}

func (d Datasource) MarkFailedJobReviewed(ctx context.Context, jobID, reviewer, notes string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE failed_jobs SET reviewed = TRUE, reviewed_by = $2, review_notes = $3 WHERE job_id = $1
	`, jobID, reviewer, notes)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark failed job reviewed", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Failed job with ID '%s' not found", jobID), nil)
	}
	return nil
}
