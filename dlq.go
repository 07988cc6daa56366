package kpata

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

// ListFailedJobs pages through the dead-letter queue for the admin surface.
func (l *Kpata) ListFailedJobs(ctx context.Context, limit, offset int) ([]model.FailedJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return l.datasource.ListFailedJobs(ctx, limit, offset)
}

// ReviewFailedJob marks a dead-lettered job as handled by an operator.
func (l *Kpata) ReviewFailedJob(ctx context.Context, jobID, reviewer, notes string) error {
	if reviewer == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Reviewer is required", nil)
	}
	return l.datasource.MarkFailedJobReviewed(ctx, jobID, reviewer, notes)
}

// RequeueFailedJob puts a dead-lettered job back on its priority lane for a
// fresh run. The original refund stands; a successful rerun is free for the
// user because the failure already cost them a round trip.
func (l *Kpata) RequeueFailedJob(ctx context.Context, jobID string) (*model.Job, error) {
	jb, err := l.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if jb.Status != model.JobStatusFailed {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			"Only failed jobs can be requeued", map[string]interface{}{"status": jb.Status})
	}

	if err := l.datasource.UpdateJobStatus(ctx, jobID, model.JobStatusQueued); err != nil {
		return nil, err
	}

	message := &model.WorkMessage{
		JobID:           jb.JobID,
		AccountID:       jb.AccountID,
		CorrelationID:   model.GenerateUUIDWithSuffix("cor"),
		Priority:        jb.Priority,
		Category:        jb.Category,
		BackgroundStyle: jb.BackgroundStyle,
		TemplateLayout:  jb.TemplateLayout,
		MannequinMode:   jb.MannequinMode,
		CustomPrompt:    jb.CustomPrompt,
		SourceChannel:   jb.SourceChannel,
		SourceImageKey:  jb.SourceImageKey,
	}
	if err := l.queue.EnqueueJob(ctx, message); err != nil {
		// Roll the status back so the operator can try again.
		if rbErr := l.datasource.UpdateJobStatus(ctx, jobID, model.JobStatusFailed); rbErr != nil {
			logrus.Errorf("failed to roll back requeue of %s: %v", jobID, rbErr)
		}
		return nil, err
	}

	logrus.Infof("job %s requeued from dead-letter", jobID)
	return jb, nil
}
