package kpata

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

// JobView is a job together with its exported assets, as served to clients.
type JobView struct {
	*model.Job
	Assets    []model.Asset `json:"assets,omitempty"`
	AssetURLs []string      `json:"asset_urls,omitempty"`
}

// GetJob returns the job with its assets and public links.
func (l *Kpata) GetJob(ctx context.Context, jobID string) (*JobView, error) {
	jb, err := l.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &JobView{Job: jb}
	if jb.Status == model.JobStatusCompleted {
		assets, err := l.datasource.GetAssetsForJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		view.Assets = assets
		for _, as := range assets {
			view.AssetURLs = append(view.AssetURLs, l.store.PublicURL(as.StorageKey))
		}
	}
	return view, nil
}

// CancelJob marks a queued or processing job as cancelled. The pipeline
// checks for cancellation between stages and stops; a job that already
// reached a terminal state cannot be cancelled. Spent credits stay spent.
func (l *Kpata) CancelJob(ctx context.Context, jobID string) (*model.Job, error) {
	jb, err := l.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if jb.Terminal() {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			"Job already reached a terminal state", map[string]interface{}{"status": jb.Status})
	}

	if err := l.datasource.UpdateJobStatus(ctx, jobID, model.JobStatusCancelled); err != nil {
		return nil, err
	}
	jb.Status = model.JobStatusCancelled
	logrus.Infof("job %s cancelled", jobID)
	return jb, nil
}
