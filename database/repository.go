package database

import (
	"context"

	"github.com/marcdevi/kpata/model"
)

type job interface {
	AdmitJob(ctx context.Context, jb *model.Job, cost int64) (*model.Job, bool, int64, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	GetJobStatus(ctx context.Context, jobID string) (string, error)
	UpdateJobStatus(ctx context.Context, jobID, status string) error
	MarkJobProcessing(ctx context.Context, jobID string, attempts int) error
	RecordJobFailure(ctx context.Context, jobID, code, message string, attempts int, durations map[string]int64) error
	CompleteJob(ctx context.Context, jobID string, durations map[string]int64, totalMillis int64) error
}

type ledger interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	CreditEntries(ctx context.Context, accountID string) ([]model.CreditEntry, error)
	RecordEntry(ctx context.Context, entry *model.CreditEntry) (*model.CreditEntry, error)
}

type account interface {
	GetOrCreateAccount(ctx context.Context, accountID string) (*model.Account, error)
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	IncrementViolationCount(ctx context.Context, accountID string) (*model.Account, error)
	UpdateAccountStatus(ctx context.Context, accountID, status string) error
	InsertViolation(ctx context.Context, violation *model.Violation) error
}

type asset interface {
	RecordAsset(ctx context.Context, as *model.Asset) (*model.Asset, error)
	GetAssetsForJob(ctx context.Context, jobID string) ([]model.Asset, error)
}

type deadletter interface {
	InsertFailedJob(ctx context.Context, fj *model.FailedJob) (bool, error)
	ListFailedJobs(ctx context.Context, limit, offset int) ([]model.FailedJob, error)
	MarkFailedJobReviewed(ctx context.Context, jobID, reviewer, notes string) error
}

type routing interface {
	GetModelRouting(ctx context.Context, category string) (*model.ModelRouting, error)
}

// IDataSource is the complete persistence contract consumed by the core
// services.
type IDataSource interface {
	job
	ledger
	account
	asset
	deadletter
	routing
}
