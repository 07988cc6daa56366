package kpata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcdevi/kpata/model"
)

func failJob(t *testing.T, k *Kpata, ds *fakeDataSource, jobID string) {
	t.Helper()
	msg := queuedJob(ds, jobID, nil)
	require.NoError(t, k.HandleExhaustedJob(context.Background(), msg, 4, errors.New("kept failing")))
}

func TestListFailedJobs(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	failJob(t, k, ds, "job_f1")
	failJob(t, k, ds, "job_f2")

	failed, err := k.ListFailedJobs(context.Background(), 0, -1)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
}

func TestReviewFailedJob(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	failJob(t, k, ds, "job_rv")

	require.NoError(t, k.ReviewFailedJob(context.Background(), "job_rv", "ops@kpata", "provider outage"))
	assert.True(t, ds.failed["job_rv"].Reviewed)
	assert.Equal(t, "ops@kpata", ds.failed["job_rv"].ReviewedBy)

	err := k.ReviewFailedJob(context.Background(), "job_rv", "", "")
	require.Error(t, err, "reviewer is required")
}

func TestRequeueFailedJob(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	failJob(t, k, ds, "job_rq")

	jb, err := k.RequeueFailedJob(context.Background(), "job_rq")
	require.NoError(t, err)
	assert.Equal(t, "job_rq", jb.JobID)

	status, err := ds.GetJobStatus(context.Background(), "job_rq")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, status)

	// No extra refund on requeue; the dead-letter refund already happened.
	assert.Equal(t, 1, ds.refundCount("job_rq"))
}

func TestRequeueRejectsNonFailedJob(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	queuedJob(ds, "job_live", nil)

	_, err := k.RequeueFailedJob(context.Background(), "job_live")
	require.Error(t, err)
}
