package kpata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/marcdevi/kpata/config"
	"github.com/marcdevi/kpata/model"
)

// fakeDataSource is an in-memory stand-in for the postgres layer. It keeps
// the same invariants the real queries enforce: unique idempotency keys,
// append-only entries and one dead-letter row per job.
type fakeDataSource struct {
	mu         sync.Mutex
	accounts   map[string]*model.Account
	jobs       map[string]*model.Job
	byIdemKey  map[string]string
	entries    []model.CreditEntry
	assets     []model.Asset
	failed     map[string]*model.FailedJob
	violations []model.Violation
	routings   map[string]*model.ModelRouting

	routingErr error
}

func newFakeDataSource() *fakeDataSource {
	return &fakeDataSource{
		accounts:  make(map[string]*model.Account),
		jobs:      make(map[string]*model.Job),
		byIdemKey: make(map[string]string),
		failed:    make(map[string]*model.FailedJob),
		routings:  make(map[string]*model.ModelRouting),
	}
}

func (f *fakeDataSource) AdmitJob(_ context.Context, jb *model.Job, cost int64) (*model.Job, bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existingID, ok := f.byIdemKey[jb.IdempotencyKey]; ok {
		return f.jobs[existingID], false, f.balanceLocked(jb.AccountID), nil
	}

	balance := f.balanceLocked(jb.AccountID)
	if balance+cost < 0 {
		return nil, false, balance, fmt.Errorf("insufficient credits")
	}

	jb.Status = model.JobStatusQueued
	jb.CreatedAt = time.Now()
	jb.QueuedAt = jb.CreatedAt
	f.jobs[jb.JobID] = jb
	f.byIdemKey[jb.IdempotencyKey] = jb.JobID
	f.entries = append(f.entries, model.CreditEntry{
		EntryID: model.GenerateUUIDWithSuffix("ent"), AccountID: jb.AccountID,
		Amount: cost, Reason: model.EntryReasonGeneration, JobID: jb.JobID,
	})
	return jb, true, balance + cost, nil
}

func (f *fakeDataSource) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jb, ok := f.jobs[jobID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *jb
	return &clone, nil
}

func (f *fakeDataSource) GetJobStatus(_ context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jb, ok := f.jobs[jobID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return jb.Status, nil
}

func (f *fakeDataSource) UpdateJobStatus(_ context.Context, jobID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	jb, ok := f.jobs[jobID]
	if !ok {
		return sql.ErrNoRows
	}
	jb.Status = status
	return nil
}

func (f *fakeDataSource) MarkJobProcessing(_ context.Context, jobID string, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	jb := f.jobs[jobID]
	jb.Status = model.JobStatusProcessing
	jb.Attempts = attempts
	jb.ProcessingStartedAt = time.Now()
	return nil
}

func (f *fakeDataSource) RecordJobFailure(_ context.Context, jobID, code, message string, attempts int, durations map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	jb := f.jobs[jobID]
	jb.Status = model.JobStatusQueued
	jb.LastErrorCode = code
	jb.LastErrorMessage = message
	jb.Attempts = attempts
	jb.StageDurations = durations
	return nil
}

func (f *fakeDataSource) CompleteJob(_ context.Context, jobID string, durations map[string]int64, totalMillis int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	jb := f.jobs[jobID]
	jb.Status = model.JobStatusCompleted
	jb.StageDurations = durations
	jb.TotalDurationMillis = totalMillis
	jb.CompletedAt = time.Now()
	return nil
}

func (f *fakeDataSource) balanceLocked(accountID string) int64 {
	var sum int64
	for _, e := range f.entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum
}

func (f *fakeDataSource) Balance(_ context.Context, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceLocked(accountID), nil
}

func (f *fakeDataSource) CreditEntries(_ context.Context, accountID string) ([]model.CreditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CreditEntry
	for _, e := range f.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeDataSource) RecordEntry(_ context.Context, entry *model.CreditEntry) (*model.CreditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("ent")
	}
	entry.CreatedAt = time.Now()
	f.entries = append(f.entries, *entry)
	return entry, nil
}

func (f *fakeDataSource) GetOrCreateAccount(_ context.Context, accountID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, ok := f.accounts[accountID]; ok {
		clone := *acc
		return &clone, nil
	}
	acc := &model.Account{AccountID: accountID, Tier: "free", Locale: "uz", Status: model.AccountStatusActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.accounts[accountID] = acc
	clone := *acc
	return &clone, nil
}

func (f *fakeDataSource) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	return f.GetOrCreateAccount(ctx, accountID)
}

func (f *fakeDataSource) IncrementViolationCount(_ context.Context, accountID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[accountID]
	if !ok {
		acc = &model.Account{AccountID: accountID, Tier: "free", Locale: "uz", Status: model.AccountStatusActive}
		f.accounts[accountID] = acc
	}
	acc.ViolationCount++
	acc.UpdatedAt = time.Now()
	clone := *acc
	return &clone, nil
}

func (f *fakeDataSource) UpdateAccountStatus(_ context.Context, accountID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountID].Status = status
	return nil
}

func (f *fakeDataSource) InsertViolation(_ context.Context, violation *model.Violation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, *violation)
	return nil
}

func (f *fakeDataSource) RecordAsset(_ context.Context, as *model.Asset) (*model.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if as.AssetID == "" {
		as.AssetID = model.GenerateUUIDWithSuffix("ast")
	}
	f.assets = append(f.assets, *as)
	return as, nil
}

func (f *fakeDataSource) GetAssetsForJob(_ context.Context, jobID string) ([]model.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Asset
	for _, as := range f.assets {
		if as.JobID == jobID {
			out = append(out, as)
		}
	}
	return out, nil
}

func (f *fakeDataSource) InsertFailedJob(_ context.Context, fj *model.FailedJob) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.failed[fj.JobID]; ok {
		return false, nil
	}
	fj.FailedAt = time.Now()
	f.failed[fj.JobID] = fj
	return true, nil
}

func (f *fakeDataSource) ListFailedJobs(_ context.Context, limit, offset int) ([]model.FailedJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.FailedJob
	for _, fj := range f.failed {
		out = append(out, *fj)
	}
	return out, nil
}

func (f *fakeDataSource) MarkFailedJobReviewed(_ context.Context, jobID, reviewer, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fj, ok := f.failed[jobID]
	if !ok {
		return sql.ErrNoRows
	}
	fj.Reviewed = true
	fj.ReviewedBy = reviewer
	fj.ReviewNotes = notes
	return nil
}

func (f *fakeDataSource) GetModelRouting(_ context.Context, category string) (*model.ModelRouting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routingErr != nil {
		return nil, f.routingErr
	}
	routing, ok := f.routings[category]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *routing
	return &clone, nil
}

func (f *fakeDataSource) refundCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.entries {
		if e.JobID == jobID && e.Reason == model.EntryReasonRefund {
			count++
		}
	}
	return count
}

// fakeStore keeps objects in a map. failSubstr makes Put fail selectively
// for keys containing it, so tests can take down a single rendition.
type fakeStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	getErr     error
	putErr     error
	failSubstr string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(_ context.Context, key string, _ string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	if s.failSubstr != "" && strings.Contains(key, s.failSubstr) {
		return fmt.Errorf("upload outage for %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key], nil
}

func (s *fakeStore) Bucket() string {
	return "kpata-test"
}

func (s *fakeStore) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

// fakeProvider returns a fixed image or a fixed error.
type fakeProvider struct {
	name  string
	image []byte
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(_ context.Context, _, _ string, _ []byte) ([]byte, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.image, nil
}

type fakeNSFW struct {
	flagged bool
	label   string
	err     error
}

func (n *fakeNSFW) Check(_ context.Context, _ []byte) (bool, string, error) {
	return n.flagged, n.label, n.err
}

// newTestKpata wires a service against miniredis, the in-memory fakes and a
// working provider that always answers with a small real image.
func newTestKpata(t *testing.T) (*Kpata, *fakeDataSource, *fakeStore, *fakeProvider) {
	t.Helper()

	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{
			HighQueue: "generations:high", LowQueue: "generations:low",
			NotificationQueue: "notifications", MaxRetryAttempts: 3, Concurrency: 1,
		},
		Generation: config.GenerationConfig{DefaultTimeout: 5, CurrencySuffix: "so'm"},
	})

	cfg, err := config.Fetch()
	require.NoError(t, err)

	sample, err := PlaceholderImage("sample", 64, 64)
	require.NoError(t, err)

	ds := newFakeDataSource()
	store := newFakeStore()
	provider := &fakeProvider{name: "gemini", image: sample}
	providers := map[string]ImageProvider{"gemini": provider}

	k := &Kpata{
		datasource: ds,
		queue:      NewQueue(cfg),
		redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		router:     NewModelRouter(ds, nil, providers, cfg.GenerationTimeout()),
		store:      store,
		nsfw:       nil,
	}
	return k, ds, store, provider
}
