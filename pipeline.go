/*
Copyright 2025 Kpata Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kpata

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marcdevi/kpata/config"
	redlock "github.com/marcdevi/kpata/internal/lock"
	"github.com/marcdevi/kpata/internal/notification"
	"github.com/marcdevi/kpata/model"
)

const (
	jobLockDuration = 10 * time.Minute
	jobLockWait     = 30 * time.Second

	generatedImageSize = 1024
)

// StageError is a pipeline failure tagged with the stage that produced it
// and whether redelivery can fix it. Non-retryable errors dead-letter the
// job immediately; retryable ones surface to the queue for backoff.
type StageError struct {
	Stage     string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed [%s]: %s", e.Stage, e.Code, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func retryable(stage, code string, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Message: err.Error(), Retryable: true, Err: err}
}

func terminal(stage, code, message string) *StageError {
	return &StageError{Stage: stage, Code: code, Message: message, Retryable: false}
}

// processingContext is the scratch state of one pipeline invocation. It is
// rebuilt from scratch on every delivery; nothing survives between attempts
// except what the stages persisted.
type processingContext struct {
	message  *model.WorkMessage
	job      *model.Job
	attempt  int
	locale   string
	currency string

	sourceImage []byte
	generated   []byte
	composed    []byte
	provider    string
	model       string

	assetURLs []string

	durations map[string]int64
	startedAt time.Time
}

// ProcessWorkMessage is the worker entrypoint for one delivery of a job.
// Returning nil consumes the task; returning an error hands the job back to
// the queue for backoff redelivery. Terminal outcomes (completed, failed,
// cancelled) always return nil so redelivery stops.
func (l *Kpata) ProcessWorkMessage(ctx context.Context, message *model.WorkMessage, attempt int) error {
	ctx, span := tracer.Start(ctx, "Processing generation job")
	defer span.End()

	locker := redlock.NewLocker(l.redis, fmt.Sprintf("lock:job:%s", message.JobID), message.CorrelationID)
	if err := locker.WaitLock(ctx, jobLockDuration, jobLockWait); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release lock for job %s: %v", message.JobID, err)
		}
	}()

	jb, err := l.datasource.GetJob(ctx, message.JobID)
	if err != nil {
		return err
	}
	if jb.Terminal() {
		logrus.Infof("job %s already %s, dropping redelivery", jb.JobID, jb.Status)
		return nil
	}

	if err := l.datasource.MarkJobProcessing(ctx, jb.JobID, attempt); err != nil {
		return err
	}

	account, err := l.datasource.GetAccount(ctx, jb.AccountID)
	if err != nil {
		return err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	pctx := &processingContext{
		message:   message,
		job:       jb,
		attempt:   attempt,
		locale:    account.Locale,
		currency:  cfg.Generation.CurrencySuffix,
		durations: make(map[string]int64),
		startedAt: time.Now(),
	}

	return l.runStages(ctx, pctx)
}

type stageFunc func(ctx context.Context, pctx *processingContext) *StageError

func (l *Kpata) stages() map[string]stageFunc {
	return map[string]stageFunc{
		model.StageValidate:           l.stageValidate,
		model.StageFetchInput:         l.stageFetchInput,
		model.StageAIGenerate:         l.stageAIGenerate,
		model.StageUploadExport:       l.stageUploadExport,
		model.StageGenerateThumbnails: l.stageGenerateThumbnails,
	}
}

func (l *Kpata) runStages(ctx context.Context, pctx *processingContext) error {
	stages := l.stages()

	for _, stageName := range model.StageOrder {
		cancelled, err := l.abortIfCancelled(ctx, pctx)
		if err != nil {
			return err
		}
		if cancelled {
			return nil
		}

		started := time.Now()
		stageErr := stages[stageName](ctx, pctx)
		pctx.durations[stageName] = time.Since(started).Milliseconds()

		if stageErr != nil {
			return l.handleStageFailure(ctx, pctx, stageErr)
		}
	}

	total := time.Since(pctx.startedAt).Milliseconds()
	if err := l.datasource.CompleteJob(ctx, pctx.job.JobID, pctx.durations, total); err != nil {
		return err
	}
	l.notifyCompletion(ctx, pctx.job, pctx.locale, pctx.assetURLs)
	logrus.Infof("job %s completed in %dms (provider=%s model=%s)", pctx.job.JobID, total, pctx.provider, pctx.model)
	return nil
}

// abortIfCancelled checks for an API-side cancellation between stages. A
// cancelled job keeps its partial stage timings but never resumes.
func (l *Kpata) abortIfCancelled(ctx context.Context, pctx *processingContext) (bool, error) {
	status, err := l.datasource.GetJobStatus(ctx, pctx.job.JobID)
	if err != nil {
		return false, err
	}
	if status != model.JobStatusCancelled {
		return false, nil
	}

	if err := l.datasource.RecordJobFailure(ctx, pctx.job.JobID, "cancelled", "cancelled before completion", pctx.attempt, pctx.durations); err != nil {
		return false, err
	}
	if err := l.datasource.UpdateJobStatus(ctx, pctx.job.JobID, model.JobStatusCancelled); err != nil {
		return false, err
	}
	logrus.Infof("job %s cancelled, aborting pipeline", pctx.job.JobID)
	return true, nil
}

// handleStageFailure persists the failure with the timings collected so far,
// then either hands the job back for redelivery or dead-letters it.
func (l *Kpata) handleStageFailure(ctx context.Context, pctx *processingContext, stageErr *StageError) error {
	if err := l.datasource.RecordJobFailure(ctx, pctx.job.JobID, stageErr.Code, stageErr.Message, pctx.attempt, pctx.durations); err != nil {
		return err
	}

	if stageErr.Retryable {
		logrus.Warnf("job %s failed at %s (attempt %d), retrying: %s", pctx.job.JobID, stageErr.Stage, pctx.attempt, stageErr.Message)
		return stageErr
	}

	return l.deadLetter(ctx, pctx, stageErr)
}

// HandleExhaustedJob dead-letters a job whose deliveries ran out without a
// terminal classification. It is invoked from the queue's retry accounting.
func (l *Kpata) HandleExhaustedJob(ctx context.Context, message *model.WorkMessage, attempt int, cause error) error {
	jb, err := l.datasource.GetJob(ctx, message.JobID)
	if err != nil {
		return err
	}
	if jb.Terminal() {
		return nil
	}

	account, err := l.datasource.GetAccount(ctx, jb.AccountID)
	if err != nil {
		return err
	}

	pctx := &processingContext{message: message, job: jb, attempt: attempt, locale: account.Locale, durations: jb.StageDurations}
	return l.deadLetter(ctx, pctx, &StageError{Stage: "pipeline", Code: "retries_exhausted", Message: cause.Error()})
}

// deadLetter moves a job into its terminal failed state exactly once. The
// dead-letter insert is keyed by job id; only the delivery that actually
// created the row issues the refund and the user notification, so a racing
// redelivery cannot double-refund.
func (l *Kpata) deadLetter(ctx context.Context, pctx *processingContext, stageErr *StageError) error {
	snapshot := map[string]interface{}{
		"category":        pctx.job.Category,
		"priority":        pctx.job.Priority,
		"source_channel":  pctx.job.SourceChannel,
		"template_layout": pctx.job.TemplateLayout,
		"mannequin_mode":  pctx.job.MannequinMode,
		"stage":           stageErr.Stage,
	}

	inserted, err := l.datasource.InsertFailedJob(ctx, &model.FailedJob{
		JobID:        pctx.job.JobID,
		AccountID:    pctx.job.AccountID,
		ErrorCode:    stageErr.Code,
		ErrorMessage: stageErr.Message,
		Attempts:     pctx.attempt,
		JobSnapshot:  snapshot,
	})
	if err != nil {
		return err
	}

	if inserted {
		refund := -model.DebitAmount(pctx.job.MannequinMode)
		if _, err := l.datasource.RecordEntry(ctx, &model.CreditEntry{
			AccountID: pctx.job.AccountID,
			Amount:    refund,
			Reason:    model.EntryReasonRefund,
			JobID:     pctx.job.JobID,
		}); err != nil {
			// The dead-letter row exists but the refund did not land; this
			// needs an operator, not a retry that would re-run the pipeline.
			notification.NotifyError(err)
			logrus.Errorf("refund failed for dead-lettered job %s: %v", pctx.job.JobID, err)
		}
		l.notifyFailure(ctx, pctx.job, pctx.locale)
	}

	if err := l.datasource.UpdateJobStatus(ctx, pctx.job.JobID, model.JobStatusFailed); err != nil {
		return err
	}
	logrus.Warnf("job %s dead-lettered at %s: %s", pctx.job.JobID, stageErr.Stage, stageErr.Message)
	return nil
}

func (l *Kpata) stageValidate(_ context.Context, pctx *processingContext) *StageError {
	msg := pctx.message
	if msg.Category == "" {
		return terminal(model.StageValidate, "invalid_input", "category is required")
	}
	switch msg.TemplateLayout {
	case "", LayoutA, LayoutB, LayoutC:
	default:
		return terminal(model.StageValidate, "invalid_input", fmt.Sprintf("unknown template layout %q", msg.TemplateLayout))
	}
	switch msg.MannequinMode {
	case "", "none", "ghost", "full":
	default:
		return terminal(model.StageValidate, "invalid_input", fmt.Sprintf("unknown mannequin mode %q", msg.MannequinMode))
	}
	return nil
}

func (l *Kpata) stageFetchInput(ctx context.Context, pctx *processingContext) *StageError {
	if pctx.message.SourceImageKey == "" {
		return nil
	}
	data, err := l.store.Get(ctx, pctx.message.SourceImageKey)
	if err != nil {
		return retryable(model.StageFetchInput, "source_fetch_failed", err)
	}
	if len(data) == 0 {
		return terminal(model.StageFetchInput, "source_missing", fmt.Sprintf("source object %s is empty", pctx.message.SourceImageKey))
	}
	pctx.sourceImage = data
	return nil
}

// stageAIGenerate runs the routed generation. Mannequin jobs run a second
// pass that re-renders the first result onto the mannequin. A failure of
// every pairing degrades to the deterministic placeholder instead of
// failing the job; the user keeps their export and the asset metadata names
// the placeholder model.
func (l *Kpata) stageAIGenerate(ctx context.Context, pctx *processingContext) *StageError {
	routing, err := l.router.Route(ctx, pctx.message.Category)
	if err != nil {
		return retryable(model.StageAIGenerate, "routing_failed", err)
	}

	prompt := BuildPrompt(pctx.message, routing)
	generated, provider, modelName, genErr := l.router.Generate(ctx, routing, prompt, pctx.sourceImage)

	if genErr == nil && pctx.message.MannequinMode != "" && pctx.message.MannequinMode != "none" {
		mannequinPrompt := fmt.Sprintf("Render this %s garment on a %s mannequin, keep the background unchanged.",
			pctx.message.Category, pctx.message.MannequinMode)
		second, secondProvider, secondModel, secondErr := l.router.Generate(ctx, routing, mannequinPrompt, generated)
		if secondErr == nil {
			generated, provider, modelName = second, secondProvider, secondModel
		} else {
			logrus.Warnf("mannequin pass failed for job %s, keeping first render: %v", pctx.job.JobID, secondErr)
		}
	}

	if genErr != nil {
		logrus.Warnf("all pairings failed for job %s, degrading to placeholder: %v", pctx.job.JobID, genErr)
		placeholder, phErr := PlaceholderImage(pctx.job.JobID, generatedImageSize, generatedImageSize)
		if phErr != nil {
			return retryable(model.StageAIGenerate, "generation_failed", phErr)
		}
		generated, provider, modelName = placeholder, PlaceholderModelName, PlaceholderModelName
	}

	pctx.generated = generated
	pctx.provider = provider
	pctx.model = modelName
	return nil
}

// stageUploadExport renders each export format at its own target dimensions,
// uploads it and records the asset. A format that fails is logged and
// skipped; the stage fails, retryably, only when no format produced an asset.
func (l *Kpata) stageUploadExport(ctx context.Context, pctx *processingContext) *StageError {
	overlay := OverlayFromMessage(pctx.message, pctx.currency)

	exported := 0
	var lastErr error
	for _, format := range model.DefaultExportFormats {
		rendition, err := Compose(pctx.generated, pctx.message.TemplateLayout, overlay, format.Width, format.Height)
		if err != nil {
			logrus.Warnf("job %s: composing %s rendition failed, skipping format: %v", pctx.job.JobID, format.Tag, err)
			lastErr = err
			continue
		}

		key := fmt.Sprintf("jobs/%s/export_%s.jpg", pctx.job.JobID, format.Tag)
		if err := l.store.Put(ctx, key, "image/jpeg", rendition); err != nil {
			logrus.Warnf("job %s: uploading %s rendition failed, skipping format: %v", pctx.job.JobID, format.Tag, err)
			lastErr = err
			continue
		}

		if err := l.recordExport(ctx, pctx, key, format, len(rendition)); err != nil {
			logrus.Warnf("job %s: recording %s asset failed, skipping format: %v", pctx.job.JobID, format.Tag, err)
			lastErr = err
			continue
		}

		// The last successful rendition seeds the thumbnail stage; the
		// square format lands last so it wins when it succeeds.
		pctx.composed = rendition
		pctx.assetURLs = append(pctx.assetURLs, l.store.PublicURL(key))
		exported++
	}

	if exported == 0 {
		return retryable(model.StageUploadExport, "export_failed", lastErr)
	}
	return nil
}

func (l *Kpata) recordExport(ctx context.Context, pctx *processingContext, key string, format model.ExportFormat, size int) error {
	_, err := l.datasource.RecordAsset(ctx, &model.Asset{
		AccountID:   pctx.job.AccountID,
		JobID:       pctx.job.JobID,
		Bucket:      l.store.Bucket(),
		StorageKey:  key,
		ContentType: "image/jpeg",
		ByteSize:    int64(size),
		Width:       format.Width,
		Height:      format.Height,
		FormatTag:   format.Tag,
		MetaData: map[string]interface{}{
			"provider": pctx.provider,
			"model":    pctx.model,
		},
	})
	return err
}

// stageGenerateThumbnails derives the square previews from the exported
// rendition. Thumbnails are best-effort: every failure is logged and the job
// still completes with whatever previews made it.
func (l *Kpata) stageGenerateThumbnails(ctx context.Context, pctx *processingContext) *StageError {
	source := pctx.composed
	if len(source) == 0 {
		source = pctx.generated
	}

	for _, size := range model.ThumbnailSizes {
		thumb, err := Thumbnail(source, size)
		if err != nil {
			logrus.Warnf("job %s: thumbnail %d failed: %v", pctx.job.JobID, size, err)
			continue
		}

		key := fmt.Sprintf("jobs/%s/thumb_%d.jpg", pctx.job.JobID, size)
		if err := l.store.Put(ctx, key, "image/jpeg", thumb); err != nil {
			logrus.Warnf("job %s: uploading thumbnail %d failed: %v", pctx.job.JobID, size, err)
			continue
		}

		if _, err := l.datasource.RecordAsset(ctx, &model.Asset{
			AccountID:   pctx.job.AccountID,
			JobID:       pctx.job.JobID,
			Bucket:      l.store.Bucket(),
			StorageKey:  key,
			ContentType: "image/jpeg",
			ByteSize:    int64(len(thumb)),
			Width:       size,
			Height:      size,
			FormatTag:   fmt.Sprintf("thumb_%d", size),
			MetaData: map[string]interface{}{
				"provider": pctx.provider,
				"model":    pctx.model,
			},
		}); err != nil {
			logrus.Warnf("job %s: recording thumbnail %d failed: %v", pctx.job.JobID, size, err)
		}
	}
	return nil
}
