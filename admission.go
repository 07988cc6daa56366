package kpata

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/internal/notification"
	"github.com/marcdevi/kpata/model"
)

var tracer = otel.Tracer("kpata.core")

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// AdmissionRequest carries everything a front-end submits for one
// generation request. SourceMessageID and ClientRequestID anchor the
// idempotency key; ImagePayload, when present, goes through the NSFW
// pre-check before anything is persisted.
type AdmissionRequest struct {
	AccountID       string `json:"account_id"`
	SourceChannel   string `json:"source_channel"`
	SourceMessageID string `json:"source_message_id,omitempty"`
	ClientRequestID string `json:"client_request_id,omitempty"`
	Category        string `json:"category"`
	BackgroundStyle string `json:"background_style"`
	TemplateLayout  string `json:"template_layout"`
	MannequinMode   string `json:"mannequin_mode"`
	CustomPrompt    string `json:"custom_prompt,omitempty"`
	SourceImageKey  string `json:"source_image_key,omitempty"`
	ImagePayload    []byte `json:"image_payload,omitempty"`
	Price           int64  `json:"price,omitempty"`
	Handle          string `json:"handle,omitempty"`
	Badge           string `json:"badge,omitempty"`
}

func (r AdmissionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.SourceChannel, validation.Required),
		validation.Field(&r.Category, validation.Required),
	)
}

// AdmissionResult is the synchronous answer to an admission request.
type AdmissionResult struct {
	Job          *model.Job `json:"job"`
	WasCreated   bool       `json:"was_created"`
	BalanceAfter int64      `json:"balance_after"`
}

// Admit validates the request, runs the moderation gate and the NSFW
// pre-check, then creates the job and debits the credit inside one atomic
// unit before handing the work to the queue. A duplicate retransmission of
// the same logical request returns the existing job without a second debit.
func (l *Kpata) Admit(ctx context.Context, req *AdmissionRequest) (*AdmissionResult, error) {
	ctx, span := tracer.Start(ctx, "Admitting generation request")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid admission request", err)
	}

	gate, err := l.CanCreateJob(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if !gate.Allowed {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, gate.Reason, map[string]interface{}{
			"status":          gate.Status,
			"violation_count": gate.ViolationCount,
			"cooldown_until":  gate.CooldownUntil,
		})
	}

	if len(req.ImagePayload) > 0 && l.nsfw != nil {
		flagged, label, err := l.nsfw.Check(ctx, req.ImagePayload)
		if err != nil {
			// The checker being down must not let flagged content slip
			// through unmetered admission paths; reject as transient.
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Content check unavailable", err)
		}
		if flagged {
			outcome, vErr := l.RecordViolation(ctx, req.AccountID, "nsfw_image", label)
			if vErr != nil {
				return nil, vErr
			}
			return nil, apierror.NewAPIError(apierror.ErrRejectedContent, outcome.Message, map[string]interface{}{
				"violation_count": outcome.ViolationCount,
				"action":          outcome.Action,
			})
		}
	}

	account, err := l.datasource.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	priority := model.PriorityLow
	if account.HighPriority() {
		priority = model.PriorityHigh
	}

	jb := &model.Job{
		JobID:           model.GenerateUUIDWithSuffix("job"),
		AccountID:       req.AccountID,
		IdempotencyKey:  model.IdempotencyKey(req.SourceChannel, req.SourceMessageID, req.ClientRequestID),
		Category:        req.Category,
		BackgroundStyle: req.BackgroundStyle,
		TemplateLayout:  req.TemplateLayout,
		MannequinMode:   req.MannequinMode,
		CustomPrompt:    req.CustomPrompt,
		SourceChannel:   req.SourceChannel,
		SourceImageKey:  req.SourceImageKey,
		Priority:        priority,
	}

	cost := model.DebitAmount(req.MannequinMode)
	admitted, wasCreated, balanceAfter, err := l.datasource.AdmitJob(ctx, jb, cost)
	if err != nil {
		return nil, logAndRecordError(span, "failed to admit job: ", err)
	}

	if wasCreated {
		span.AddEvent("Job admitted", trace.WithAttributes(attribute.String("job.id", admitted.JobID)))
		msg := &model.WorkMessage{
			JobID:           admitted.JobID,
			AccountID:       admitted.AccountID,
			CorrelationID:   model.GenerateUUIDWithSuffix("cor"),
			Priority:        admitted.Priority,
			Category:        admitted.Category,
			BackgroundStyle: admitted.BackgroundStyle,
			TemplateLayout:  admitted.TemplateLayout,
			MannequinMode:   admitted.MannequinMode,
			CustomPrompt:    admitted.CustomPrompt,
			SourceChannel:   admitted.SourceChannel,
			SourceImageKey:  admitted.SourceImageKey,
			Price:           req.Price,
			Handle:          req.Handle,
			Badge:           req.Badge,
		}
		if err := l.queue.EnqueueJob(ctx, msg); err != nil {
			notification.NotifyError(err)
			return nil, logAndRecordError(span, "Error queuing job: ", err)
		}
	}

	return &AdmissionResult{Job: admitted, WasCreated: wasCreated, BalanceAfter: balanceAfter}, nil
}
