package kpata

import (
	"context"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marcdevi/kpata/config"
	"github.com/marcdevi/kpata/internal/request"
	"github.com/marcdevi/kpata/model"
)

// UserNotification is one message destined for the user through the bot
// gateway of the channel the job came from. The text is localized at build
// time so the worker only delivers it.
type UserNotification struct {
	AccountID     string   `json:"account_id"`
	JobID         string   `json:"job_id"`
	SourceChannel string   `json:"source_channel"`
	Text          string   `json:"text"`
	AssetURLs     []string `json:"asset_urls,omitempty"`
}

// notifyCompletion queues the success message with the exported asset links.
func (l *Kpata) notifyCompletion(ctx context.Context, jb *model.Job, locale string, assetURLs []string) {
	l.enqueueUserNotification(ctx, &UserNotification{
		AccountID:     jb.AccountID,
		JobID:         jb.JobID,
		SourceChannel: jb.SourceChannel,
		Text:          localizedMessage(locale, "job_completed"),
		AssetURLs:     assetURLs,
	})
}

// notifyFailure queues the failure-and-refund message.
func (l *Kpata) notifyFailure(ctx context.Context, jb *model.Job, locale string) {
	l.enqueueUserNotification(ctx, &UserNotification{
		AccountID:     jb.AccountID,
		JobID:         jb.JobID,
		SourceChannel: jb.SourceChannel,
		Text:          localizedMessage(locale, "job_failed_refund"),
	})
}

func (l *Kpata) enqueueUserNotification(ctx context.Context, notification *UserNotification) {
	if err := l.queue.EnqueueNotification(ctx, notification); err != nil {
		// Notifications are best-effort; the job outcome is already durable.
		logrus.Errorf("failed to enqueue notification for job %s: %v", notification.JobID, err)
	}
}

// ProcessNotification delivers one queued notification to the bot gateway.
// Returning an error lets the queue retry delivery.
func (l *Kpata) ProcessNotification(ctx context.Context, notification *UserNotification) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	if cfg.Notification.BotGateway.Url == "" {
		logrus.Warnf("bot gateway not configured, dropping notification for job %s", notification.JobID)
		return nil
	}

	deliver := func() error {
		body, err := request.ToJsonReq(notification)
		if err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Notification.BotGateway.Url, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range cfg.Notification.BotGateway.Headers {
			req.Header.Set(key, value)
		}

		var gatewayResponse map[string]interface{}
		resp, err := request.Call(req, &gatewayResponse)
		if err != nil {
			return errors.Wrap(err, "bot gateway call failed")
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return errors.Errorf("bot gateway returned %d for job %s", resp.StatusCode, notification.JobID)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			// The gateway rejected the payload; repeating the same request cannot succeed.
			return backoff.Permanent(errors.Errorf("bot gateway rejected notification for job %s with %d", notification.JobID, resp.StatusCode))
		}
		return nil
	}

	return backoff.Retry(deliver, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
}
