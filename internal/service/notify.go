package service

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/logger"
)

// Notifier posts terminal job snapshots to an external webhook. Wired as the
// queue's terminal observer; delivery is fire-and-forget and failures are
// logged, never surfaced to the worker loop.
type Notifier struct {
	client *resty.Client
	url    string
	log    *logger.Logger
}

// NotifierConfig configures the webhook notifier. An empty URL disables it.
type NotifierConfig struct {
	URL            string
	TimeoutSeconds int
}

// NewNotifier creates a webhook notifier, or nil when no URL is configured.
func NewNotifier(cfg NotifierConfig, log *logger.Logger) *Notifier {
	if cfg.URL == "" {
		return nil
	}
	if cfg.TimeoutSeconds < 1 {
		cfg.TimeoutSeconds = 10
	}
	if log == nil {
		log = logger.GetDefault()
	}
	client := resty.New().
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "forensiq-notifier")
	return &Notifier{client: client, url: cfg.URL, log: log}
}

// jobEvent is the webhook payload for one terminal job.
type jobEvent struct {
	Event       string           `json:"event"`
	JobID       string           `json:"job_id"`
	Type        domain.JobType   `json:"type"`
	Status      domain.JobStatus `json:"status"`
	HuntID      string           `json:"hunt_id,omitempty"`
	DatasetID   string           `json:"dataset_id,omitempty"`
	Error       string           `json:"error,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// NotifyTerminal delivers one terminal job snapshot asynchronously.
func (n *Notifier) NotifyTerminal(view domain.JobView) {
	go n.deliver(view)
}

func (n *Notifier) deliver(view domain.JobView) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := jobEvent{
		Event:       "job." + string(view.Status),
		JobID:       view.ID,
		Type:        view.Type,
		Status:      view.Status,
		HuntID:      view.Params[domain.ParamHuntID],
		DatasetID:   view.Params[domain.ParamDatasetID],
		Error:       view.Error,
		CompletedAt: view.CompletedAt,
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(n.url)
	if err != nil {
		n.log.WithError(err).WithField(logger.FieldJobID, view.ID).Warn("Webhook delivery failed")
		return
	}
	if resp.IsError() {
		n.log.WithFields(logger.Fields{
			logger.FieldJobID:  view.ID,
			logger.FieldStatus: resp.StatusCode(),
		}).Warn("Webhook delivery rejected")
	}
}
