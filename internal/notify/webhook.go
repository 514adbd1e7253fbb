// Package notify delivers completion notifications to the submitter's
// webhook. Delivery is best-effort: one attempt, a hard timeout, failures
// logged and swallowed.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/models"
)

const deliveryTimeout = 10 * time.Second

// Notifier is the outbound notification contract.
type Notifier interface {
	Notify(webhookURL string, notification models.Notification)
}

type WebhookNotifier struct {
	client *http.Client
	log    *zap.Logger
}

func NewWebhookNotifier(log *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: deliveryTimeout},
		log:    log,
	}
}

// Notify posts the notification once. It never returns an error: a failed
// delivery must not fail the unit of work that produced it.
func (w *WebhookNotifier) Notify(webhookURL string, notification models.Notification) {
	deliveryID := uuid.NewString()
	log := w.log.With(
		zap.String("delivery_id", deliveryID),
		zap.String("request_id", notification.RequestID),
		zap.String("status", notification.Status),
		zap.String("webhook_url", webhookURL))

	payload, err := json.Marshal(notification)
	if err != nil {
		log.Error("failed to marshal webhook payload", zap.Error(err))
		return
	}

	resp, err := w.client.Post(webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("webhook returned non-OK status", zap.Int("http_status", resp.StatusCode))
		return
	}
	log.Info("webhook delivered")
}
