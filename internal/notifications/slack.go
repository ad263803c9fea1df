// Package notifications delivers ingestion outcome messages. Delivery is
// best-effort: failures are logged and never affect job outcome.
package notifications

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// Notifier delivers a subject/body message.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// SlackNotifier posts messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier creates a notifier for the given webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

// Notify posts one message to the webhook.
func (n *SlackNotifier) Notify(ctx context.Context, subject, body string) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", subject, body),
	}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post slack notification: %w", err)
	}

	log.Debug().Str("subject", subject).Msg("Sent slack notification")
	return nil
}
