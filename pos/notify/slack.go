package notify

import (
	"fmt"

	"github.com/slack-go/slack"
)

// Slack posts operator alerts when records exhaust their sync retries and
// need manual intervention.
type Slack struct {
	client    *slack.Client
	channelID string
	tenant    string
}

func NewSlack(token, channelID, tenant string) *Slack {
	return &Slack{
		client:    slack.New(token),
		channelID: channelID,
		tenant:    tenant,
	}
}

func (s *Slack) OperationFailed(category, id, reason string) error {
	message := fmt.Sprintf("[%s] POS sync: %s %s permanently failed and needs manual intervention: %s",
		s.tenant, category, id, reason)

	_, _, err := s.client.PostMessage(
		s.channelID,
		slack.MsgOptionText(message, false),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		return fmt.Errorf("failed to post message to Slack: %w", err)
	}
	return nil
}
