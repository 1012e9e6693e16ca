// Package slackbot posts operational notifications to a Slack channel:
// escalated messages, breaker transitions, and the scheduled stats summary.
// Every post is best-effort; a Slack outage never affects message handling.
package slackbot

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"triagebot/internal/pipeline"
)

// Notifier implements pipeline.TelemetrySink. Only events an operator
// would act on are forwarded; the rest stay in the logs.
type Notifier struct {
	api       *slack.Client
	channelID string
}

func NewNotifier(token, channelID string) *Notifier {
	return &Notifier{api: slack.New(token), channelID: channelID}
}

func (n *Notifier) Record(ev pipeline.Event) {
	var msg string
	switch ev.Name {
	case "dispatch_escalated":
		msg = fmt.Sprintf(":rotating_light: Message escalated to human review (category: %s, channel: %s)", ev.Category, ev.Channel)
	case "breaker_rejected":
		msg = fmt.Sprintf(":warning: Classifier circuit open, serving fallback outcomes (%s)", ev.Detail)
	default:
		return
	}
	n.post(msg)
}

// NotifyBreakerTransition is wired as the breaker's transition hook.
func (n *Notifier) NotifyBreakerTransition(from, to string) {
	n.post(fmt.Sprintf(":electric_plug: Classifier circuit breaker: %s -> %s", from, to))
}

// PostSummary sends the scheduled stats summary text.
func (n *Notifier) PostSummary(text string) error {
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting summary to %s: %w", n.channelID, err)
	}
	return nil
}

func (n *Notifier) post(msg string) {
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(msg, false))
	if err != nil {
		log.Printf("slack post error channel=%s err=%v", n.channelID, err)
		return
	}
	log.Printf("slack posted channel=%s", n.channelID)
}
