package workflows

import (
	"context"
	"log"
	"regexp"
	"strings"

	"triagebot/internal/domain"
)

// Intent patterns, ordered by priority: cancellation beats refund beats
// tracking beats a generic support request.
var intentPatterns = []struct {
	re     *regexp.Regexp
	intent string
}{
	{regexp.MustCompile(`\b(cancel|cancellation)\b`), "cancel_order"},
	{regexp.MustCompile(`\b(refund|money back|reimburse)\b`), "request_refund"},
	{regexp.MustCompile(`\b(track|tracking|where is|status of|order status)\b`), "track_order"},
	{regexp.MustCompile(`\b(ticket|support|help|issue|problem|complaint)\b`), "open_ticket"},
	{regexp.MustCompile(`\b(update|change|modify|reset)\b.*\b(account|password|profile|address)\b`), "update_account"},
	{regexp.MustCompile(`\b(account|password|profile|address)\b.*\b(update|change|modify|reset)\b`), "update_account"},
}

var orderRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ORD[-_]?\d{4,10})\b`),
	regexp.MustCompile(`(?i)\b(ORDER[-_#]?\d{4,10})\b`),
	regexp.MustCompile(`#(\d{6,10})\b`),
	regexp.MustCompile(`\b(\d{8,12})\b`),
}

// ServiceAction extracts the requested action from the message and routes
// it toward the external system that owns it.
type ServiceAction struct{}

func NewServiceAction() *ServiceAction {
	return &ServiceAction{}
}

func (w *ServiceAction) Execute(ctx context.Context, req domain.ClassificationRequest, res domain.ClassificationResult) (domain.WorkflowOutcome, error) {
	intent := extractIntent(req.Text)
	orderRef := extractOrderReference(req.Text)
	log.Printf("workflow service_action intent=%s order_ref=%q channel=%s", intent, orderRef, req.Channel)

	switch intent {
	case "cancel_order":
		return domain.WorkflowOutcome{
			Action:            "cancel_order",
			Priority:          domain.PriorityHigh,
			ExternalSystemRef: "order_management",
		}, nil
	case "request_refund":
		return domain.WorkflowOutcome{
			Action:            "initiate_refund",
			Priority:          domain.PriorityMedium,
			ExternalSystemRef: "refund_system",
		}, nil
	case "track_order":
		if orderRef == "" {
			// Cannot look anything up without an order number.
			return domain.WorkflowOutcome{
				Action:   "request_order_id",
				Priority: domain.PriorityLow,
			}, nil
		}
		return domain.WorkflowOutcome{
			Action:            "track_order",
			Priority:          domain.PriorityLow,
			ExternalSystemRef: "order_management",
		}, nil
	case "open_ticket":
		return domain.WorkflowOutcome{
			Action:            "create_ticket",
			Priority:          domain.PriorityMedium,
			ExternalSystemRef: "ticketing_system",
		}, nil
	case "update_account":
		return domain.WorkflowOutcome{
			Action:            "update_account",
			Priority:          domain.PriorityMedium,
			ExternalSystemRef: "identity_verification",
		}, nil
	default:
		return domain.WorkflowOutcome{
			Action:            "route_to_support",
			Priority:          domain.PriorityMedium,
			ExternalSystemRef: "agent_queue",
		}, nil
	}
}

func extractIntent(message string) string {
	lower := strings.ToLower(message)
	for _, p := range intentPatterns {
		if p.re.MatchString(lower) {
			return p.intent
		}
	}
	return "unknown"
}

func extractOrderReference(message string) string {
	for _, re := range orderRefPatterns {
		if m := re.FindStringSubmatch(message); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}
