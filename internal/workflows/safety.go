package workflows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"time"

	"triagebot/internal/domain"
)

// AuditStore persists the compliance trail. The sqlite implementation is
// the default; tests substitute an in-memory one.
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error
}

var urgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(emergency|ER|hospital|ambulance|911)\b`),
	regexp.MustCompile(`(?i)\b(can't breathe|difficulty breathing|chest pain)\b`),
	regexp.MustCompile(`(?i)\b(unconscious|passed out|fainted)\b`),
	regexp.MustCompile(`(?i)\b(severe allergic|anaphylaxis|swelling.*throat)\b`),
	regexp.MustCompile(`(?i)\b(overdose|too many|too much)\b`),
}

var highPriorityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(adverse|reaction|side effect)\b`),
	regexp.MustCompile(`(?i)\b(nausea|vomiting|dizziness|headache)\b`),
	regexp.MustCompile(`(?i)\b(rash|hives|itching)\b`),
	regexp.MustCompile(`(?i)\b(medication|drug|medicine)\b.*\b(problem|issue|concern)\b`),
}

var piiRedactions = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\b[\w.-]+@[\w.-]+\.\w+\b`), "[EMAIL REDACTED]"},
	{regexp.MustCompile(`\b(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), "[PHONE REDACTED]"},
	{regexp.MustCompile(`\b\d{3}[-.\s]?\d{2}[-.\s]?\d{4}\b`), "[SSN REDACTED]"},
	{regexp.MustCompile(`\b\d{4}[-.\s]?\d{4}[-.\s]?\d{4}[-.\s]?\d{4}\b`), "[CARD REDACTED]"},
	{regexp.MustCompile(`\b(Mr\.|Mrs\.|Ms\.|Dr\.)\s+[A-Z][a-z]+\s+[A-Z][a-z]+\b`), "$1 [NAME REDACTED]"},
}

// SafetyCompliance handles health and safety reports. Every message gets
// an audit record before any routing decision; a failed audit write fails
// the workflow so the dispatcher escalates.
type SafetyCompliance struct {
	store AuditStore
	now   func() time.Time
}

func NewSafetyCompliance(store AuditStore) *SafetyCompliance {
	return &SafetyCompliance{store: store, now: time.Now}
}

func (w *SafetyCompliance) Execute(ctx context.Context, req domain.ClassificationRequest, res domain.ClassificationResult) (domain.WorkflowOutcome, error) {
	severity := assessSeverity(req.Text)
	hash := hashMessage(req.Text)
	log.Printf("workflow safety_compliance severity=%s message_hash=%s channel=%s summary=%q",
		severity, hash[:8], req.Channel, redactPII(truncate(req.Text, 80)))

	rec := domain.AuditRecord{
		ID:          fmt.Sprintf("COMP-%s-%s", w.now().UTC().Format("20060102150405"), hash[:8]),
		Severity:    severity,
		MessageHash: hash,
		MessageLen:  len(req.Text),
		Channel:     req.Channel,
		Status:      "pending_review",
		CreatedAt:   w.now().UTC(),
	}
	if err := w.store.InsertAuditRecord(ctx, rec); err != nil {
		// No audit trail means no automated handling.
		return domain.WorkflowOutcome{}, fmt.Errorf("writing audit record: %w", err)
	}

	switch severity {
	case "urgent":
		return domain.WorkflowOutcome{
			Action:              "urgent_escalation",
			Priority:            domain.PriorityUrgent,
			RequiresHumanReview: true,
			ExternalSystemRef:   "urgent_escalation_queue",
		}, nil
	case "high":
		return domain.WorkflowOutcome{
			Action:              "pharmacist_review",
			Priority:            domain.PriorityHigh,
			RequiresHumanReview: true,
			ExternalSystemRef:   "pharmacist_queue",
		}, nil
	default:
		return domain.WorkflowOutcome{
			Action:              "compliance_review",
			Priority:            domain.PriorityHigh,
			RequiresHumanReview: true,
			ExternalSystemRef:   "compliance_review_queue",
		}, nil
	}
}

func assessSeverity(message string) string {
	for _, re := range urgentPatterns {
		if re.MatchString(message) {
			return "urgent"
		}
	}
	for _, re := range highPriorityPatterns {
		if re.MatchString(message) {
			return "high"
		}
	}
	return "standard"
}

func hashMessage(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

func redactPII(text string) string {
	for _, r := range piiRedactions {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
