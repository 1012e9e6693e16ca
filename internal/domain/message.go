package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category is the classification target. Exactly three values exist; the
// dispatcher's workflow registry is keyed by them exhaustively.
type Category string

const (
	CategoryInformational    Category = "informational"
	CategoryServiceAction    Category = "service_action"
	CategorySafetyCompliance Category = "safety_compliance"
)

func Categories() []Category {
	return []Category{CategoryInformational, CategoryServiceAction, CategorySafetyCompliance}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryInformational, CategoryServiceAction, CategorySafetyCompliance:
		return true
	}
	return false
}

// ParseCategory normalizes a raw classifier string to a Category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Channel identifies the customer-facing surface a message arrived on.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelVoice Channel = "voice"
	ChannelMail  Channel = "mail"
)

func (ch Channel) Valid() bool {
	switch ch {
	case ChannelChat, ChannelVoice, ChannelMail:
		return true
	}
	return false
}

// Priority of a workflow outcome.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ClassificationRequest is an inbound customer message. Immutable once built.
type ClassificationRequest struct {
	Text      string
	Channel   Channel
	ClientKey string
}

// Validate checks the request against the configured max text length.
func (r ClassificationRequest) Validate(maxTextLen int) error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("message text is empty")
	}
	if maxTextLen > 0 && len(r.Text) > maxTextLen {
		return fmt.Errorf("message text exceeds %d characters", maxTextLen)
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("unknown channel '%s'", r.Channel)
	}
	if strings.TrimSpace(r.ClientKey) == "" {
		return fmt.Errorf("client key is empty")
	}
	return nil
}

// ClassificationResult is produced exactly once per admitted request.
type ClassificationResult struct {
	Category   Category
	Confidence float64
	Reasoning  string
	IsFallback bool
}

// WorkflowOutcome is the terminal artifact of the pipeline.
type WorkflowOutcome struct {
	Action              string
	Priority            Priority
	RequiresHumanReview bool
	ExternalSystemRef   string
}

// AuditRecord is the compliance trail entry written by the safety workflow.
type AuditRecord struct {
	ID          string
	Severity    string
	MessageHash string
	MessageLen  int
	Channel     Channel
	Status      string
	CreatedAt   time.Time
}
