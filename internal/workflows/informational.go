// Package workflows holds the per-category handlers invoked by the
// dispatcher. Each workflow turns a classified message into a concrete
// outcome; none of them talk back to the classifier.
package workflows

import (
	"context"
	"log"
	"regexp"
	"strings"

	"triagebot/internal/domain"
)

type faqEntry struct {
	Question string
	Answer   string
	Topic    string
}

// faqDatabase is keyed by the keyword that triggers the entry.
var faqDatabase = map[string]faqEntry{
	"refund": {
		Question: "What is your refund policy?",
		Answer: "We offer a 30-day refund policy for most products. " +
			"Prescription medications cannot be returned once dispensed. " +
			"Contact our support team to initiate a refund.",
		Topic: "policies",
	},
	"shipping": {
		Question: "What are your shipping options?",
		Answer: "We offer standard shipping (5-7 business days), " +
			"express shipping (2-3 business days), and overnight delivery. " +
			"Free shipping on orders over $50.",
		Topic: "delivery",
	},
	"prescription": {
		Question: "How do I transfer a prescription?",
		Answer: "To transfer a prescription, provide your current pharmacy's information " +
			"and prescription details. We'll handle the transfer within 24-48 hours.",
		Topic: "prescriptions",
	},
	"hours": {
		Question: "What are your store hours?",
		Answer: "Our online pharmacy is available 24/7. " +
			"Customer support is available Monday-Friday 8am-8pm EST, " +
			"Saturday 9am-5pm EST.",
		Topic: "general",
	},
	"privacy": {
		Question: "What is your privacy policy?",
		Answer: "We take your privacy seriously. Your health information is protected " +
			"under HIPAA. We never share your personal data with third parties " +
			"without your consent.",
		Topic: "policies",
	},
}

// faqPatterns maps looser phrasings onto an faqDatabase key.
var faqPatterns = []struct {
	re  *regexp.Regexp
	key string
}{
	{regexp.MustCompile(`\bpolicy\b`), "refund"},
	{regexp.MustCompile(`\bdeliver`), "shipping"},
	{regexp.MustCompile(`\bship`), "shipping"},
	{regexp.MustCompile(`\bhour`), "hours"},
	{regexp.MustCompile(`\bopen\b`), "hours"},
	{regexp.MustCompile(`\bprivate\b`), "privacy"},
	{regexp.MustCompile(`\btransfer\b`), "prescription"},
}

// Informational answers questions from the FAQ base, or points the
// customer at support when nothing matches.
type Informational struct{}

func NewInformational() *Informational {
	return &Informational{}
}

func (w *Informational) Execute(ctx context.Context, req domain.ClassificationRequest, res domain.ClassificationResult) (domain.WorkflowOutcome, error) {
	if entry, ok := searchFAQ(req.Text); ok {
		log.Printf("workflow informational faq_hit topic=%s channel=%s", entry.Topic, req.Channel)
		return domain.WorkflowOutcome{
			Action:   "provide_information",
			Priority: domain.PriorityLow,
		}, nil
	}

	log.Printf("workflow informational no_faq_match channel=%s", req.Channel)
	return domain.WorkflowOutcome{
		Action:   "suggest_contact",
		Priority: domain.PriorityLow,
	}, nil
}

func searchFAQ(message string) (faqEntry, bool) {
	lower := strings.ToLower(message)

	for keyword, entry := range faqDatabase {
		if strings.Contains(lower, keyword) {
			return entry, true
		}
	}
	for _, p := range faqPatterns {
		if p.re.MatchString(lower) {
			return faqDatabase[p.key], true
		}
	}
	return faqEntry{}, false
}
