package llm

import (
	"errors"
	"strings"
	"testing"

	"triagebot/internal/config"
	"triagebot/internal/domain"
	"triagebot/internal/gateway"
)

func TestParseClassificationPlainJSON(t *testing.T) {
	raw, err := parseClassification(`{"category": "informational", "confidence": 0.92, "reasoning": "policy question"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.Category != "informational" || raw.Confidence != 0.92 || raw.Reasoning != "policy question" {
		t.Fatalf("unexpected result: %+v", raw)
	}
}

func TestParseClassificationStripsMarkdownFences(t *testing.T) {
	inputs := []string{
		"```json\n{\"category\": \"service_action\", \"confidence\": 0.8, \"reasoning\": \"refund request\"}\n```",
		"```\n{\"category\": \"service_action\", \"confidence\": 0.8, \"reasoning\": \"refund request\"}\n```",
		"  {\"category\": \"service_action\", \"confidence\": 0.8, \"reasoning\": \"refund request\"}  ",
	}
	for _, input := range inputs {
		raw, err := parseClassification(input)
		if err != nil {
			t.Fatalf("input %q: unexpected error: %v", input, err)
		}
		if raw.Category != "service_action" || raw.Confidence != 0.8 {
			t.Fatalf("input %q: unexpected result %+v", input, raw)
		}
	}
}

func TestParseClassificationNormalizesCategory(t *testing.T) {
	raw, err := parseClassification(`{"category": "  Safety_Compliance ", "confidence": 0.95, "reasoning": "side effect"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.Category != "safety_compliance" {
		t.Fatalf("category = %q, want safety_compliance", raw.Category)
	}
}

func TestParseClassificationBadJSONIsMalformed(t *testing.T) {
	for _, input := range []string{
		"I think this is informational",
		"```json\n{broken",
		"",
	} {
		_, err := parseClassification(input)
		var malformed *gateway.MalformedResponseError
		if !errors.As(err, &malformed) {
			t.Fatalf("input %q: want MalformedResponseError, got %v", input, err)
		}
	}
}

func TestUserPromptIncludesChannelAndMessage(t *testing.T) {
	prompt := userPrompt("my order is late", domain.ChannelVoice)
	if !strings.Contains(prompt, "CHANNEL: voice") {
		t.Fatalf("prompt missing channel: %q", prompt)
	}
	if !strings.Contains(prompt, "my order is late") {
		t.Fatalf("prompt missing message: %q", prompt)
	}
}

func TestNewClassifierSelectsProvider(t *testing.T) {
	c := NewClassifier(config.Config{LLMProvider: "openai", OpenAIAPIKey: "k"})
	if _, ok := c.(*openAIClassifier); !ok {
		t.Fatalf("provider openai built %T", c)
	}

	c = NewClassifier(config.Config{LLMProvider: "anthropic", AnthropicAPIKey: "k"})
	if _, ok := c.(*anthropicClassifier); !ok {
		t.Fatalf("provider anthropic built %T", c)
	}
}

func TestOpenAIModelDefault(t *testing.T) {
	c := NewClassifier(config.Config{LLMProvider: "openai", OpenAIAPIKey: "k"}).(*openAIClassifier)
	if c.model != defaultOpenAIModel {
		t.Fatalf("model = %q, want %q", c.model, defaultOpenAIModel)
	}

	c = NewClassifier(config.Config{LLMProvider: "openai", OpenAIAPIKey: "k", LLMModel: "gpt-4.1"}).(*openAIClassifier)
	if c.model != "gpt-4.1" {
		t.Fatalf("model = %q, want configured override", c.model)
	}
}
