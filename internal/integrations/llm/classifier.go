// Package llm implements the external classifier call against the
// configured LLM provider. Both providers share the same prompt and the
// same response contract: a single JSON object with category, confidence,
// and reasoning.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"triagebot/internal/config"
	"triagebot/internal/domain"
	"triagebot/internal/gateway"
	"triagebot/internal/httpx"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

const maxResponseTokens = 300

const classificationSystemPrompt = `You are a customer service classifier for a pharmacy/healthcare contact center.

Your task is to classify customer messages into exactly ONE of three categories.

CATEGORIES:

1. **informational** - Questions seeking information about:
   - Policies (refund, shipping, privacy, etc.)
   - Product details or availability
   - General inquiries and FAQs
   - Account information requests
   - Store hours, locations, contact info

2. **service_action** - Requests that require taking an action:
   - Opening support tickets
   - Tracking or modifying orders
   - Processing refunds or returns
   - Account changes (password reset, profile updates)
   - Scheduling appointments
   - Cancellations

3. **safety_compliance** - Health and safety concerns that require special handling:
   - Adverse reactions to medications
   - Side effects or allergic reactions
   - Medical emergencies
   - Product quality or contamination concerns
   - Drug interactions or safety questions
   - Any message mentioning physical symptoms after using a product

IMPORTANT RULES:
- safety_compliance takes priority if ANY health/safety concern is mentioned
- Be conservative: if unsure between categories, prefer lower confidence
- Consider the primary intent of the message

Respond ONLY with a JSON object in this exact format:
{
    "category": "<category_name>",
    "confidence": <0.0-1.0>,
    "reasoning": "<brief explanation of why this category was chosen>"
}`

// NewClassifier picks the provider implementation from config. The provider
// value is validated at config load, so the default branch is anthropic.
func NewClassifier(cfg config.Config) gateway.Classifier {
	switch cfg.LLMProvider {
	case "openai":
		model := cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return &openAIClassifier{apiKey: cfg.OpenAIAPIKey, model: model}
	default:
		model := cfg.LLMModel
		if model == "" {
			model = defaultAnthropicModel
		}
		return &anthropicClassifier{
			client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
			model:  model,
		}
	}
}

func userPrompt(text string, channel domain.Channel) string {
	return fmt.Sprintf("CHANNEL: %s\n\nCUSTOMER MESSAGE:\n%s", channel, text)
}

// parseClassification strips optional markdown fences and decodes the JSON
// object. Any decode failure is a MalformedResponseError: the provider
// answered, the payload is the problem.
func parseClassification(responseText string) (gateway.RawResult, error) {
	cleaned := strings.TrimSpace(responseText)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw gateway.RawResult
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return gateway.RawResult{}, &gateway.MalformedResponseError{
			Payload: responseText,
			Err:     fmt.Errorf("parsing classification response: %w", err),
		}
	}
	raw.Category = strings.ToLower(strings.TrimSpace(raw.Category))
	return raw, nil
}

// --- Anthropic ---

type anthropicClassifier struct {
	client anthropic.Client
	model  string
}

func (c *anthropicClassifier) Classify(ctx context.Context, text string, channel domain.Channel) (gateway.RawResult, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxResponseTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: classificationSystemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(text, channel))),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return gateway.RawResult{}, fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return parseClassification(block.Text)
		}
	}
	return gateway.RawResult{}, &gateway.MalformedResponseError{
		Err: fmt.Errorf("no text content in Anthropic response"),
	}
}

// --- OpenAI ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAIClassifier struct {
	apiKey string
	model  string
}

func (c *openAIClassifier) Classify(ctx context.Context, text string, channel domain.Channel) (gateway.RawResult, error) {
	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: classificationSystemPrompt},
			{Role: "user", Content: userPrompt(text, channel)},
		},
		Temperature: 0,
		MaxTokens:   maxResponseTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return gateway.RawResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return gateway.RawResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := httpx.ExternalHTTPClient().Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return gateway.RawResult{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.RawResult{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("llm openai status=%d body_size=%d", resp.StatusCode, len(respBody))
		return gateway.RawResult{}, fmt.Errorf("OpenAI API status %d", resp.StatusCode)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return gateway.RawResult{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}
	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return gateway.RawResult{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return gateway.RawResult{}, &gateway.MalformedResponseError{
			Payload: string(respBody),
			Err:     fmt.Errorf("no choices in OpenAI response"),
		}
	}

	content := openAIResp.Choices[0].Message.Content
	if openAIResp.Usage != nil {
		log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d",
			len(content), openAIResp.Usage.PromptTokens, openAIResp.Usage.CompletionTokens)
	}
	return parseClassification(content)
}
