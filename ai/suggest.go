// Package ai offers an optional mapping-suggestion bootstrap: snooped
// payload samples are sent to an OpenAI model which drafts a candidate
// mapping document. The suggestion is advisory; it is published for
// operators to review and never activated automatically.
package ai

import (
	"context"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/errors"
)

const (
	defaultModel   = openai.GPT4oMini
	requestTimeout = 30 * time.Second
	maxSamples     = 5
)

const systemPrompt = `You design IoT message mappings. Given sample JSON payloads
received on a topic, propose a mapping document as a single JSON object with
fields: name, direction ("INBOUND"), topicPattern, targetAPI (one of
"measurement", "event", "alarm", "inventory"), maxFailureCount. Respond with
the JSON object only.`

// Suggester drafts mapping suggestions from payload samples.
type Suggester struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// New creates a suggester. Returns nil when no API key is configured;
// callers treat a nil suggester as disabled.
func New(cfg config.AIConfig, logger *slog.Logger) *Suggester {
	if cfg.APIKey == "" {
		return nil
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Suggester{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
		logger: logger.With("component", "ai-suggester"),
	}
}

// Suggest proposes a mapping document for the given topic based on snooped
// payload samples. At most one model call is made per invocation.
func (s *Suggester) Suggest(ctx context.Context, tenant, topic string, samples []string) (string, error) {
	if len(samples) == 0 {
		return "", errors.WrapInvalid(errors.ErrInvalidData,
			"Suggester", "Suggest", "no payload samples for topic "+topic)
	}
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}

	var prompt strings.Builder
	prompt.WriteString("Topic: " + topic + "\n\nSample payloads:\n")
	for _, sample := range samples {
		prompt.WriteString(sample)
		prompt.WriteString("\n")
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		return "", errors.WrapTransient(err, "Suggester", "Suggest", "completion request")
	}
	if len(resp.Choices) == 0 {
		return "", errors.WrapTransient(errors.ErrInvalidData,
			"Suggester", "Suggest", "model returned no choices")
	}

	suggestion := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Info("mapping suggestion generated", "tenant", tenant, "topic", topic)
	return suggestion, nil
}
