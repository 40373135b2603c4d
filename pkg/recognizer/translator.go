package recognizer

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// TranslatorConfig configures the transcript translation stage.
type TranslatorConfig struct {
	APIKey         string
	ServerURL      string // OpenAI-compatible base URL; empty uses the default API endpoint
	Model          string
	TargetLanguage string
	Temperature    float32
	MaxTokens      int
}

// Translator renders recognized text into a target language through an
// OpenAI-compatible chat-completion endpoint. It sits between the result
// merger and the subtitle sink, consuming each merged line off its own
// queue so recognition workers never wait on a translation round trip.
type Translator struct {
	client         *openai.Client
	model          string
	targetLanguage string
	temperature    float32
	maxTokens      int
}

// NewTranslator builds a translation client for cfg.TargetLanguage.
func NewTranslator(cfg TranslatorConfig) (*Translator, error) {
	if cfg.TargetLanguage == "" {
		return nil, fmt.Errorf("recognizer: translator requires a target language")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("recognizer: translator requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.ServerURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.ServerURL, "/") + "/v1"
	}

	return &Translator{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		targetLanguage: cfg.TargetLanguage,
		temperature:    cfg.Temperature,
		maxTokens:      maxTokens,
	}, nil
}

// Translate returns text rendered into the configured target language. The
// input is returned unchanged when it is empty or whitespace.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: t.temperature,
		MaxTokens:   t.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"You are a subtitle translator. Translate the user's text into %s. Reply with the translation only, no commentary.",
					t.targetLanguage),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognizer: translation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("recognizer: translation response carried no choices")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	logrus.WithFields(logrus.Fields{
		"target": t.targetLanguage,
		"chars":  len(translated),
	}).Debug("translation complete")
	return translated, nil
}
