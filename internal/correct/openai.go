package correct

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/lucasnoah/contractforge/internal/prompt"
)

// OpenAIConfig configures the OpenAI collaborator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// RequestsPerMinute caps call rate. Zero means unlimited.
	RequestsPerMinute int
	// TemplatesDir overrides the built-in prompt templates.
	TemplatesDir string
	Logger       zerolog.Logger
}

// OpenAI is a Generative backed by the chat completions API.
type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	system  string
	user    string
	log     zerolog.Logger
}

// NewOpenAI builds the client and loads its prompt templates.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	system, err := prompt.LoadTemplate(prompt.System, cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	user, err := prompt.LoadTemplate(prompt.CorrectFiles, cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, 1),
		system:  system,
		user:    user,
		log:     cfg.Logger,
	}, nil
}

// Prompt renders the user message for req.
func (o *OpenAI) Prompt(req Request) (string, error) {
	vars := prompt.Vars{
		"contract_name": "",
		"feedback":      req.Feedback.Render(),
		"files":         FormatFiles(req.Files),
	}
	if c := req.Contract; c != nil {
		vars["contract_name"] = c.Name
		vars["instructions"] = c.Generation.Instructions
		var criteria []string
		for _, cr := range c.Validation.AcceptanceCriteria {
			criteria = append(criteria, fmt.Sprintf("- %s: %s", cr.ID, cr.Text))
		}
		vars["acceptance_criteria"] = strings.Join(criteria, "\n")
	}
	return prompt.Render(o.user, vars)
}

// Correct implements Generative.
func (o *OpenAI) Correct(ctx context.Context, req Request) (map[string]string, error) {
	user, err := o.Prompt(req)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	o.log.Debug().Str("model", o.model).Int("files", len(req.Files)).Msg("requesting correction")
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	o.log.Debug().Str("finish_reason", string(resp.Choices[0].FinishReason)).Msg("correction received")
	return ParseFiles(resp.Choices[0].Message.Content)
}
