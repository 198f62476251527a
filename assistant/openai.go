package assistant

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig defines the chat completion service connection
type OpenAIConfig struct {
	// APIKey authenticates requests
	APIKey string
	// Model is the chat model name
	Model string
	// BaseURL overrides the OpenAI endpoint for compatible services
	BaseURL string
}

// DefaultOpenAIConfig returns an OpenAIConfig using gpt-4.1-mini
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model: "gpt-4.1-mini",
	}
}

// Validate checks the configuration
func (c OpenAIConfig) Validate() error {

	if c.APIKey == "" {
		return errors.New("api key not set")
	}

	if c.Model == "" {
		return errors.New("model not set")
	}

	return nil
}

// OpenAI is a Model backed by an OpenAI compatible chat completion API
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI returns an OpenAI Model
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid openai config: %w", err)
	}

	oc := openai.DefaultConfig(cfg.APIKey)

	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}, nil
}

// Complete sends the system and user messages offering fns, leaving the
// model to decide whether to call one
func (o *OpenAI) Complete(ctx context.Context, system, prompt string,
	fns []Function) (Completion, error) {

	defs := make([]openai.FunctionDefinition, 0, len(fns))

	for _, f := range fns {
		defs = append(defs, openai.FunctionDefinition{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  f.Parameters,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Functions:    defs,
		FunctionCall: "auto",
	})

	if err != nil {
		return Completion{}, err
	}

	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	c := Completion{Content: msg.Content}

	if msg.FunctionCall != nil {
		c.Call = &FunctionCall{
			Name:      msg.FunctionCall.Name,
			Arguments: msg.FunctionCall.Arguments,
		}
	}

	return c, nil
}
