package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"chisel/internal/errors"
)

// OpenAIProvider implements Provider and Embedder on top of the
// official OpenAI Go client.
type OpenAIProvider struct {
	client         openai.Client
	model          string
	embeddingModel string
}

// NewOpenAIProvider creates a provider for the given chat and
// embedding models.
func NewOpenAIProvider(apiKey, model, embeddingModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key cannot be empty")
	}
	return &OpenAIProvider{
		client:         openai.NewClient(option.WithAPIKey(apiKey)),
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// GetChatCompletion sends the conversation and returns the assistant
// reply.
func (p *OpenAIProvider) GetChatCompletion(ctx context.Context, messages []Message) (Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Message{}, errors.Provider("openai chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, errors.Provider("openai returned no choices", nil)
	}

	return Message{
		Role:    RoleAssistant,
		Content: resp.Choices[0].Message.Content,
	}, nil
}

// GetCompletion runs a single-prompt completion.
func (p *OpenAIProvider) GetCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Provider("openai completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Provider("openai returned no choices", nil)
	}

	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, errors.Provider("openai embedding failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.Provider("openai returned no embedding", nil)
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}
