// Package provider defines the external collaborator interfaces the
// engine depends on: LLM completion, text embedding, and sandboxed
// code execution. One implementation per backend, selected at
// construction time.
package provider

import (
	"context"
	"time"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tunes a single completion request.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is the LLM collaborator. Failures are surfaced as provider
// errors and are never retried here; retry policy belongs to the
// implementation or its SDK.
type Provider interface {
	GetChatCompletion(ctx context.Context, messages []Message) (Message, error)
	GetCompletion(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
	Name() string
}

// Embedder converts text into a fixed-length vector for similarity
// search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ExecRequest asks the sandbox to run a piece of code.
type ExecRequest struct {
	Code     string
	Language string
	Timeout  time.Duration
}

// ExecResult is the outcome of a sandboxed execution.
type ExecResult struct {
	Stdout      string
	Stderr      string
	ReturnValue string
	Err         string
}

// Runner is the sandboxed execution collaborator. The scheduler never
// calls it; callers use it to validate produced content.
type Runner interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}
