package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"chisel/internal/errors"
)

// MockProvider is a deterministic offline Provider. By default it
// echoes the last user message; tests and offline runs install a
// Respond function to shape replies.
type MockProvider struct {
	Respond func(prompt string) (string, error)

	mu    sync.Mutex
	calls []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string {
	return "mock"
}

// Calls returns the prompts seen so far, in order.
func (p *MockProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *MockProvider) record(prompt string) {
	p.mu.Lock()
	p.calls = append(p.calls, prompt)
	p.mu.Unlock()
}

func (p *MockProvider) GetChatCompletion(ctx context.Context, messages []Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, errors.Provider("mock provider cancelled", err)
	}

	var prompt string
	for _, msg := range messages {
		if msg.Role == RoleUser {
			prompt = msg.Content
		}
	}
	p.record(prompt)

	if p.Respond != nil {
		content, err := p.Respond(prompt)
		if err != nil {
			return Message{}, errors.Provider("mock provider failed", err)
		}
		return Message{Role: RoleAssistant, Content: content}, nil
	}
	return Message{Role: RoleAssistant, Content: prompt}, nil
}

func (p *MockProvider) GetCompletion(ctx context.Context, prompt string, _ CompletionOptions) (string, error) {
	msg, err := p.GetChatCompletion(ctx, []Message{NewUserMessage(prompt)})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// MockEmbedder produces a deterministic unit vector from the text
// content, so identical text always embeds identically. Set Fail to
// exercise degradation paths.
type MockEmbedder struct {
	Fail bool
	Dim  int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Dim: 8}
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.Fail {
		return nil, errors.Provider("mock embedder unavailable", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Provider("mock embedder cancelled", err)
	}

	dim := e.Dim
	if dim <= 0 {
		dim = 8
	}

	// Fold token hashes into the vector so texts sharing words land
	// near each other.
	vec := make([]float32, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(word))
		for i := 0; i < dim; i++ {
			bits := binary.BigEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
			vec[i] += float32(bits%1000)/1000.0 - 0.5
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// MockRunner is a stand-in sandbox that reports success without
// executing anything.
type MockRunner struct{}

func (MockRunner) Execute(_ context.Context, req ExecRequest) (ExecResult, error) {
	return ExecResult{Stdout: "", ReturnValue: "", Err: ""}, nil
}
