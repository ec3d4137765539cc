package ai

import (
	"context"
	"strings"
)

// MockProvider returns canned completions for local runs and tests.
type MockProvider struct {
	// FixedContent, when set, is returned verbatim.
	FixedContent string
	// Err, when set, is returned instead of a completion.
	Err error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) ChatCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if p.Err != nil {
		return CompletionResponse{}, p.Err
	}
	if p.FixedContent != "" {
		return CompletionResponse{Content: p.FixedContent}, nil
	}

	lastUser := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}

	var b strings.Builder
	b.WriteString("Mock-ответ")
	if lastUser != "" {
		b.WriteString(": ")
		if len(lastUser) > 80 {
			lastUser = lastUser[:80]
		}
		b.WriteString(lastUser)
	}
	return CompletionResponse{Content: b.String()}, nil
}
