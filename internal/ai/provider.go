package ai

import (
	"context"
)

// Message — одно сообщение в запросе к LLM.
type Message struct {
	Role    string // system | user | assistant
	Content string
}

// CompletionRequest — запрос к LLM провайдеру.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse — ответ LLM провайдера.
type CompletionResponse struct {
	Content string
}

// Provider is the single LLM contract for the core. Decision and
// scheduler paths never depend on streaming.
type Provider interface {
	ChatCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
