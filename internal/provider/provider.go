// Package provider abstracts the LLM chat APIs used for intent
// classification and reply generation.
package provider

import "context"

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Content string
}

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}
