package server

import (
	"context"
	"fmt"

	"github.com/54b3r/graphchat-go/internal/provider"
)

// LLMPinger checks a chat backend by requesting a single-token completion.
// It consumes tokens, so prefer a dedicated health endpoint where the
// backend has one (see NewPinger).
type LLMPinger struct {
	// chat is the backend to ping.
	chat provider.Chatter
	// name identifies the backend in readiness responses (e.g. "openai").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given chatter and backend name.
func NewLLMPinger(c provider.Chatter, name string) *LLMPinger {
	return &LLMPinger{chat: c, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Role is always RoleLLM.
func (p *LLMPinger) Role() Role { return RoleLLM }

// Ping sends "ping" with a one-token budget.
func (p *LLMPinger) Ping(ctx context.Context) error {
	msgs := []provider.Message{{Role: provider.RoleUser, Content: "ping"}}
	if _, err := p.chat.Chat(ctx, msgs, provider.ChatOptions{MaxTokens: 1}); err != nil {
		return fmt.Errorf("chat ping failed: %w", err)
	}
	return nil
}

type funcPinger struct {
	role Role
	name string
	fn   func(context.Context) error
}

// NewPinger wraps fn, typically a client's own health RPC such as the Qdrant
// HealthCheck, the Neo4j connectivity check or a Redis PING. A nil fn marks
// an in-process backend that is always reachable; it is still listed so
// readiness shows which backend fills the role.
func NewPinger(role Role, name string, fn func(context.Context) error) Pinger {
	return &funcPinger{role: role, name: name, fn: fn}
}

func (p *funcPinger) Name() string { return p.name }

func (p *funcPinger) Role() Role { return p.role }

func (p *funcPinger) Ping(ctx context.Context) error {
	if p.fn == nil {
		return nil
	}
	if err := p.fn(ctx); err != nil {
		return fmt.Errorf("%s %s unreachable: %w", p.role, p.name, err)
	}
	return nil
}
