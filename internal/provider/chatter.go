package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/graphchat-go/internal/logging"
)

// previewLen bounds how much of a response is logged at debug level.
const previewLen = 200

// EinoChatter adapts an eino chat model to Chatter.
type EinoChatter struct {
	model model.BaseChatModel
}

// NewEinoChatter wraps m.
func NewEinoChatter(m model.BaseChatModel) (*EinoChatter, error) {
	if m == nil {
		return nil, errors.New("provider: chat model must not be nil")
	}
	return &EinoChatter{model: m}, nil
}

// ToSchema converts messages to eino schema messages.
func ToSchema(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// FromSchema converts rendered prompt-template messages back to Messages.
// Roles other than system and assistant become user.
func FromSchema(msgs []*schema.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		role := RoleUser
		switch m.Role {
		case schema.System:
			role = RoleSystem
		case schema.Assistant:
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

// Chat sends msgs and returns the assistant content.
func (c *EinoChatter) Chat(ctx context.Context, msgs []Message, opts ChatOptions) (string, error) {
	return c.Generate(ctx, ToSchema(msgs), opts)
}

// Generate sends already-built schema messages. Prompt templates produce
// these directly.
func (c *EinoChatter) Generate(ctx context.Context, msgs []*schema.Message, opts ChatOptions) (string, error) {
	var callOpts []model.Option
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, model.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		callOpts = append(callOpts, model.WithTemperature(*opts.Temperature))
	}

	resp, err := c.model.Generate(ctx, msgs, callOpts...)
	if err != nil {
		return "", fmt.Errorf("provider: generate: %w", err)
	}
	if resp == nil {
		return "", errors.New("provider: generate returned no message")
	}

	preview := resp.Content
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	logging.FromContext(ctx).Debug("provider: model response",
		slog.Int("chars", len(resp.Content)),
		slog.String("preview", preview),
	)
	return resp.Content, nil
}
