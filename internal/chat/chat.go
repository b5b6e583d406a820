// Package chat answers questions within a session. Each answer is one model
// call over the system prompt, the session's prior turns, any context
// retrieved from the user's documents, and the question.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/graphchat-go/internal/budget"
	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/provider"
	"github.com/54b3r/graphchat-go/internal/rag"
	"github.com/54b3r/graphchat-go/internal/session"
)

const systemPrompt = `You are a helpful assistant that answers user questions based on the conversation history and optional retrieved context from user-provided PDFs. If the retrieved context is relevant, ground your answer in it; if not, answer to the best of your knowledge and say when information is not available in the documents.`

const contextSeparator = "\n\n---\n\n"

// Scope selects which stored chunks a question may retrieve.
type Scope string

const (
	// ScopeSession restricts retrieval to the session's own uploads.
	ScopeSession Scope = "session"
	// ScopeGlobal searches every uploaded document.
	ScopeGlobal Scope = "global"
)

// ScopeFromEnv reads GRAPHCHAT_RAG_SCOPE. Anything other than "global"
// means session scope.
func ScopeFromEnv() Scope {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GRAPHCHAT_RAG_SCOPE")), string(ScopeGlobal)) {
		return ScopeGlobal
	}
	return ScopeSession
}

// TopKFromEnv reads GRAPHCHAT_RAG_TOP_K, defaulting to rag.DefaultTopK.
func TopKFromEnv() int {
	if v, err := strconv.Atoi(os.Getenv("GRAPHCHAT_RAG_TOP_K")); err == nil && v > 0 {
		return v
	}
	return rag.DefaultTopK
}

// Config wires a Pipeline.
type Config struct {
	LLM      provider.Chatter
	Sessions *session.Registry
	// Retriever is optional. Without it questions are answered from the
	// conversation alone.
	Retriever rag.Retriever
	Scope     Scope
	// TopK defaults to rag.DefaultTopK.
	TopK int
	// MaxContextTokens bounds the prompt. History is dropped oldest-first to
	// fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	MaxTokens        int
	Temperature      *float32
}

// Pipeline is the history-aware RAG answerer. It is safe for concurrent use.
type Pipeline struct {
	cfg Config
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Pipeline, error) {
	if cfg.LLM == nil {
		return nil, errors.New("chat: LLM must not be nil")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("chat: session registry must not be nil")
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeSession
	}
	if cfg.TopK <= 0 {
		cfg.TopK = rag.DefaultTopK
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Pipeline{cfg: cfg}, nil
}

// Answer writes the model's reply to question into w and records both turns
// on the session. The session is created if it does not exist.
func (p *Pipeline) Answer(ctx context.Context, sessionID, question string, w io.Writer) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return errors.New("chat: question must not be empty")
	}
	log := logging.FromContext(ctx).With(slog.String("session_id", sessionID))

	sess, err := p.cfg.Sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("chat: load session: %w", err)
	}

	msgs := p.buildMessages(ctx, sess, question)
	answer, err := p.cfg.LLM.Chat(ctx, provider.FromSchema(msgs), provider.ChatOptions{
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return fmt.Errorf("chat: model call: %w", err)
	}
	log.Info("chat: answered", slog.Int("answer_chars", len(answer)))

	if _, err := io.WriteString(w, answer); err != nil {
		return fmt.Errorf("chat: write answer: %w", err)
	}

	if err := p.cfg.Sessions.AppendMessage(ctx, sessionID, session.RoleUser, question); err != nil {
		log.Warn("chat: failed to record user turn", slog.Any("error", err))
	}
	if err := p.cfg.Sessions.AppendMessage(ctx, sessionID, session.RoleAssistant, answer); err != nil {
		log.Warn("chat: failed to record assistant turn", slog.Any("error", err))
	}
	return nil
}

// buildMessages returns [system, ...history, context?, question] with history
// trimmed oldest-first to the token budget.
func (p *Pipeline) buildMessages(ctx context.Context, sess session.State, question string) []*schema.Message {
	log := logging.FromContext(ctx)

	history := make([]*schema.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		switch m.Role {
		case session.RoleUser:
			history = append(history, schema.UserMessage(m.Content))
		case session.RoleAssistant:
			history = append(history, schema.AssistantMessage(m.Content, nil))
		}
	}

	tail := make([]*schema.Message, 0, 2)
	if block := p.retrieve(ctx, sess.ID, question); block != "" {
		tail = append(tail, schema.SystemMessage(block))
	}
	tail = append(tail, schema.UserMessage(question))

	head := []*schema.Message{schema.SystemMessage(systemPrompt)}
	fixed := append(append([]*schema.Message{}, head...), tail...)

	before := len(history)
	history = budget.TrimHistory(fixed, history, p.cfg.MaxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", p.cfg.MaxContextTokens),
		)
	}

	out := make([]*schema.Message, 0, len(head)+len(history)+len(tail))
	out = append(out, head...)
	out = append(out, history...)
	return append(out, tail...)
}

// retrieve returns the context block for question, or "" when retrieval is
// disabled, finds nothing, or fails.
func (p *Pipeline) retrieve(ctx context.Context, sessionID, question string) string {
	if p.cfg.Retriever == nil {
		return ""
	}
	var f rag.Filter
	if p.cfg.Scope == ScopeSession {
		f.SessionID = sessionID
	}

	docs, err := p.cfg.Retriever.Retrieve(ctx, question, p.cfg.TopK, f)
	if err != nil {
		logging.FromContext(ctx).Warn("chat: retrieval failed, continuing without context", slog.Any("error", err))
		return ""
	}
	logging.FromContext(ctx).Info("chat: retrieved context",
		slog.Int("documents", len(docs)),
		slog.String("scope", string(p.cfg.Scope)),
	)
	if len(docs) == 0 {
		return ""
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return "Here is additional context retrieved from the user's documents:\n\n" +
		strings.Join(parts, contextSeparator) +
		"\n\nUse this context when answering if it is relevant."
}
