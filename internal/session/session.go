// Package session keeps per-session chat state: the message history and the
// PDFs attached to the session. State lives in memory and is optionally
// written through to a store.ConversationStore so it survives a restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/store"
)

// ErrNotFound is returned by Snapshot for an id that was never created.
var ErrNotFound = errors.New("session not found")

// Message roles accepted by AppendMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is a copy of one session's data. Mutating it does not affect the
// registry.
type State struct {
	ID           string    `json:"session_id"`
	Messages     []Message `json:"messages"`
	AttachedPDFs []string  `json:"attached_pdfs"`
}

// HistoryText renders the conversation as "ROLE: content" lines.
func (s State) HistoryText() string {
	lines := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		lines = append(lines, strings.ToUpper(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Registry is the process-wide set of sessions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State
	store    store.ConversationStore
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists every mutation to cs and reloads sessions from it on
// first access.
func WithStore(cs store.ConversationStore) Option {
	return func(r *Registry) { r.store = cs }
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{sessions: make(map[string]*State)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create starts a new session with a random id.
func (r *Registry) Create(ctx context.Context) (State, error) {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		if err := r.store.CreateSession(ctx, id); err != nil {
			return State{}, fmt.Errorf("session: create: %w", err)
		}
	}
	st := &State{ID: id}
	r.sessions[id] = st
	logging.FromContext(ctx).Info("session: created", slog.String("session_id", id))
	return st.clone(), nil
}

// Get returns the session, creating an empty one when id is unknown.
func (r *Registry) Get(ctx context.Context, id string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, id, true)
	if err != nil {
		return State{}, err
	}
	return st.clone(), nil
}

// Snapshot returns the session or ErrNotFound. It never creates one.
func (r *Registry) Snapshot(ctx context.Context, id string) (State, error) {
	r.mu.RLock()
	st, ok := r.sessions[id]
	if ok {
		out := st.clone()
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	if r.store == nil {
		return State{}, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.load(ctx, id, false)
	if err != nil {
		return State{}, err
	}
	return st.clone(), nil
}

// AppendMessage adds a turn to the session history.
func (r *Registry) AppendMessage(ctx context.Context, id, role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("session: unsupported role %q", role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, id, true)
	if err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.Append(ctx, id, store.Role(role), content); err != nil {
			return fmt.Errorf("session: append message: %w", err)
		}
	}
	st.Messages = append(st.Messages, Message{Role: role, Content: content})
	return nil
}

// AttachPDF records a stored PDF path on the session.
func (r *Registry) AttachPDF(ctx context.Context, id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, id, true)
	if err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.AttachPDF(ctx, id, path); err != nil {
			return fmt.Errorf("session: attach pdf: %w", err)
		}
	}
	st.AttachedPDFs = append(st.AttachedPDFs, path)
	return nil
}

// load returns the live state for id. r.mu must be held for writing.
func (r *Registry) load(ctx context.Context, id string, create bool) (*State, error) {
	if st, ok := r.sessions[id]; ok {
		return st, nil
	}
	if r.store == nil {
		if !create {
			return nil, ErrNotFound
		}
		st := &State{ID: id}
		r.sessions[id] = st
		return st, nil
	}

	exists, err := r.store.SessionExists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if !exists {
		if !create {
			return nil, ErrNotFound
		}
		if err := r.store.CreateSession(ctx, id); err != nil {
			return nil, fmt.Errorf("session: create: %w", err)
		}
		st := &State{ID: id}
		r.sessions[id] = st
		return st, nil
	}

	msgs, err := r.store.Recent(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("session: load history: %w", err)
	}
	pdfs, err := r.store.Attachments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: load attachments: %w", err)
	}
	st := &State{ID: id, AttachedPDFs: pdfs}
	for _, m := range msgs {
		st.Messages = append(st.Messages, Message{Role: string(m.Role), Content: m.Content})
	}
	r.sessions[id] = st
	logging.FromContext(ctx).Debug("session: restored from store",
		slog.String("session_id", id),
		slog.Int("messages", len(st.Messages)),
		slog.Int("pdfs", len(st.AttachedPDFs)),
	)
	return st, nil
}

func (s State) clone() State {
	return State{
		ID:           s.ID,
		Messages:     append([]Message(nil), s.Messages...),
		AttachedPDFs: append([]string(nil), s.AttachedPDFs...),
	}
}
