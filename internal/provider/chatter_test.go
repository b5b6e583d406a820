package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeModel records the last call and returns a canned reply.
type fakeModel struct {
	reply string
	err   error

	gotMsgs []*schema.Message
	gotOpts *model.Options
}

func (f *fakeModel) Generate(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.gotMsgs = in
	f.gotOpts = model.GetCommonOptions(nil, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoChatter_ConvertsRolesAndOptions(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{reply: "pong"}
	c, err := NewEinoChatter(fm)
	if err != nil {
		t.Fatalf("NewEinoChatter: %v", err)
	}

	temp := float32(0.1)
	got, err := c.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "ping"},
		{Role: RoleAssistant, Content: "earlier"},
	}, ChatOptions{MaxTokens: 1024, Temperature: &temp})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "pong" {
		t.Errorf("want pong, got %q", got)
	}

	wantRoles := []schema.RoleType{schema.System, schema.User, schema.Assistant}
	if len(fm.gotMsgs) != len(wantRoles) {
		t.Fatalf("want %d messages, got %d", len(wantRoles), len(fm.gotMsgs))
	}
	for i, r := range wantRoles {
		if fm.gotMsgs[i].Role != r {
			t.Errorf("message %d: want role %s, got %s", i, r, fm.gotMsgs[i].Role)
		}
	}
	if fm.gotOpts.MaxTokens == nil || *fm.gotOpts.MaxTokens != 1024 {
		t.Errorf("want max tokens 1024, got %v", fm.gotOpts.MaxTokens)
	}
	if fm.gotOpts.Temperature == nil || *fm.gotOpts.Temperature != temp {
		t.Errorf("want temperature %v, got %v", temp, fm.gotOpts.Temperature)
	}
}

func TestEinoChatter_ZeroOptionsLeaveDefaults(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{reply: "ok"}
	c, _ := NewEinoChatter(fm)

	if _, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if fm.gotOpts.MaxTokens != nil || fm.gotOpts.Temperature != nil {
		t.Errorf("want no overrides, got max=%v temp=%v", fm.gotOpts.MaxTokens, fm.gotOpts.Temperature)
	}
}

func TestEinoChatter_WrapsModelError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("connection refused")
	c, _ := NewEinoChatter(&fakeModel{err: sentinel})

	_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	if !errors.Is(err, sentinel) {
		t.Errorf("want wrapped sentinel, got %v", err)
	}
}

func TestNewEinoChatter_NilModel(t *testing.T) {
	t.Parallel()

	if _, err := NewEinoChatter(nil); err == nil {
		t.Error("want error for nil model")
	}
}

func TestFromSchema_RoundTripsRoles(t *testing.T) {
	t.Parallel()

	in := []Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleAssistant, Content: "a"},
	}
	got := FromSchema(ToSchema(in))
	if len(got) != len(in) {
		t.Fatalf("want %d messages, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("message %d: want %+v, got %+v", i, in[i], got[i])
		}
	}
}
