// Package tracing wires Langfuse into eino's global callback chain so every
// chat and graph-extraction model call is traced.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Setup initialises the Langfuse callback handler if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set. The returned flush function must be called
// before process exit. When Langfuse is not configured ok is false and the
// other values are nil.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	host := os.Getenv("LANGFUSE_HOST")
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")

	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "graphchat",
	})
	return handler, flush, true
}

// Install registers the Langfuse handler globally when configured and returns
// the flush function. The returned func is never nil.
func Install() (flush func(), enabled bool) {
	handler, flush, ok := Setup()
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
