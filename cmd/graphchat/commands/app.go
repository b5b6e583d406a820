package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/graphchat-go/internal/chat"
	"github.com/54b3r/graphchat-go/internal/coordinator"
	"github.com/54b3r/graphchat-go/internal/embedder"
	"github.com/54b3r/graphchat-go/internal/graph/build"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
	"github.com/54b3r/graphchat-go/internal/graph/reduce"
	"github.com/54b3r/graphchat-go/internal/ingestion"
	"github.com/54b3r/graphchat-go/internal/provider"
	"github.com/54b3r/graphchat-go/internal/rag"
	"github.com/54b3r/graphchat-go/internal/server"
	"github.com/54b3r/graphchat-go/internal/session"
	"github.com/54b3r/graphchat-go/internal/store"
	"github.com/54b3r/graphchat-go/internal/tracing"
)

// Graph engines selectable with GRAPHCHAT_GRAPH_ENGINE or --engine.
const (
	engineSimple = "simple"
	engineMulti  = "multi"
)

// app holds every service a command may need, wired from the environment.
type app struct {
	log         *slog.Logger
	providerCfg *provider.Config
	chatter     provider.Chatter
	sessions    *session.Registry
	ingest      *ingestion.Pipeline
	chat        *chat.Pipeline
	graph       graphstore.DocumentStore
	builder     build.SessionBuilder
	engine      string
	limits      reduce.Limits
	coord       *coordinator.Coordinator
	pingers     []server.Pinger

	// closers run in reverse order on Close.
	closers []func()
}

// Close releases every resource opened by newApp.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires the services from the environment. engine overrides
// GRAPHCHAT_GRAPH_ENGINE when non-empty.
func newApp(ctx context.Context, log *slog.Logger, engine string) (_ *app, err error) {
	a := &app{log: log, limits: reduce.LimitsFromEnv()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// Langfuse tracing is opt-in and a no-op when keys are absent.
	flush, traced := tracing.Install()
	a.closers = append(a.closers, flush)
	log.Info("langfuse tracing", slog.Bool("enabled", traced))

	a.providerCfg = provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, a.providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	a.chatter, err = provider.NewEinoChatter(chatModel)
	if err != nil {
		return nil, err
	}
	log.Info("provider initialised",
		slog.String("provider", string(a.providerCfg.Backend)),
		slog.String("model", a.providerCfg.ModelName()),
	)

	var opts []session.Option
	if hs := a.openHistory(); hs != nil {
		opts = append(opts, session.WithStore(hs))
	}
	a.sessions = session.NewRegistry(opts...)

	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	if p, ok := emb.(interface{ Ping(context.Context) error }); ok {
		a.pingers = append(a.pingers, server.NewPinger(server.RoleEmbedder, embedder.Backend(), p.Ping))
	}

	vectors, err := a.openVectorStore(ctx)
	if err != nil {
		return nil, err
	}

	a.ingest, err = ingestion.NewPipeline(emb, vectors, a.sessions, &ingestion.Config{
		Root: getEnvOrDefault("GRAPHCHAT_PDF_ROOT", ingestion.DefaultRoot()),
	})
	if err != nil {
		return nil, err
	}

	topK := chat.TopKFromEnv()
	retriever, err := rag.NewRetriever(emb, vectors, topK)
	if err != nil {
		return nil, err
	}
	a.chat, err = chat.New(chat.Config{
		LLM:         a.chatter,
		Sessions:    a.sessions,
		Retriever:   retriever,
		Scope:       chat.ScopeFromEnv(),
		TopK:        topK,
		MaxTokens:   a.providerCfg.Tuning.MaxTokens,
		Temperature: a.temperature(),
	})
	if err != nil {
		return nil, err
	}

	if a.graph, err = a.openGraphStore(ctx); err != nil {
		return nil, err
	}

	if engine == "" {
		engine = getEnvOrDefault("GRAPHCHAT_GRAPH_ENGINE", engineSimple)
	}
	if a.builder, err = a.newBuilder(engine); err != nil {
		return nil, err
	}
	a.engine = engine

	if a.coord, err = a.newCoordinator(ctx); err != nil {
		return nil, err
	}

	// The chat model ping goes last: it is the only one that costs tokens.
	a.pingers = append(a.pingers, server.NewLLMPinger(a.chatter, string(a.providerCfg.Backend)))
	return a, nil
}

// openHistory opens the SQLite conversation store. GRAPHCHAT_HISTORY_DB
// overrides the default path (~/.graphchat/history.db); "disabled" turns
// persistence off. Failures disable persistence with a warning.
func (a *app) openHistory() store.ConversationStore {
	dbPath := os.Getenv("GRAPHCHAT_HISTORY_DB")
	if dbPath == "disabled" {
		a.log.Info("history: disabled via GRAPHCHAT_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		if dbPath, err = store.DefaultDBPath(); err != nil {
			a.log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		a.log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	a.closers = append(a.closers, func() { _ = hs.Close() })
	a.pingers = append(a.pingers, server.NewPinger(server.RoleHistory, "sqlite", hs.Ping))
	a.log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}

// openVectorStore connects to Qdrant when QDRANT_HOST is set and falls back
// to an in-process store otherwise.
func (a *app) openVectorStore(ctx context.Context) (rag.VectorStore, error) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		a.log.Warn("vector store: QDRANT_HOST not set, using in-memory store (chunks are lost on exit)")
		a.pingers = append(a.pingers, server.NewPinger(server.RoleVectorStore, "memory", nil))
		return rag.NewMemoryStore(), nil
	}

	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", rag.DefaultCollection)
	qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     getEnvBool("QDRANT_TLS"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	a.closers = append(a.closers, func() { _ = qs.Close() })
	a.pingers = append(a.pingers, server.NewPinger(server.RoleVectorStore, "qdrant", qs.Ping))
	a.log.Info("vector store: qdrant ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return qs, nil
}

// openGraphStore connects to Neo4j when NEO4J_URI is set and falls back to
// an in-process store otherwise.
func (a *app) openGraphStore(ctx context.Context) (graphstore.DocumentStore, error) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		a.log.Warn("graph store: NEO4J_URI not set, using in-memory store (graphs are lost on exit)")
		a.pingers = append(a.pingers, server.NewPinger(server.RoleGraphStore, "memory", nil))
		return graphstore.NewMemoryStore(), nil
	}

	ns, err := graphstore.NewNeo4jStore(ctx, graphstore.Neo4jConfig{
		URI:         uri,
		Username:    os.Getenv("NEO4J_USERNAME"),
		Password:    os.Getenv("NEO4J_PASSWORD"),
		Database:    os.Getenv("NEO4J_DATABASE"),
		Timeout:     time.Duration(getEnvInt("NEO4J_TIMEOUT_SECONDS", 0)) * time.Second,
		MaxPoolSize: getEnvInt("NEO4J_MAX_POOL_SIZE", 0),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = ns.Close(context.Background()) })
	a.pingers = append(a.pingers, server.NewPinger(server.RoleGraphStore, "neo4j", ns.Ping))
	a.log.Info("graph store: neo4j ready", slog.String("uri", uri))
	return ns, nil
}

// newBuilder returns the session graph builder for engine.
func (a *app) newBuilder(engine string) (build.SessionBuilder, error) {
	switch engine {
	case engineSimple:
		return build.NewBuilder(a.builderConfig())
	case engineMulti:
		eng, err := build.NewEngine(a.engineConfig())
		if err != nil {
			return nil, err
		}
		return build.NewEngineBuilder(build.EngineBuilderConfig{
			Engine: eng,
			Store:  a.graph,
			Loader: a.ingest,
			Limits: a.limits,
		})
	default:
		return nil, fmt.Errorf("unknown graph engine %q, valid values: %s, %s", engine, engineSimple, engineMulti)
	}
}

// builderConfig configures the single-call builder with the model tuning
// shared by chat.
func (a *app) builderConfig() build.BuilderConfig {
	return build.BuilderConfig{
		LLM:         a.chatter,
		Store:       a.graph,
		Chunks:      a.ingest,
		MaxTokens:   getEnvInt("GRAPHCHAT_GRAPH_MAX_TOKENS", 0),
		Temperature: a.temperature(),
	}
}

func (a *app) engineConfig() build.EngineConfig {
	return build.EngineConfig{
		LLM:          a.chatter,
		Store:        a.graph,
		ChunkOverlap: build.DefaultEngineChunkOverlap,
		Concurrency:  getEnvInt("GRAPHCHAT_GRAPH_CONCURRENCY", 0),
		MaxTokens:    getEnvInt("GRAPHCHAT_GRAPH_MAX_TOKENS", 0),
		Temperature:  a.temperature(),
	}
}

// temperature returns a fresh copy of the configured sampling temperature.
func (a *app) temperature() *float32 {
	t := a.providerCfg.Tuning.Temperature
	return &t
}

// newCoordinator adds a Redis build lease when REDIS_ADDR is set, so several
// server replicas never build at once.
func (a *app) newCoordinator(ctx context.Context) (*coordinator.Coordinator, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		a.pingers = append(a.pingers, server.NewPinger(server.RoleBuildLease, "process", nil))
		return coordinator.New(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
	})
	a.closers = append(a.closers, func() { _ = client.Close() })

	lease, err := coordinator.NewRedisLease(client, "graphchat:")
	if err != nil {
		return nil, err
	}
	if err := lease.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis at %s is unreachable: %w", addr, err)
	}
	ttl := time.Duration(getEnvInt("GRAPHCHAT_LEASE_TTL_SECONDS", 0)) * time.Second
	a.pingers = append(a.pingers, server.NewPinger(server.RoleBuildLease, "redis", lease.Ping))
	a.log.Info("coordinator: redis build lease enabled", slog.String("addr", addr))
	return coordinator.New(coordinator.WithLease(lease, ttl)), nil
}

// errNoSession is returned by commands that need --session.
var errNoSession = errors.New("--session is required")
