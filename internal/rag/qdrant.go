package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys that map onto Document fields rather than Metadata.
const (
	payloadContent = "content"
	payloadSource  = "source"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// DefaultCollection is used when QdrantConfig.Collection is empty.
const DefaultCollection = "graphchat_chunks"

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection and
// its session_id payload index exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// ensureCollection creates the collection and the keyword index used by
// session-scoped searches if they do not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      MetaSessionID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %s: %w", MetaSessionID, err)
	}
	return nil
}

// Upsert stores or updates a batch of documents with their embeddings.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("qdrant: upsert: %d documents but %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			payloadContent: doc.Content,
			payloadSource:  doc.Source,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, vec []float32, topK int, f Filter) ([]Document, error) {
	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f.SessionID != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(MetaSessionID, f.SessionID)},
		}
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			switch k {
			case payloadContent:
				doc.Content = v.GetStringValue()
			case payloadSource:
				doc.Source = v.GetStringValue()
			default:
				doc.Metadata[k] = v.GetStringValue()
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents from the collection by their IDs.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
