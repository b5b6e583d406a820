package rag

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
)

type memoryEntry struct {
	doc Document
	vec []float32
}

// MemoryStore is an in-process VectorStore ranked by cosine similarity.
// It backs single-process runs without Qdrant and the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	order   []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Upsert stores docs, replacing any existing document with the same ID.
func (m *MemoryStore) Upsert(_ context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("rag: memory upsert: %d documents but %d vectors", len(docs), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range docs {
		if _, ok := m.entries[d.ID]; !ok {
			m.order = append(m.order, d.ID)
		}
		d.Metadata = maps.Clone(d.Metadata)
		d.Score = 0
		m.entries[d.ID] = memoryEntry{doc: d, vec: slices.Clone(vectors[i])}
	}
	return nil
}

// Search ranks every matching document against vec. Ties keep insertion order.
func (m *MemoryStore) Search(_ context.Context, vec []float32, topK int, f Filter) ([]Document, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Document, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if f.SessionID != "" && e.doc.Metadata[MetaSessionID] != f.SessionID {
			continue
		}
		d := e.doc
		d.Metadata = maps.Clone(e.doc.Metadata)
		d.Score = cosine(vec, e.vec)
		hits = append(hits, d)
	}
	slices.SortStableFunc(hits, func(a, b Document) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete removes the given IDs. Unknown IDs are ignored.
func (m *MemoryStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	m.order = slices.DeleteFunc(m.order, func(id string) bool {
		_, ok := m.entries[id]
		return !ok
	})
	return nil
}

// Len reports how many documents are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
