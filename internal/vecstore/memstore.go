package vecstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store for tests and for running without a
// vector db file.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]Document
	embeds map[int64][]float32
}

func NewMemStore() *MemStore {
	return &MemStore{
		nextID: 1,
		docs:   make(map[int64]Document),
		embeds: make(map[int64][]float32),
	}
}

func (s *MemStore) Add(ctx context.Context, doc Document, embedding []float32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.ID = s.nextID
	s.nextID++
	s.docs[doc.ID] = doc
	s.embeds[doc.ID] = append([]float32(nil), embedding...)
	return doc.ID, nil
}

func (s *MemStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("vecstore: search filter requires a user")
	}
	if k <= 0 {
		k = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := []Result{}
	for id, doc := range s.docs {
		if !matchesFilter(doc, filter) {
			continue
		}
		results = append(results, Result{Document: doc, Score: cosineSimilarity(query, s.embeds[id])})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemStore) ListCompressible(ctx context.Context, userID string, now, cutoff time.Time) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := []Document{}
	for _, doc := range s.docs {
		if doc.UserID != userID || doc.Kind != KindDialogueSummary {
			continue
		}
		if doc.RetainUntil.Before(now) || (doc.Importance != ImportanceHigh && doc.Timestamp.Before(cutoff)) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Timestamp.Before(docs[j].Timestamp) })
	return docs, nil
}

func (s *MemStore) Delete(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.docs, id)
		delete(s.embeds, id)
	}
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

// Len reports the stored document count (tests).
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
