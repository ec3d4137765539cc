// Package abtest assigns users to experiment variants by stable hash
// and logs per-user outcomes.
package abtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
)

// Variant — вариант эксперимента с весом.
type Variant struct {
	Name   string
	Weight float64 // weights across a test sum to 1.0
}

// Test — определение эксперимента (статично на процесс).
type Test struct {
	ID       string
	Variants []Variant
}

// Registry — активные эксперименты.
type Registry struct {
	tests   map[string]Test
	results storage.ABResultsStorage
}

func NewRegistry(results storage.ABResultsStorage, tests ...Test) (*Registry, error) {
	byID := make(map[string]Test, len(tests))
	for _, t := range tests {
		total := 0.0
		for _, v := range t.Variants {
			total += v.Weight
		}
		if total < 0.999 || total > 1.001 {
			return nil, fmt.Errorf("test %s: variant weights sum to %.3f, want 1.0", t.ID, total)
		}
		byID[t.ID] = t
	}
	return &Registry{tests: byID, results: results}, nil
}

// Assign derives the user's variant from a stable hash of (test, user).
// The same pair always maps to the same variant.
func (r *Registry) Assign(testID, userID string) (string, bool) {
	t, ok := r.tests[testID]
	if !ok || len(t.Variants) == 0 {
		return "", false
	}

	h := fnv.New64a()
	h.Write([]byte(testID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	point := float64(h.Sum64()%10000) / 10000

	cumulative := 0.0
	for _, v := range t.Variants {
		cumulative += v.Weight
		if point < cumulative {
			return v.Name, true
		}
	}
	return t.Variants[len(t.Variants)-1].Name, true
}

// LogOutcome appends the user's outcome for later analysis.
func (r *Registry) LogOutcome(ctx context.Context, testID, userID, outcome string, at time.Time) error {
	variant, ok := r.Assign(testID, userID)
	if !ok {
		return fmt.Errorf("unknown test %q", testID)
	}
	return r.results.InsertABResult(ctx, &storage.ABResult{
		TestID:    testID,
		Variant:   variant,
		UserID:    userID,
		Outcome:   outcome,
		CreatedAt: at,
	})
}
