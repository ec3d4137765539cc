package abtest

import (
	"context"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/storage/memory"
)

func TestAssignmentIsStable(t *testing.T) {
	store := memory.New()
	reg, err := NewRegistry(store, Test{
		ID: "tone_v1",
		Variants: []Variant{
			{Name: "control", Weight: 0.5},
			{Name: "warm", Weight: 0.5},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	first, ok := reg.Assign("tone_v1", "user-123")
	if !ok {
		t.Fatal("assignment failed")
	}
	for i := 0; i < 100; i++ {
		again, _ := reg.Assign("tone_v1", "user-123")
		if again != first {
			t.Fatalf("assignment flapped: %s then %s", first, again)
		}
	}
}

func TestAssignmentRoughlyFollowsWeights(t *testing.T) {
	store := memory.New()
	reg, _ := NewRegistry(store, Test{
		ID: "tone_v1",
		Variants: []Variant{
			{Name: "control", Weight: 0.9},
			{Name: "warm", Weight: 0.1},
		},
	})

	control := 0
	for i := 0; i < 1000; i++ {
		v, _ := reg.Assign("tone_v1", string(rune('a'+i%26))+string(rune('0'+i%10))+string(rune(i)))
		if v == "control" {
			control++
		}
	}
	if control < 800 || control > 980 {
		t.Errorf("control share = %d/1000, want roughly 900", control)
	}
}

func TestWeightsMustSumToOne(t *testing.T) {
	store := memory.New()
	_, err := NewRegistry(store, Test{
		ID: "bad",
		Variants: []Variant{
			{Name: "a", Weight: 0.5},
			{Name: "b", Weight: 0.2},
		},
	})
	if err == nil {
		t.Error("weights summing to 0.7 accepted")
	}
}

func TestLogOutcomePersistsVariant(t *testing.T) {
	store := memory.New()
	reg, _ := NewRegistry(store, Test{
		ID:       "tone_v1",
		Variants: []Variant{{Name: "control", Weight: 1.0}},
	})

	if err := reg.LogOutcome(context.Background(), "tone_v1", "u1", "clicked", time.Now()); err != nil {
		t.Fatal(err)
	}
	results, err := store.ListABResults(context.Background(), "tone_v1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Variant != "control" || results[0].Outcome != "clicked" {
		t.Errorf("results = %+v", results)
	}

	if err := reg.LogOutcome(context.Background(), "nope", "u1", "x", time.Now()); err == nil {
		t.Error("unknown test accepted")
	}
}
