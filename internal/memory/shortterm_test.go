package memory

import (
	"fmt"
	"testing"
	"time"
)

func TestCheckinOverflowEvictsOldestCheckinOnly(t *testing.T) {
	st := NewShortTerm()
	base := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		st.Add("u1", Entry{Kind: KindDialogue, Role: "user", Content: fmt.Sprintf("turn %d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	for i := 0; i < CheckinCap; i++ {
		st.Add("u1", Entry{Kind: KindCheckin, Content: fmt.Sprintf("checkin %d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	checkins, dialogue := st.Counts("u1")
	if checkins != CheckinCap || dialogue != 5 {
		t.Fatalf("counts = %d/%d, want %d/5", checkins, dialogue, CheckinCap)
	}

	// The 31st check-in evicts exactly the oldest check-in.
	st.Add("u1", Entry{Kind: KindCheckin, Content: "checkin 30", CreatedAt: base.Add(30 * time.Minute)})

	checkins, dialogue = st.Counts("u1")
	if checkins != CheckinCap {
		t.Errorf("checkins = %d, want %d", checkins, CheckinCap)
	}
	if dialogue != 5 {
		t.Errorf("dialogue entries touched by checkin eviction: %d, want 5", dialogue)
	}

	ctx := st.CombinedContext("u1", CheckinCap, 0)
	if ctx[0].Content != "checkin 1" {
		t.Errorf("oldest surviving checkin = %q, want %q", ctx[0].Content, "checkin 1")
	}
	if ctx[len(ctx)-1].Content != "checkin 30" {
		t.Errorf("newest checkin = %q, want %q", ctx[len(ctx)-1].Content, "checkin 30")
	}
}

func TestDialogueOverflowCap(t *testing.T) {
	st := NewShortTerm()
	base := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)

	for i := 0; i < DialogueCap+10; i++ {
		st.Add("u1", Entry{Kind: KindDialogue, Role: "user", Content: fmt.Sprintf("turn %d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	_, dialogue := st.Counts("u1")
	if dialogue != DialogueCap {
		t.Errorf("dialogue count = %d, want %d", dialogue, DialogueCap)
	}

	oldest := st.OldestDialogue("u1", 1)
	if oldest[0].Content != "turn 10" {
		t.Errorf("oldest turn = %q, want %q", oldest[0].Content, "turn 10")
	}
}

func TestCombinedContextNewestLastWithLimits(t *testing.T) {
	st := NewShortTerm()
	base := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)

	st.Add("u1", Entry{Kind: KindCheckin, Content: "c0", CreatedAt: base})
	st.Add("u1", Entry{Kind: KindDialogue, Role: "user", Content: "d0", CreatedAt: base.Add(time.Minute)})
	st.Add("u1", Entry{Kind: KindCheckin, Content: "c1", CreatedAt: base.Add(2 * time.Minute)})
	st.Add("u1", Entry{Kind: KindDialogue, Role: "assistant", Content: "d1", CreatedAt: base.Add(3 * time.Minute)})

	ctx := st.CombinedContext("u1", 1, 2)
	if len(ctx) != 3 {
		t.Fatalf("len = %d, want 3 (1 checkin + 2 dialogue)", len(ctx))
	}
	want := []string{"c1", "d0", "d1"}
	for i, w := range want {
		if ctx[i].Content != w {
			t.Errorf("ctx[%d] = %q, want %q", i, ctx[i].Content, w)
		}
	}
}

func TestBuffersAreIsolatedPerUser(t *testing.T) {
	st := NewShortTerm()
	now := time.Now()
	st.Add("a", Entry{Kind: KindCheckin, Content: "a1", CreatedAt: now})
	st.Add("b", Entry{Kind: KindCheckin, Content: "b1", CreatedAt: now})

	if got := st.CombinedContext("a", 10, 10); len(got) != 1 || got[0].Content != "a1" {
		t.Errorf("user a sees %+v", got)
	}
}
