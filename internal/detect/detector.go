// Package detect derives short-lived context events (illness, travel,
// social engagement, high stress) from recent dialogue and records.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
)

// Event kinds.
const (
	KindIllness          = "illness"
	KindTravel           = "travel"
	KindSocialEngagement = "social_engagement"
	KindHighStress       = "high_stress"
)

// Ambiguity band where the LLM layer is consulted.
const (
	ambiguousLow  = 0.35
	ambiguousHigh = 0.65
)

// Event — контекстное событие с уверенностью и сроком действия.
type Event struct {
	Kind       string
	Confidence float64
	DetectedAt time.Time
	ExpiresAt  time.Time
	Evidence   string
}

// TTLs — срок действия события по виду (часы).
type TTLs struct {
	IllnessHours    int
	SocialHours     int
	HighStressHours int
}

func (t *TTLs) normalize() {
	if t.IllnessHours <= 0 {
		t.IllnessHours = 48
	}
	if t.SocialHours <= 0 {
		t.SocialHours = 12
	}
	if t.HighStressHours <= 0 {
		t.HighStressHours = 24
	}
}

// Detector — C6: слоистый детектор контекстных событий.
type Detector struct {
	dialogue storage.DialogueStorage
	llm      ai.Provider
	clock    clock.Clock
	sink     metrics.Sink
	ttls     TTLs
	windowH  int

	mu     sync.Mutex
	active map[string][]Event // per user
}

func NewDetector(dialogue storage.DialogueStorage, llm ai.Provider, clk clock.Clock, sink metrics.Sink, ttls TTLs) *Detector {
	ttls.normalize()
	if sink == nil {
		sink = metrics.NullSink{}
	}
	return &Detector{
		dialogue: dialogue,
		llm:      llm,
		clock:    clk,
		sink:     sink,
		ttls:     ttls,
		windowH:  48,
		active:   make(map[string][]Event),
	}
}

// Detect scans the dialogue window, refreshes the active set and returns
// the unexpired events. The LLM layer runs only for ambiguous pattern
// confidence and only in balanced/intelligent mode.
func (d *Detector) Detect(ctx context.Context, userID, decisionMode string) ([]Event, error) {
	now := d.clock.Now()

	msgs, err := d.dialogue.ListDialogueSince(ctx, userID, now.Add(-time.Duration(d.windowH)*time.Hour), 200)
	if err != nil {
		return d.Active(userID), fmt.Errorf("list dialogue: %w", err)
	}

	var text strings.Builder
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		text.WriteString(m.Content)
		text.WriteString("\n")
	}

	detected := d.patternLayer(text.String(), now)

	top := 0.0
	for _, e := range detected {
		if e.Confidence > top {
			top = e.Confidence
		}
	}
	llmEligible := decisionMode == "balanced" || decisionMode == "intelligent"
	if llmEligible && len(msgs) > 0 && top >= ambiguousLow && top <= ambiguousHigh {
		detected = d.llmLayer(ctx, text.String(), detected, now)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[userID] = mergeEvents(pruneExpired(d.active[userID], now), detected)
	out := make([]Event, len(d.active[userID]))
	copy(out, d.active[userID])
	return out, nil
}

// Active returns unexpired events without rescanning; expired ones are
// pruned lazily here.
func (d *Detector) Active(userID string) []Event {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[userID] = pruneExpired(d.active[userID], now)
	out := make([]Event, len(d.active[userID]))
	copy(out, d.active[userID])
	return out
}

// SetActive seeds an event directly (travel declared via preferences,
// tests).
func (d *Detector) SetActive(userID string, e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[userID] = mergeEvents(d.active[userID], []Event{e})
}

func (d *Detector) patternLayer(text string, now time.Time) []Event {
	var events []Event
	lowered := strings.ToLower(text)

	for kind, terms := range keywordSets {
		matches := 0
		evidence := ""
		for _, term := range terms {
			if strings.Contains(lowered, term) {
				matches++
				if evidence == "" {
					evidence = term
				}
			}
		}
		if matches == 0 {
			continue
		}

		confidence := 0.45 + 0.15*float64(matches)
		if confidence > 0.95 {
			confidence = 0.95
		}

		events = append(events, Event{
			Kind:       kind,
			Confidence: confidence,
			DetectedAt: now,
			ExpiresAt:  d.expiry(kind, now, text),
			Evidence:   evidence,
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Confidence > events[j].Confidence })
	return events
}

// llmLayer asks the LLM to re-judge an ambiguous window and coerces the
// reply into the same event shape. Provider failure keeps the pattern result.
func (d *Detector) llmLayer(ctx context.Context, text string, patternEvents []Event, now time.Time) []Event {
	resp, err := d.llm.ChatCompletion(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: "Определи состояния пользователя по диалогу. Ответ строго JSON: " +
				`[{"kind":"illness|travel|social_engagement|high_stress","confidence":0.0}]. Пустой массив если ничего нет.`},
			{Role: "user", Content: text},
		},
		MaxTokens: 200,
	})
	if err != nil {
		log.Printf("degraded: context-event LLM layer failed: %v", err)
		d.sink.Incr("detect.llm.degraded", nil)
		return patternEvents
	}

	var parsed []struct {
		Kind       string  `json:"kind"`
		Confidence float64 `json:"confidence"`
	}
	raw := strings.TrimSpace(resp.Content)
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		d.sink.Incr("detect.llm.degraded", nil)
		return patternEvents
	}

	llmEvents := make([]Event, 0, len(parsed))
	for _, p := range parsed {
		switch p.Kind {
		case KindIllness, KindTravel, KindSocialEngagement, KindHighStress:
		default:
			continue
		}
		if p.Confidence <= 0 || p.Confidence > 1 {
			continue
		}
		llmEvents = append(llmEvents, Event{
			Kind:       p.Kind,
			Confidence: p.Confidence,
			DetectedAt: now,
			ExpiresAt:  d.expiry(p.Kind, now, text),
			Evidence:   "llm",
		})
	}
	return mergeEvents(patternEvents, llmEvents)
}

func (d *Detector) expiry(kind string, now time.Time, text string) time.Time {
	switch kind {
	case KindIllness:
		return now.Add(time.Duration(d.ttls.IllnessHours) * time.Hour)
	case KindSocialEngagement:
		return now.Add(time.Duration(d.ttls.SocialHours) * time.Hour)
	case KindHighStress:
		return now.Add(time.Duration(d.ttls.HighStressHours) * time.Hour)
	case KindTravel:
		if end, ok := findTravelEndDate(text, now); ok {
			return end
		}
		return now.Add(72 * time.Hour)
	default:
		return now.Add(24 * time.Hour)
	}
}

var isoDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

// findTravelEndDate looks for an explicit end date in the window; the
// latest future date wins.
func findTravelEndDate(text string, now time.Time) (time.Time, bool) {
	var best time.Time
	for _, m := range isoDateRe.FindAllString(text, -1) {
		t, err := time.ParseInLocation("2006-01-02", m, now.Location())
		if err != nil {
			continue
		}
		// end of that day
		t = t.Add(24*time.Hour - time.Second)
		if t.After(now) && t.After(best) {
			best = t
		}
	}
	if best.IsZero() {
		return time.Time{}, false
	}
	return best, true
}

func pruneExpired(events []Event, now time.Time) []Event {
	kept := events[:0]
	for _, e := range events {
		if e.ExpiresAt.After(now) {
			kept = append(kept, e)
		}
	}
	return kept
}

// mergeEvents keeps one event per kind, preferring higher confidence and
// the later expiry.
func mergeEvents(existing, incoming []Event) []Event {
	byKind := make(map[string]Event, len(existing)+len(incoming))
	for _, e := range existing {
		byKind[e.Kind] = e
	}
	for _, e := range incoming {
		cur, ok := byKind[e.Kind]
		if !ok {
			byKind[e.Kind] = e
			continue
		}
		if e.Confidence > cur.Confidence {
			cur.Confidence = e.Confidence
			cur.Evidence = e.Evidence
			cur.DetectedAt = e.DetectedAt
		}
		if e.ExpiresAt.After(cur.ExpiresAt) {
			cur.ExpiresAt = e.ExpiresAt
		}
		byKind[e.Kind] = cur
	}

	out := make([]Event, 0, len(byKind))
	for _, e := range byKind {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
