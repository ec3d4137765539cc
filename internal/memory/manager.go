package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/blob"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/embedding"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/fdg312/coach-hub/internal/vecstore"
)

// Options — настройки менеджера памяти.
type Options struct {
	SummaryTriggerDialogueCount int
	RetentionDaysCheckin        int
	RetentionDaysDialogue       int
	ContextCharBudget           int
}

func (o *Options) normalize() {
	if o.SummaryTriggerDialogueCount <= 0 {
		o.SummaryTriggerDialogueCount = 20
	}
	if o.RetentionDaysCheckin <= 0 {
		o.RetentionDaysCheckin = 365
	}
	if o.RetentionDaysDialogue <= 0 {
		o.RetentionDaysDialogue = 90
	}
	if o.ContextCharBudget <= 0 {
		o.ContextCharBudget = 4000
	}
}

// Manager — C5: единый фасад над кратковременной и долговременной памятью.
// Long-term failures never fail the write path: the short-term buffer is
// authoritative for recent context and long-term degrades to empty reads.
type Manager struct {
	shortTerm *ShortTerm
	longTerm  vecstore.Store // may be nil (degraded mode)
	embedder  embedding.Engine
	llm       ai.Provider
	profiles  storage.ProfilesStorage
	archive   blob.Store // may be nil
	clock     clock.Clock
	sink      metrics.Sink
	opts      Options

	mu           sync.Mutex
	unsummarized map[string]int
}

func NewManager(
	shortTerm *ShortTerm,
	longTerm vecstore.Store,
	embedder embedding.Engine,
	llm ai.Provider,
	profiles storage.ProfilesStorage,
	archive blob.Store,
	clk clock.Clock,
	sink metrics.Sink,
	opts Options,
) *Manager {
	opts.normalize()
	if sink == nil {
		sink = metrics.NullSink{}
	}
	return &Manager{
		shortTerm:    shortTerm,
		longTerm:     longTerm,
		embedder:     embedder,
		llm:          llm,
		profiles:     profiles,
		archive:      archive,
		clock:        clk,
		sink:         sink,
		opts:         opts,
		unsummarized: make(map[string]int),
	}
}

// OnCheckin formats the canonical sentence, buffers it short-term and
// stores the original long-term with high importance.
func (m *Manager) OnCheckin(ctx context.Context, rec *storage.HealthRecord) {
	sentence := CanonicalSentence(rec)

	m.shortTerm.Add(rec.UserID, Entry{
		Kind:      KindCheckin,
		Content:   sentence,
		CreatedAt: rec.RecordedAt,
	})

	m.addLongTerm(ctx, vecstore.Document{
		UserID:      rec.UserID,
		Kind:        vecstore.KindCheckin,
		Content:     sentence,
		Importance:  vecstore.ImportanceHigh,
		Timestamp:   rec.RecordedAt,
		RetainUntil: rec.RecordedAt.AddDate(0, 0, m.opts.RetentionDaysCheckin),
	})
}

// OnDialogue buffers a turn. Raw turns never reach long-term; every
// SummaryTriggerDialogueCount new turns the oldest span is summarized
// into a single long-term document.
func (m *Manager) OnDialogue(ctx context.Context, userID, role, content string, at time.Time) {
	m.shortTerm.Add(userID, Entry{
		Kind:      KindDialogue,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	})

	m.mu.Lock()
	m.unsummarized[userID]++
	due := m.unsummarized[userID] >= m.opts.SummaryTriggerDialogueCount
	if due {
		m.unsummarized[userID] = 0
	}
	m.mu.Unlock()

	if due {
		m.summarizeSpan(ctx, userID, at)
	}
}

// GetContext assembles the generator context: short-term first, then
// long-term matches, then profile highlights; most-recent last within
// sections, truncated to the character budget.
func (m *Manager) GetContext(ctx context.Context, userID, query string, checkinLimit, dialogueLimit int, includeLongTerm bool) string {
	if checkinLimit <= 0 {
		checkinLimit = 15
	}
	if dialogueLimit <= 0 {
		dialogueLimit = 20
	}

	var sections []string

	entries := m.shortTerm.CombinedContext(userID, checkinLimit, dialogueLimit)
	if len(entries) > 0 {
		var b strings.Builder
		b.WriteString("Недавние записи и диалог:\n")
		for _, e := range entries {
			if e.Kind == KindDialogue {
				fmt.Fprintf(&b, "- %s: %s\n", e.Role, e.Content)
			} else {
				fmt.Fprintf(&b, "- %s\n", e.Content)
			}
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if query != "" && includeLongTerm && m.longTerm != nil {
		if results := m.searchLongTerm(ctx, userID, query); len(results) > 0 {
			var b strings.Builder
			b.WriteString("Из долговременной памяти:\n")
			for _, r := range results {
				fmt.Fprintf(&b, "- %s\n", r.Document.Content)
			}
			sections = append(sections, strings.TrimRight(b.String(), "\n"))
		}
	}

	if highlights := m.profileHighlights(ctx, userID); highlights != "" {
		sections = append(sections, highlights)
	}

	out := strings.Join(sections, "\n\n---\n\n")
	if runes := []rune(out); len(runes) > m.opts.ContextCharBudget {
		out = string(runes[:m.opts.ContextCharBudget])
	}
	return out
}

// Compress merges compressible dialogue summaries into one low-importance
// document, archiving the originals first.
func (m *Manager) Compress(ctx context.Context, userID string) error {
	if m.longTerm == nil {
		return nil
	}

	now := m.clock.Now()
	cutoff := now.AddDate(0, 0, -m.opts.RetentionDaysDialogue)
	docs, err := m.longTerm.ListCompressible(ctx, userID, now, cutoff)
	if err != nil {
		return fmt.Errorf("list compressible: %w", err)
	}
	if len(docs) < 2 {
		return nil
	}

	if m.archive != nil {
		payload, err := json.Marshal(docs)
		if err == nil {
			key := fmt.Sprintf("memory-archive/%s/%s.json", userID, now.Format("2006-01-02T15-04-05"))
			if _, err := m.archive.PutObject(ctx, key, payload, "application/json"); err != nil {
				log.Printf("degraded: memory archive write failed: %v", err)
				m.sink.Incr("memory.archive.degraded", nil)
			}
		}
	}

	parts := make([]string, 0, len(docs))
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
		ids = append(ids, d.ID)
	}
	merged := m.summarizeText(ctx, strings.Join(parts, "\n"))

	if err := m.longTerm.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete compressed docs: %w", err)
	}

	m.addLongTerm(ctx, vecstore.Document{
		UserID:      userID,
		Kind:        vecstore.KindDialogueSummary,
		Content:     merged,
		Importance:  vecstore.ImportanceLow,
		Timestamp:   now,
		RetainUntil: now.AddDate(0, 0, m.opts.RetentionDaysDialogue),
	})
	m.sink.Incr("memory.compressed", map[string]string{"docs": fmt.Sprintf("%d", len(ids))})
	return nil
}

func (m *Manager) addLongTerm(ctx context.Context, doc vecstore.Document) {
	if m.longTerm == nil {
		return
	}
	emb, err := m.embedder.Embed(ctx, doc.Content)
	if err != nil {
		log.Printf("degraded: embedding failed for user %s: %v", doc.UserID, err)
		m.sink.Incr("memory.embed.degraded", nil)
		return
	}
	if _, err := m.longTerm.Add(ctx, doc, emb); err != nil {
		log.Printf("degraded: long-term write failed for user %s: %v", doc.UserID, err)
		m.sink.Incr("memory.longterm.degraded", nil)
	}
}

func (m *Manager) searchLongTerm(ctx context.Context, userID, query string) []vecstore.Result {
	emb, err := m.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("degraded: query embedding failed: %v", err)
		m.sink.Incr("memory.embed.degraded", nil)
		return nil
	}
	results, err := m.longTerm.Search(ctx, emb, 5, vecstore.Filter{UserID: userID})
	if err != nil {
		log.Printf("degraded: long-term search failed: %v", err)
		m.sink.Incr("memory.longterm.degraded", nil)
		return nil
	}
	return results
}

// summarizeSpan condenses the oldest buffered dialogue turns into one
// long-term summary document.
func (m *Manager) summarizeSpan(ctx context.Context, userID string, at time.Time) {
	span := m.shortTerm.OldestDialogue(userID, m.opts.SummaryTriggerDialogueCount)
	if len(span) == 0 {
		return
	}

	var b strings.Builder
	for _, e := range span {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	summary := m.summarizeText(ctx, b.String())

	m.addLongTerm(ctx, vecstore.Document{
		UserID:      userID,
		Kind:        vecstore.KindDialogueSummary,
		Content:     summary,
		Importance:  vecstore.ImportanceMedium,
		Timestamp:   at,
		RetainUntil: at.AddDate(0, 0, m.opts.RetentionDaysDialogue),
	})
}

// summarizeText asks the LLM for a summary and falls back to a plain
// truncation when the provider is unavailable.
func (m *Manager) summarizeText(ctx context.Context, text string) string {
	resp, err := m.llm.ChatCompletion(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: "Сожми диалог в 2-3 предложения: темы, решения, настроение пользователя. Без приветствий."},
			{Role: "user", Content: text},
		},
		MaxTokens: 200,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		log.Printf("degraded: summarizer unavailable, truncating span")
		m.sink.Incr("memory.summary.degraded", nil)
		if len(text) > 400 {
			return text[:400]
		}
		return text
	}
	return strings.TrimSpace(resp.Content)
}

func (m *Manager) profileHighlights(ctx context.Context, userID string) string {
	p, found, err := m.profiles.GetProfile(ctx, userID)
	if err != nil || !found {
		return ""
	}

	var b strings.Builder
	b.WriteString("Профиль:\n")
	fmt.Fprintf(&b, "- мотивация: %s\n", p.MotivationType)
	if p.CommunicationStyle != "" {
		fmt.Fprintf(&b, "- стиль общения: %s\n", p.CommunicationStyle)
	}
	if p.GoalWeightKg != nil {
		fmt.Fprintf(&b, "- цель по весу: %.1f кг\n", *p.GoalWeightKg)
	}
	if p.CalorieTarget > 0 {
		fmt.Fprintf(&b, "- цель по калориям: %d ккал\n", p.CalorieTarget)
	}
	return strings.TrimRight(b.String(), "\n")
}

// CanonicalSentence renders a health record as one memory line, e.g.
// "[meal] at 12:30, ate salad, ~520 kcal".
func CanonicalSentence(rec *storage.HealthRecord) string {
	at := rec.RecordedAt.Format("15:04")
	switch rec.Kind {
	case storage.RecordWeight:
		return fmt.Sprintf("[weight] at %s, weighed %.1f kg", at, rec.Value)
	case storage.RecordMeal:
		what := rec.Note
		if what == "" {
			what = "a meal"
		}
		return fmt.Sprintf("[meal] at %s, ate %s, ~%.0f kcal", at, what, rec.Value)
	case storage.RecordExercise:
		dur := 0
		if rec.DurationMin != nil {
			dur = *rec.DurationMin
		}
		what := rec.Note
		if what == "" {
			what = "exercise"
		}
		return fmt.Sprintf("[exercise] at %s, %s for %d min", at, what, dur)
	case storage.RecordWater:
		return fmt.Sprintf("[water] at %s, drank %.0f ml", at, rec.Value)
	case storage.RecordSleep:
		dur := 0
		if rec.DurationMin != nil {
			dur = *rec.DurationMin
		}
		return fmt.Sprintf("[sleep] at %s, slept %dh%02dm", at, dur/60, dur%60)
	default:
		return fmt.Sprintf("[%s] at %s, value %.1f", rec.Kind, at, rec.Value)
	}
}
