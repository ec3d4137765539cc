// Package compose turns a positive decision into personalized
// notification content via LLM prompt assembly, with static template
// fallback.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fdg312/coach-hub/internal/abtest"
	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/detect"
	"github.com/fdg312/coach-hub/internal/memory"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
)

// ToneTestID — эксперимент над тоном fallback-шаблонов.
const ToneTestID = "reminder_tone_v1"

// Allowed rich content kinds.
var allowedRichKinds = []string{"text", "card", "quick_reply", "form"}

// RichAction — интерактивный элемент уведомления.
type RichAction struct {
	Kind  string `json:"kind"` // text | card | quick_reply | form
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message — сгенерированное содержимое уведомления.
type Message struct {
	Title       string
	Body        string
	RichActions []RichAction
	ChannelHint string
}

// Request — вход генератора.
type Request struct {
	UserID     string
	Type       string
	Rationale  string         // decision reason, referenced in the prompt
	PlanIntent string         // trigger payload intent, may be empty
	Payload    map[string]any // extra values for templates (streak length etc.)
}

// Generator — C9.
type Generator struct {
	mem       *memory.Manager
	detector  *detect.Detector
	llm       ai.Provider
	profiles  storage.ProfilesStorage
	abTests   *abtest.Registry // optional
	clock     clock.Clock
	sink      metrics.Sink
	timeout   time.Duration
	maxLength int
}

func NewGenerator(mem *memory.Manager, detector *detect.Detector, llm ai.Provider, profiles storage.ProfilesStorage, clk clock.Clock, sink metrics.Sink, llmTimeoutMs, maxLength int) *Generator {
	if sink == nil {
		sink = metrics.NullSink{}
	}
	if llmTimeoutMs <= 0 {
		llmTimeoutMs = 5000
	}
	if maxLength <= 0 {
		maxLength = 300
	}
	return &Generator{
		mem:       mem,
		detector:  detector,
		llm:       llm,
		profiles:  profiles,
		clock:     clk,
		sink:      sink,
		timeout:   time.Duration(llmTimeoutMs) * time.Millisecond,
		maxLength: maxLength,
	}
}

// WithABTests lets fallback templates vary by experiment variant.
func (g *Generator) WithABTests(reg *abtest.Registry) *Generator {
	g.abTests = reg
	return g
}

// Generate assembles the prompt, calls the LLM and falls back to a
// template keyed by (type, motivation_type) on provider failure.
func (g *Generator) Generate(ctx context.Context, req Request) (Message, error) {
	profile, found, err := g.profiles.GetProfile(ctx, req.UserID)
	if err != nil {
		return Message{}, fmt.Errorf("get profile: %w", err)
	}
	motivation := "data_driven"
	style := ""
	if found {
		motivation = profile.MotivationType
		style = profile.CommunicationStyle
	}

	contextBlock := g.mem.GetContext(ctx, req.UserID, req.Type+" "+req.PlanIntent, 15, 20, true)
	events := g.detector.Active(req.UserID)

	llmCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.llm.ChatCompletion(llmCtx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: g.systemPrompt(motivation, style)},
			{Role: "user", Content: g.userPrompt(req, contextBlock, events)},
		},
		MaxTokens: 300,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		log.Printf("degraded: message generation fell back to template: %v", err)
		g.sink.Incr("compose.fallback", map[string]string{"type": req.Type})
		return g.templateMessage(ctx, req, motivation), nil
	}

	msg, ok := parseMessage(resp.Content)
	if !ok {
		g.sink.Incr("compose.fallback", map[string]string{"type": req.Type})
		return g.templateMessage(ctx, req, motivation), nil
	}
	if body := []rune(msg.Body); len(body) > g.maxLength {
		msg.Body = string(body[:g.maxLength])
	}
	msg.RichActions = filterRichActions(msg.RichActions)
	if msg.ChannelHint == "" {
		msg.ChannelHint = "chat"
	}
	return msg, nil
}

// templateMessage picks the fallback template and applies the tone
// experiment variant, logging the outcome for analysis.
func (g *Generator) templateMessage(ctx context.Context, req Request, motivation string) Message {
	msg := fallbackTemplate(req, motivation)

	if g.abTests != nil {
		if variant, ok := g.abTests.Assign(ToneTestID, req.UserID); ok {
			if variant == "warm" {
				msg.Body = warmTone(msg.Body)
			}
			if err := g.abTests.LogOutcome(ctx, ToneTestID, req.UserID, "template_"+req.Type, g.clock.Now()); err != nil {
				log.Printf("ab outcome log failed: %v", err)
			}
		}
	}
	return msg
}

func (g *Generator) systemPrompt(motivation, style string) string {
	persona := map[string]string{
		"data_driven":       "Опирайся на цифры и факты, без лишних эмоций.",
		"emotional_support": "Тёплый поддерживающий тон, подбадривай.",
		"goal_oriented":     "Фокус на цели и прогрессе к ней, конкретные шаги.",
	}[motivation]
	if persona == "" {
		persona = "Дружелюбный нейтральный тон."
	}
	if style != "" {
		persona += " Стиль общения пользователя: " + style + "."
	}

	return "Ты — коуч здоровья в приложении. " + persona +
		" Не ставь диагнозы и не заменяй врача. " +
		fmt.Sprintf("Тело сообщения не длиннее %d символов. ", g.maxLength) +
		"Разрешённые rich-элементы: " + strings.Join(allowedRichKinds, ", ") + ". " +
		`Ответ строго JSON: {"title":"...","body":"...","rich_actions":[{"kind":"quick_reply","label":"...","value":"..."}],"channel_hint":"chat"}.`
}

func (g *Generator) userPrompt(req Request, contextBlock string, events []detect.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Тип уведомления: %s.\n", req.Type)
	if req.Rationale != "" {
		fmt.Fprintf(&b, "Причина отправки: %s.\n", req.Rationale)
	}
	if req.PlanIntent != "" {
		fmt.Fprintf(&b, "Намерение: %s.\n", req.PlanIntent)
	}
	for _, ev := range events {
		switch ev.Kind {
		case detect.KindTravel:
			b.WriteString("Пользователь в поездке — предложи вариант без зала, с собственным весом.\n")
		case detect.KindIllness:
			b.WriteString("Пользователь болеет — мягкий тон, никакой нагрузки.\n")
		case detect.KindHighStress:
			b.WriteString("У пользователя стресс на работе — коротко и бережно.\n")
		case detect.KindSocialEngagement:
			b.WriteString("У пользователя застолье — без чувства вины, практичные советы.\n")
		}
	}
	if contextBlock != "" {
		b.WriteString("\nКонтекст:\n")
		b.WriteString(contextBlock)
	}
	return b.String()
}

func parseMessage(raw string) (Message, bool) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	var parsed struct {
		Title       string       `json:"title"`
		Body        string       `json:"body"`
		RichActions []RichAction `json:"rich_actions"`
		ChannelHint string       `json:"channel_hint"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Message{}, false
	}
	if strings.TrimSpace(parsed.Body) == "" {
		return Message{}, false
	}
	return Message{
		Title:       parsed.Title,
		Body:        parsed.Body,
		RichActions: parsed.RichActions,
		ChannelHint: parsed.ChannelHint,
	}, true
}

func filterRichActions(actions []RichAction) []RichAction {
	kept := actions[:0]
	for _, a := range actions {
		for _, kind := range allowedRichKinds {
			if a.Kind == kind {
				kept = append(kept, a)
				break
			}
		}
	}
	return kept
}
