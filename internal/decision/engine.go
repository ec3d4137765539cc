// Package decision yields a send/defer/drop verdict for every
// notification candidate, blending a deterministic rule layer with an
// optional LLM judgment under the user's decision mode.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/config"
	"github.com/fdg312/coach-hub/internal/detect"
	"github.com/fdg312/coach-hub/internal/engagement"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
)

// Outcomes.
const (
	OutcomeSend  = "send"
	OutcomeDefer = "defer"
	OutcomeDrop  = "drop"
)

// Candidate — кандидат на отправку уведомления.
type Candidate struct {
	UserID           string
	Type             string
	Priority         string
	BypassQuietHours bool
	ScheduledAt      time.Time
	Payload          map[string]any
}

// Factor — вклад одного фактора в итоговый балл.
type Factor struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Verdict — решение по кандидату с полным обоснованием.
type Verdict struct {
	Outcome    string
	Reason     string
	DeferUntil time.Time
	RuleScore  float64
	LLMScore   *float64
	Alpha      float64
	Score      float64
	Factors    []Factor
}

// Engine — C8.
type Engine struct {
	profiles storage.ProfilesStorage
	queue    storage.QueueStorage
	verdicts storage.VerdictsStorage
	tracker  *engagement.Tracker
	detector *detect.Detector
	llm      ai.Provider
	clock    clock.Clock
	sink     metrics.Sink
	cfg      *config.Config
}

func NewEngine(
	profiles storage.ProfilesStorage,
	queue storage.QueueStorage,
	verdicts storage.VerdictsStorage,
	tracker *engagement.Tracker,
	detector *detect.Detector,
	llm ai.Provider,
	clk clock.Clock,
	sink metrics.Sink,
	cfg *config.Config,
) *Engine {
	if sink == nil {
		sink = metrics.NullSink{}
	}
	return &Engine{
		profiles: profiles,
		queue:    queue,
		verdicts: verdicts,
		tracker:  tracker,
		detector: detector,
		llm:      llm,
		clock:    clk,
		sink:     sink,
		cfg:      cfg,
	}
}

// Decide runs the hard gates, the weighted rule score and the mode blend,
// persists the verdict for audit and returns it.
func (e *Engine) Decide(ctx context.Context, c Candidate) (Verdict, error) {
	now := e.clock.Now()

	verdict, err := e.decide(ctx, c, now)
	if err != nil {
		return Verdict{}, err
	}

	if perr := e.persist(ctx, c, verdict); perr != nil {
		// The audit trail must not lose sent decisions (I7); a failed
		// verdict write turns a send into a drop.
		log.Printf("verdict persist failed for user %s: %v", c.UserID, perr)
		if verdict.Outcome == OutcomeSend {
			return Verdict{Outcome: OutcomeDrop, Reason: "verdict_persist_failed"}, nil
		}
	}

	e.sink.Incr("decision."+verdict.Outcome, map[string]string{"type": c.Type})
	if verdict.Outcome == OutcomeDrop && verdict.Reason == "quiet_hours" {
		e.sink.Incr("notification.dropped.quiet_hours", nil)
	}
	return verdict, nil
}

func (e *Engine) decide(ctx context.Context, c Candidate, now time.Time) (Verdict, error) {
	profile, found, err := e.profiles.GetProfile(ctx, c.UserID)
	if err != nil {
		return Verdict{}, fmt.Errorf("get profile: %w", err)
	}

	// ---- hard gates ----
	if !found || profile.Deactivated {
		return Verdict{Outcome: OutcomeDrop, Reason: "user_unavailable"}, nil
	}
	if !profile.NotificationsEnabled {
		return Verdict{Outcome: OutcomeDrop, Reason: "notifications_disabled"}, nil
	}
	if !profile.TypeEnabled(c.Type) {
		return Verdict{Outcome: OutcomeDrop, Reason: "type_disabled"}, nil
	}

	local := e.userLocal(profile, now)
	qs, qe := profile.QuietWindow(e.cfg.QuietStartMinutes, e.cfg.QuietEndMinutes)
	if !c.BypassQuietHours && inQuietHours(minutesOfDay(local), qs, qe) {
		return Verdict{Outcome: OutcomeDrop, Reason: "quiet_hours"}, nil
	}

	stats, err := e.tracker.Stats(ctx, c.UserID)
	if err != nil {
		return Verdict{}, fmt.Errorf("engagement stats: %w", err)
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	sentToday, err := e.queue.CountSentBetween(ctx, c.UserID, dayStart, local)
	if err != nil {
		return Verdict{}, fmt.Errorf("count sent: %w", err)
	}
	cap := e.cfg.DailyCaps.ForLevel(stats.Level)
	if sentToday >= cap {
		return Verdict{Outcome: OutcomeDrop, Reason: "daily_cap_reached"}, nil
	}

	lastSent, hasLast, err := e.queue.LastSentOfType(ctx, c.UserID, c.Type)
	if err != nil {
		return Verdict{}, fmt.Errorf("last sent: %w", err)
	}
	minInterval := time.Duration(e.cfg.MinIntervalSameTypeSeconds) * time.Second
	if hasLast && now.Sub(*lastSent) < minInterval {
		return Verdict{Outcome: OutcomeDrop, Reason: "min_interval_same_type"}, nil
	}

	// Context-event overrides: illness drops non-essential activity
	// nudges, travel reschedules instead of dropping.
	for _, ev := range e.detector.Active(c.UserID) {
		switch ev.Kind {
		case detect.KindIllness:
			if ev.Confidence >= 0.6 && isActivityType(c.Type) {
				return Verdict{Outcome: OutcomeDrop, Reason: "illness_context_active"}, nil
			}
		case detect.KindTravel:
			if ev.Confidence >= 0.6 && isActivityType(c.Type) {
				until := e.nextOptimalAfter(ctx, c, ev.ExpiresAt)
				return Verdict{Outcome: OutcomeDefer, Reason: "travel_context_active", DeferUntil: until}, nil
			}
		}
	}

	// ---- score composition ----
	_, effBucket, _, err := e.tracker.Effectiveness(ctx, c.UserID, c.Type)
	if err != nil {
		return Verdict{}, fmt.Errorf("effectiveness: %w", err)
	}

	optimalHours, err := e.tracker.OptimalSendHours(ctx, c.UserID, c.Type)
	if err != nil {
		optimalHours = nil
	}

	factors := []Factor{
		{Name: "engagement", Weight: 0.30, Value: stats.Score / 100},
		{Name: "effectiveness", Weight: 0.25, Value: bucketValue(effBucket)},
		{Name: "time_fit", Weight: 0.20, Value: timeFit(local.Hour(), optimalHours)},
		{Name: "frequency_headroom", Weight: 0.15, Value: float64(cap-sentToday) / float64(cap)},
		{Name: "profile_fit", Weight: 0.10, Value: profileFit(profile.MotivationType, c.Type)},
	}

	ruleScore := 0.0
	for i := range factors {
		factors[i].Contribution = factors[i].Weight * factors[i].Value
		ruleScore += factors[i].Contribution
	}

	// ---- mode blending ----
	mode := profile.DecisionMode
	alpha := e.cfg.DecisionWeights.Alpha(mode)
	var llmScore *float64
	if mode != "conservative" && e.llm != nil {
		if v, ok := e.llmJudgment(ctx, c, profile, stats, ruleScore); ok {
			llmScore = &v
		}
	}

	score := ruleScore
	if llmScore != nil {
		score = alpha*ruleScore + (1-alpha)**llmScore
	}

	verdict := Verdict{
		RuleScore: ruleScore,
		LLMScore:  llmScore,
		Alpha:     alpha,
		Score:     score,
		Factors:   factors,
	}

	switch {
	case score >= e.cfg.SendThreshold:
		verdict.Outcome = OutcomeSend
		verdict.Reason = fmt.Sprintf("score %.2f >= %.2f", score, e.cfg.SendThreshold)
	case score >= e.cfg.DeferThreshold:
		verdict.Outcome = OutcomeDefer
		verdict.Reason = fmt.Sprintf("score %.2f in defer band", score)
		verdict.DeferUntil = e.nextOptimalAfter(ctx, c, now.Add(10*time.Minute))
	default:
		verdict.Outcome = OutcomeDrop
		verdict.Reason = fmt.Sprintf("score %.2f < %.2f", score, e.cfg.DeferThreshold)
	}
	return verdict, nil
}

// llmJudgment asks the LLM for a 0..1 appropriateness score. Any failure
// silently collapses to rule-only (degraded, never fatal).
func (e *Engine) llmJudgment(ctx context.Context, c Candidate, profile *storage.UserProfile, stats engagement.Stats, ruleScore float64) (float64, bool) {
	timeout := time.Duration(e.cfg.LLMFallbackMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Пользователь: мотивация %s, вовлечённость %.0f/100. Кандидат уведомления: %s. Rule-score %.2f. "+
			"Оцени уместность отправки сейчас числом от 0 до 1. Ответ — только число.",
		profile.MotivationType, stats.Score, c.Type, ruleScore,
	)
	resp, err := e.llm.ChatCompletion(ctx, ai.CompletionRequest{
		Messages:  []ai.Message{{Role: "user", Content: prompt}},
		MaxTokens: 10,
	})
	if err != nil {
		log.Printf("degraded: decision LLM judgment failed: %v", err)
		e.sink.Incr("decision.llm.degraded", nil)
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(resp.Content), 64)
	if err != nil || v < 0 || v > 1 {
		e.sink.Incr("decision.llm.degraded", nil)
		return 0, false
	}
	return v, true
}

func (e *Engine) persist(ctx context.Context, c Candidate, v Verdict) error {
	rationale, err := json.Marshal(struct {
		RuleScore float64  `json:"rule_score"`
		LLMScore  *float64 `json:"llm_score,omitempty"`
		Alpha     float64  `json:"alpha"`
		Score     float64  `json:"score"`
		Factors   []Factor `json:"factors"`
	}{v.RuleScore, v.LLMScore, v.Alpha, v.Score, v.Factors})
	if err != nil {
		return err
	}

	return e.verdicts.InsertVerdict(ctx, &storage.VerdictRecord{
		UserID:      c.UserID,
		Type:        c.Type,
		Verdict:     v.Outcome,
		Reason:      v.Reason,
		Rationale:   rationale,
		ScheduledAt: c.ScheduledAt,
		CreatedAt:   e.clock.Now(),
	})
}

// nextOptimalAfter picks the nearest optimal send hour at or after the
// floor instant.
func (e *Engine) nextOptimalAfter(ctx context.Context, c Candidate, floor time.Time) time.Time {
	hours, err := e.tracker.OptimalSendHours(ctx, c.UserID, c.Type)
	if err != nil || len(hours) == 0 {
		return floor.Add(time.Hour)
	}

	best := time.Time{}
	for _, h := range hours {
		candidate := time.Date(floor.Year(), floor.Month(), floor.Day(), h, 0, 0, 0, floor.Location())
		if candidate.Before(floor) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best
}

func (e *Engine) userLocal(p *storage.UserProfile, now time.Time) time.Time {
	if p.TimeZone == "" {
		return now
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return now
	}
	return now.In(loc)
}

func isActivityType(notifType string) bool {
	return notifType == "exercise_reminder" || notifType == "workout_reminder"
}

func bucketValue(bucket string) float64 {
	switch bucket {
	case engagement.EffHigh:
		return 1.0
	case engagement.EffMedium:
		return 0.6
	case engagement.EffLow:
		return 0.3
	default:
		return 0.0
	}
}

// timeFit is 1.0 inside an optimal hour and decays with circular distance
// to the nearest one.
func timeFit(hour int, optimalHours []int) float64 {
	if len(optimalHours) == 0 {
		return 0.5
	}
	minDist := 24
	for _, h := range optimalHours {
		d := hour - h
		if d < 0 {
			d = -d
		}
		if 24-d < d {
			d = 24 - d
		}
		if d < minDist {
			minDist = d
		}
	}
	fit := 1 - float64(minDist)/6
	if fit < 0 {
		return 0
	}
	return fit
}

// profileFit — статическая таблица (motivation_type × notification type).
func profileFit(motivation, notifType string) float64 {
	switch motivation {
	case "data_driven":
		switch notifType {
		case "weekly_report":
			return 1.0
		case "goal_progress":
			return 0.9
		case "exercise_reminder":
			return 0.7
		default:
			return 0.6
		}
	case "emotional_support":
		switch notifType {
		case "encouragement", "streak_celebration":
			return 1.0
		case "achievement_unlocked":
			return 0.9
		case "weekly_report":
			return 0.5
		default:
			return 0.6
		}
	case "goal_oriented":
		switch notifType {
		case "goal_progress":
			return 1.0
		case "exercise_reminder":
			return 0.8
		case "weekly_report":
			return 0.7
		default:
			return 0.6
		}
	default:
		return 0.6
	}
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// inQuietHours handles windows that wrap past midnight.
func inQuietHours(current, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return current >= start && current < end
	}
	return current >= start || current < end
}
