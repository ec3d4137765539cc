// Package engagement maintains rolling per-user activity statistics and
// per-notification-type effectiveness.
package engagement

import (
	"context"
	"sort"

	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/storage"
)

// Engagement levels.
const (
	LevelHigh     = "high"
	LevelMedium   = "medium"
	LevelLow      = "low"
	LevelInactive = "inactive"
)

// Effectiveness buckets.
const (
	EffHigh     = "high"
	EffMedium   = "medium"
	EffLow      = "low"
	EffNegative = "negative"
)

// Weights — вклад факторов в engagement_score (в сумме 100).
type Weights struct {
	Login       float64
	Record      float64
	Goal        float64
	Interaction float64
}

func DefaultWeights() Weights {
	return Weights{Login: 25, Record: 25, Goal: 25, Interaction: 25}
}

// Stats — рассчитанная вовлечённость пользователя.
type Stats struct {
	Score            float64 // 0..100
	Level            string
	LoginRate        float64
	RecordRate       float64
	GoalProgress     float64
	InteractionRate  float64
	InteractionCount int
}

// Tracker — C7.
type Tracker struct {
	interactions storage.InteractionsStorage
	records      storage.RecordsStorage
	profiles     storage.ProfilesStorage
	clock        clock.Clock
	weights      Weights
}

func NewTracker(interactions storage.InteractionsStorage, records storage.RecordsStorage, profiles storage.ProfilesStorage, clk clock.Clock, weights Weights) *Tracker {
	if weights.Login == 0 && weights.Record == 0 && weights.Goal == 0 && weights.Interaction == 0 {
		weights = DefaultWeights()
	}
	return &Tracker{
		interactions: interactions,
		records:      records,
		profiles:     profiles,
		clock:        clk,
		weights:      weights,
	}
}

// Stats computes the 7-day engagement score and level.
func (t *Tracker) Stats(ctx context.Context, userID string) (Stats, error) {
	now := t.clock.Now()
	weekAgo := now.AddDate(0, 0, -7)

	events, err := t.interactions.ListInteractionsSince(ctx, userID, weekAgo)
	if err != nil {
		return Stats{}, err
	}

	loginDays := map[string]struct{}{}
	recordDays := map[string]struct{}{}
	sent, positive := 0, 0
	for _, e := range events {
		day := e.OccurredAt.Format("2006-01-02")
		switch e.Kind {
		case "login":
			loginDays[day] = struct{}{}
		case "record":
			recordDays[day] = struct{}{}
		case "sent":
			sent++
		case "open", "click":
			positive++
		}
	}

	stats := Stats{
		LoginRate:        float64(len(loginDays)) / 7,
		RecordRate:       float64(len(recordDays)) / 7,
		GoalProgress:     t.goalProgress(ctx, userID),
		InteractionCount: len(events),
	}
	if sent > 0 {
		stats.InteractionRate = clamp01(float64(positive) / float64(sent))
	}

	stats.Score = stats.LoginRate*t.weights.Login +
		stats.RecordRate*t.weights.Record +
		stats.GoalProgress*t.weights.Goal +
		stats.InteractionRate*t.weights.Interaction
	stats.Level = LevelFor(stats.Score)
	return stats, nil
}

// LevelFor buckets a score into an engagement level.
func LevelFor(score float64) string {
	switch {
	case score >= 70:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 15:
		return LevelLow
	default:
		return LevelInactive
	}
}

// Effectiveness computes (opens + 2·clicks − 3·negatives) / sent for a
// notification type over the last 30 days.
func (t *Tracker) Effectiveness(ctx context.Context, userID, notifType string) (score float64, bucket string, samples int, err error) {
	now := t.clock.Now()
	monthAgo := now.AddDate(0, 0, -30)

	events, err := t.interactions.ListInteractionsSince(ctx, userID, monthAgo)
	if err != nil {
		return 0, "", 0, err
	}

	var sent, opens, clicks, negatives int
	for _, e := range events {
		if e.NotificationType != notifType {
			continue
		}
		switch e.Kind {
		case "sent":
			sent++
		case "open":
			opens++
		case "click":
			clicks++
		case "negative":
			negatives++
		}
	}

	if sent == 0 {
		// No history: assume a neutral medium bucket.
		return 0.3, EffMedium, 0, nil
	}

	score = float64(opens+2*clicks-3*negatives) / float64(sent)
	return score, EffBucket(score), sent, nil
}

// EffBucket maps an effectiveness score onto its bucket.
func EffBucket(score float64) string {
	switch {
	case score >= 0.6:
		return EffHigh
	case score >= 0.3:
		return EffMedium
	case score >= 0.1:
		return EffLow
	default:
		return EffNegative
	}
}

// OptimalSendHours returns the top-3 hours by positive-interaction rate,
// falling back to the type default below 10 samples.
func (t *Tracker) OptimalSendHours(ctx context.Context, userID, notifType string) ([]int, error) {
	now := t.clock.Now()
	monthAgo := now.AddDate(0, 0, -30)

	events, err := t.interactions.ListInteractionsSince(ctx, userID, monthAgo)
	if err != nil {
		return defaultHours(notifType), err
	}

	positiveByHour := map[int]int{}
	samples := 0
	for _, e := range events {
		if e.NotificationType != notifType {
			continue
		}
		switch e.Kind {
		case "open", "click":
			positiveByHour[e.OccurredAt.Hour()]++
			samples++
		}
	}
	if samples < 10 {
		return defaultHours(notifType), nil
	}

	type hourCount struct {
		hour  int
		count int
	}
	ranked := make([]hourCount, 0, len(positiveByHour))
	for h, c := range positiveByHour {
		ranked = append(ranked, hourCount{h, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].hour < ranked[j].hour
	})

	hours := make([]int, 0, 3)
	for i := 0; i < len(ranked) && i < 3; i++ {
		hours = append(hours, ranked[i].hour)
	}
	return hours, nil
}

// goalProgress approximates weight-goal progress: at or past the goal is
// full credit, each kg above it sheds 10%.
func (t *Tracker) goalProgress(ctx context.Context, userID string) float64 {
	p, found, err := t.profiles.GetProfile(ctx, userID)
	if err != nil || !found || p.GoalWeightKg == nil {
		return 0.5 // no goal set: neutral
	}
	latest, found, err := t.records.LatestRecord(ctx, userID, storage.RecordWeight)
	if err != nil || !found {
		return 0
	}
	diff := latest.Value - *p.GoalWeightKg
	if diff <= 0 {
		return 1
	}
	return clamp01(1 - diff/10)
}

func defaultHours(notifType string) []int {
	switch notifType {
	case "water_reminder":
		return []int{10, 14, 16}
	case "exercise_reminder":
		return []int{18, 19, 20}
	case "meal_reminder":
		return []int{8, 12, 18}
	case "sleep_reminder":
		return []int{21, 22, 23}
	case "weekly_report":
		return []int{19, 20, 21}
	default:
		return []int{9, 12, 19}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
