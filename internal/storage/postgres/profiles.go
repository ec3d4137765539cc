package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresProfilesStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresProfilesStorage(pool *pgxpool.Pool) *PostgresProfilesStorage {
	return &PostgresProfilesStorage{pool: pool}
}

func (s *PostgresProfilesStorage) GetProfile(ctx context.Context, userID string) (*storage.UserProfile, bool, error) {
	query := `
		SELECT user_id, external_auth_id, age, sex, height_cm, bmr, preferences,
		       motivation_type, communication_style, decision_mode,
		       points, points_earned, points_spent, achievements, time_zone,
		       notifications_enabled, disabled_types, quiet_start_minutes, quiet_end_minutes,
		       goal_weight_kg, calorie_target, deactivated, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`

	var p storage.UserProfile
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.ExternalAuthID,
		&p.Age,
		&p.Sex,
		&p.HeightCm,
		&p.BasalMetabolicRate,
		&p.Preferences,
		&p.MotivationType,
		&p.CommunicationStyle,
		&p.DecisionMode,
		&p.Points,
		&p.PointsEarned,
		&p.PointsSpent,
		&p.Achievements,
		&p.TimeZone,
		&p.NotificationsEnabled,
		&p.DisabledTypes,
		&p.QuietStartMinutes,
		&p.QuietEndMinutes,
		&p.GoalWeightKg,
		&p.CalorieTarget,
		&p.Deactivated,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (s *PostgresProfilesStorage) UpsertProfile(ctx context.Context, p *storage.UserProfile) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO user_profiles (
			user_id, external_auth_id, age, sex, height_cm, bmr, preferences,
			motivation_type, communication_style, decision_mode,
			points, points_earned, points_spent, achievements, time_zone,
			notifications_enabled, disabled_types, quiet_start_minutes, quiet_end_minutes,
			goal_weight_kg, calorie_target, deactivated, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (user_id)
		DO UPDATE SET
			external_auth_id = EXCLUDED.external_auth_id,
			age = EXCLUDED.age,
			sex = EXCLUDED.sex,
			height_cm = EXCLUDED.height_cm,
			bmr = EXCLUDED.bmr,
			preferences = EXCLUDED.preferences,
			motivation_type = EXCLUDED.motivation_type,
			communication_style = EXCLUDED.communication_style,
			decision_mode = EXCLUDED.decision_mode,
			time_zone = EXCLUDED.time_zone,
			notifications_enabled = EXCLUDED.notifications_enabled,
			disabled_types = EXCLUDED.disabled_types,
			quiet_start_minutes = EXCLUDED.quiet_start_minutes,
			quiet_end_minutes = EXCLUDED.quiet_end_minutes,
			goal_weight_kg = EXCLUDED.goal_weight_kg,
			calorie_target = EXCLUDED.calorie_target,
			deactivated = EXCLUDED.deactivated,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		p.UserID,
		p.ExternalAuthID,
		p.Age,
		p.Sex,
		p.HeightCm,
		p.BasalMetabolicRate,
		p.Preferences,
		p.MotivationType,
		p.CommunicationStyle,
		p.DecisionMode,
		p.Points,
		p.PointsEarned,
		p.PointsSpent,
		p.Achievements,
		p.TimeZone,
		p.NotificationsEnabled,
		p.DisabledTypes,
		p.QuietStartMinutes,
		p.QuietEndMinutes,
		p.GoalWeightKg,
		p.CalorieTarget,
		p.Deactivated,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (s *PostgresProfilesStorage) ApplyPointsDelta(ctx context.Context, userID string, earned, spent int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_profiles
		SET points = points + $2 - $3,
		    points_earned = points_earned + $2,
		    points_spent = points_spent + $3,
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, earned, spent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresProfilesStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_profiles WHERE NOT deactivated ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresProfilesStorage) AddAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	// array_append only when absent keeps I5 without a separate table.
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_profiles
		SET achievements = array_append(achievements, $2),
		    updated_at = NOW()
		WHERE user_id = $1 AND NOT ($2 = ANY(achievements))
	`, userID, achievementID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing profile from already-present id.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM user_profiles WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, storage.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}
