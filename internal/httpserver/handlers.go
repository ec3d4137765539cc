package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fdg312/coach-hub/internal/intake"
	"github.com/fdg312/coach-hub/internal/ledger"
	"github.com/fdg312/coach-hub/internal/userctx"
)

// ensureOwnUser enforces per-request ownership: an authenticated subject
// may only act on its own user id. Requests without an authenticated
// subject pass through (AUTH_MODE=none / optional auth without token).
// Mismatches answer not_found so user ids are not probeable.
func (s *Server) ensureOwnUser(w http.ResponseWriter, r *http.Request, userID string) bool {
	uid, ok := userctx.GetUserID(r.Context())
	if ok && strings.TrimSpace(uid) != "" && uid != userID {
		writeErrorJSON(w, http.StatusNotFound, "not_found", "user not found")
		return false
	}
	return true
}

// RecordRequest — входящая запись показателя здоровья.
type RecordRequest struct {
	UserID      string          `json:"user_id"`
	Kind        string          `json:"kind"`
	Value       float64         `json:"value"`
	DurationMin *int            `json:"duration_min,omitempty"`
	Note        string          `json:"note,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	RecordedAt  *time.Time      `json:"recorded_at,omitempty"`
}

func (s *Server) handleRecordCreated(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id and kind are required")
		return
	}
	if !s.ensureOwnUser(w, r, req.UserID) {
		return
	}

	at := time.Time{}
	if req.RecordedAt != nil {
		at = *req.RecordedAt
	}

	rec, unlocks, err := s.intake.RecordCreated(r.Context(), req.UserID, req.Kind, req.Value, req.DurationMin, req.Note, req.Metadata, at)
	if err != nil {
		writeIntakeError(w, err)
		return
	}

	unlockIDs := make([]string, 0, len(unlocks))
	for _, u := range unlocks {
		unlockIDs = append(unlockIDs, u.AchievementID)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"record_id":             rec.ID,
		"unlocked_achievements": unlockIDs,
	})
}

func (s *Server) handleDialogueMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string     `json:"user_id"`
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id, role and content are required")
		return
	}
	if !s.ensureOwnUser(w, r, req.UserID) {
		return
	}

	at := time.Time{}
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	if err := s.intake.DialogueMessage(r.Context(), req.UserID, req.Role, req.Content, at); err != nil {
		writeIntakeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleDailyCheckin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if !s.ensureOwnUser(w, r, req.UserID) {
		return
	}

	result, unlocks, err := s.intake.OnDailyCheckin(r.Context(), req.UserID)
	if err != nil {
		writeIntakeError(w, err)
		return
	}

	unlockIDs := make([]string, 0, len(unlocks))
	for _, u := range unlocks {
		unlockIDs = append(unlockIDs, u.AchievementID)
	}
	resp := map[string]any{
		"points_earned":         result.PointsEarned,
		"balance_after":         result.BalanceAfter,
		"unlocked_achievements": unlockIDs,
	}
	if result.AlreadyAwardedToday {
		resp["status"] = "already_awarded_today"
	} else {
		resp["status"] = "awarded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Kind   string `json:"kind"`
		Type   string `json:"notification_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id and kind are required")
		return
	}
	if !s.ensureOwnUser(w, r, req.UserID) {
		return
	}
	if err := s.intake.NotificationInteraction(r.Context(), req.UserID, req.Kind, req.Type); err != nil {
		writeIntakeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handlePreferencesChanged(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string                  `json:"user_id"`
		Patch  intake.PreferencesPatch `json:"patch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if !s.ensureOwnUser(w, r, req.UserID) {
		return
	}
	if err := s.intake.PreferencesChanged(r.Context(), req.UserID, req.Patch); err != nil {
		writeIntakeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if !s.ensureOwnUser(w, r, userID) {
		return
	}
	list, err := s.remindersSvc.List(r.Context(), userID)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": list})
}

func (s *Server) handleUpsertReminder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string          `json:"user_id"`
		Type        string          `json:"type"`
		Enabled     bool            `json:"enabled"`
		TimeMinutes int             `json:"time_minutes"`
		DaysMask    int             `json:"days_mask"`
		Metadata    json.RawMessage `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Type == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id and type are required")
		return
	}
	if !s.ensureOwnUser(w, r, req.UserID) {
		return
	}

	setting, err := s.remindersSvc.Upsert(r.Context(), req.UserID, req.Type, req.Enabled, req.TimeMinutes, req.DaysMask, req.Metadata)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	reminderType := r.PathValue("type")
	if userID == "" || reminderType == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id and type are required")
		return
	}
	if !s.ensureOwnUser(w, r, userID) {
		return
	}
	if err := s.remindersSvc.Delete(r.Context(), userID, reminderType); err != nil {
		writeErrorJSON(w, http.StatusNotFound, "not_found", "reminder not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if !s.ensureOwnUser(w, r, userID) {
		return
	}

	entries, total, err := s.ledgerSvc.History(r.Context(), userID, 50, 0)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) handleAdminShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting_down"})
	if s.shutdown != nil {
		go s.shutdown()
	}
}

func (s *Server) handleAdminResetRateLimits(w http.ResponseWriter, r *http.Request) {
	if s.limiters != nil {
		s.limiters.reset()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeIntakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrUnknownUser):
		writeErrorJSON(w, http.StatusNotFound, "unknown_user", "user not found")
	case errors.Is(err, intake.ErrInvalidRecord):
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeErrorJSON(w, http.StatusConflict, "insufficient_funds", "balance too low")
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeErrorJSON(w, http.StatusBadRequest, "invalid_amount", "amount must be positive")
	default:
		writeErrorJSON(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
