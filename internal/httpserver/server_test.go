package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/achievements"
	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/bus"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/config"
	"github.com/fdg312/coach-hub/internal/embedding"
	"github.com/fdg312/coach-hub/internal/intake"
	"github.com/fdg312/coach-hub/internal/ledger"
	"github.com/fdg312/coach-hub/internal/memory"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/reminders"
	"github.com/fdg312/coach-hub/internal/storage"
	memstorage "github.com/fdg312/coach-hub/internal/storage/memory"
	"github.com/fdg312/coach-hub/internal/userctx"
	"github.com/fdg312/coach-hub/internal/vecstore"
)

func newTestServer(t *testing.T) (*Server, *memstorage.MemoryStorage) {
	t.Helper()
	store := memstorage.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC))
	llm := &ai.MockProvider{Err: context.DeadlineExceeded}
	sink := metrics.NullSink{}

	mem := memory.NewManager(memory.NewShortTerm(), vecstore.NewMemStore(), embedding.NewMockEngine(16), llm, store, nil, clk, sink, memory.Options{})
	ledgerSvc := ledger.NewService(store, store, clk, sink)
	events := bus.New()
	evaluator := achievements.NewEvaluator(store, store, store, ledgerSvc, events, clk, sink)
	intakeSvc := intake.NewService(store, store, store, store, mem, evaluator, ledgerSvc, events, nil, clk, sink)
	remindersSvc := reminders.NewService(store, clk)

	cfg := &config.Config{Env: "local", Port: 8080, AuthMode: "none", JWTSecret: "change_me", JWTIssuer: "coach-hub"}
	srv := New(cfg, intakeSvc, remindersSvc, ledgerSvc, store, func() {})

	err := store.UpsertProfile(context.Background(), &storage.UserProfile{
		UserID:               "7",
		MotivationType:       "data_driven",
		DecisionMode:         "balanced",
		NotificationsEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return srv, store
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRecordCreatedUnlocksFirstStep(t *testing.T) {
	srv, store := newTestServer(t)

	w := postJSON(t, srv.Handler(), "/v1/records", map[string]any{
		"user_id": "7",
		"kind":    "weight",
		"value":   70.5,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Unlocked []string `json:"unlocked_achievements"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Unlocked) != 1 || resp.Unlocked[0] != "first_step" {
		t.Errorf("unlocked = %v, want [first_step]", resp.Unlocked)
	}

	balance, _ := store.Balance(context.Background(), "7")
	if balance != 20 {
		t.Errorf("balance = %d, want 20 (record_weight + first_record)", balance)
	}
}

func TestRecordCreatedValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postJSON(t, srv.Handler(), "/v1/records", map[string]any{
		"user_id": "7", "kind": "blood_type", "value": 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: status = %d, want 400", w.Code)
	}

	w = postJSON(t, srv.Handler(), "/v1/records", map[string]any{
		"user_id": "missing", "kind": "weight", "value": 70,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", w.Code)
	}
}

func TestDailyCheckinAwardsOnce(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postJSON(t, srv.Handler(), "/v1/checkins/daily", map[string]any{"user_id": "7"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var first struct {
		Status       string `json:"status"`
		BalanceAfter int    `json:"balance_after"`
	}
	json.NewDecoder(w.Body).Decode(&first)
	if first.Status != "awarded" || first.BalanceAfter != 5 {
		t.Errorf("first checkin = %+v", first)
	}

	w = postJSON(t, srv.Handler(), "/v1/checkins/daily", map[string]any{"user_id": "7"})
	var second struct {
		Status string `json:"status"`
	}
	json.NewDecoder(w.Body).Decode(&second)
	if second.Status != "already_awarded_today" {
		t.Errorf("second checkin status = %s, want already_awarded_today", second.Status)
	}
}

func TestReminderLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	raw, _ := json.Marshal(map[string]any{
		"user_id": "7", "type": "exercise_reminder", "enabled": true,
		"time_minutes": 19 * 60, "days_mask": 127,
	})
	req := httptest.NewRequest("PUT", "/v1/reminders", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/v1/reminders?user_id=7", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var list struct {
		Reminders []storage.ReminderSetting `json:"reminders"`
	}
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Reminders) != 1 || list.Reminders[0].Type != "exercise_reminder" {
		t.Fatalf("list = %+v", list.Reminders)
	}

	req = httptest.NewRequest("DELETE", "/v1/reminders/exercise_reminder?user_id=7", nil)
	req.SetPathValue("type", "exercise_reminder")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
}

func TestPreferencesPatchUpdatesDecisionMode(t *testing.T) {
	srv, store := newTestServer(t)

	w := postJSONPatch(t, srv.Handler(), "/v1/preferences", map[string]any{
		"user_id": "7",
		"patch":   map[string]any{"decision_mode": "intelligent"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	p, _, _ := store.GetProfile(context.Background(), "7")
	if p.DecisionMode != "intelligent" {
		t.Errorf("decision mode = %s, want intelligent", p.DecisionMode)
	}
}

// Cross-user boundary: an authenticated subject must not act on another
// user's data, whatever user_id the request carries.
func TestAuthenticatedUserCannotActOnAnotherUser(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.Handler()

	if err := store.UpsertProfile(context.Background(), &storage.UserProfile{
		UserID:               "victim",
		MotivationType:       "data_driven",
		DecisionMode:         "balanced",
		NotificationsEnabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	asUser := func(req *http.Request, userID string) *http.Request {
		return req.WithContext(userctx.WithUserID(req.Context(), userID))
	}

	// Write paths.
	raw, _ := json.Marshal(map[string]any{"user_id": "victim", "kind": "weight", "value": 70.5})
	req := asUser(httptest.NewRequest("POST", "/v1/records", bytes.NewReader(raw)), "attacker")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("record write as another user: status = %d, want 404", w.Code)
	}

	raw, _ = json.Marshal(map[string]any{
		"user_id": "victim",
		"patch":   map[string]any{"notifications_enabled": false},
	})
	req = asUser(httptest.NewRequest("PATCH", "/v1/preferences", bytes.NewReader(raw)), "attacker")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("preferences patch as another user: status = %d, want 404", w.Code)
	}

	// Read path.
	req = asUser(httptest.NewRequest("GET", "/v1/points/history?user_id=victim", nil), "attacker")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("points history of another user: status = %d, want 404", w.Code)
	}

	// Delete path.
	req = asUser(httptest.NewRequest("DELETE", "/v1/reminders/water_reminder?user_id=victim", nil), "attacker")
	req.SetPathValue("type", "water_reminder")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("reminder delete of another user: status = %d, want 404", w.Code)
	}

	// The owner themselves passes the gate.
	raw, _ = json.Marshal(map[string]any{"user_id": "victim", "kind": "weight", "value": 70.5})
	req = asUser(httptest.NewRequest("POST", "/v1/records", bytes.NewReader(raw)), "victim")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("record write as self: status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
}

func postJSONPatch(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("PATCH", path, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
