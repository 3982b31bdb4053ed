package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/szhabolcs/something-sub000/internal/ledger"
	"github.com/szhabolcs/something-sub000/internal/notifications"
)

// ── Mocks ──

type mockLedger struct {
	got ledger.Submission
	res *ledger.Result
	err error
}

func (m *mockLedger) Submit(_ context.Context, sub ledger.Submission) (*ledger.Result, error) {
	m.got = sub
	return m.res, m.err
}

type mockScheduler struct {
	scheduled, removed int64
	created            int
	err                error
	rebuild            notifications.RebuildResult
	pending            int
}

func (m *mockScheduler) ScheduleThing(_ context.Context, thingID int64) (int, error) {
	m.scheduled = thingID
	return m.created, m.err
}

func (m *mockScheduler) RemoveThing(_ context.Context, thingID int64) (int, error) {
	m.removed = thingID
	return 3, m.err
}

func (m *mockScheduler) Rebuild(_ context.Context) (notifications.RebuildResult, error) {
	return m.rebuild, m.err
}

func (m *mockScheduler) Pending() int { return m.pending }

type mockDB struct{ err error }

func (m mockDB) HealthCheck(context.Context) error { return m.err }

// ── Helpers ──

func newTestRouter(l Ledger, s Scheduler, db HealthChecker) http.Handler {
	h := New(l, s, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Get("/health/db", h.HealthCheckDB)
	r.Post("/things/{thingID}/proofs", h.SubmitProof)
	r.Post("/things/{thingID}/notifications", h.ScheduleThing)
	r.Delete("/things/{thingID}/notifications", h.RemoveThing)
	r.Post("/scheduler/rebuild", h.Rebuild)
	r.Get("/scheduler/status", h.SchedulerStatus)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Code
}

// ── Proofs ──

func TestSubmitProofSuccess(t *testing.T) {
	l := &mockLedger{res: &ledger.Result{
		ProofID: 9,
		Points: []ledger.PointEntry{
			{Reason: ledger.ReasonOnSchedule, Points: 20},
			{Reason: ledger.ReasonStreakKept, Points: 5},
		},
		Streak: ledger.Streak{Value: 4},
		Level:  ledger.Level{Score: 125},
	}}
	router := newTestRouter(l, &mockScheduler{}, mockDB{})

	rec := do(t, router, http.MethodPost, "/things/7/proofs", `{"filename":"proof.jpg"}`,
		map[string]string{UserIDHeader: "3"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if l.got != (ledger.Submission{UserID: 3, ThingID: 7, Filename: "proof.jpg"}) {
		t.Errorf("submission = %+v", l.got)
	}

	var body struct {
		ProofID int64 `json:"proof_id"`
		Total   int   `json:"total"`
		Streak  struct {
			Value int `json:"value"`
		} `json:"streak"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.ProofID != 9 || body.Total != 25 || body.Streak.Value != 4 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestSubmitProofErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		userID   string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"missing user", "/things/7/proofs", "", `{"filename":"a.jpg"}`, nil, http.StatusUnauthorized, "MISSING_USER"},
		{"bad user", "/things/7/proofs", "abc", `{"filename":"a.jpg"}`, nil, http.StatusUnauthorized, "INVALID_USER"},
		{"bad thing", "/things/x/proofs", "3", `{"filename":"a.jpg"}`, nil, http.StatusBadRequest, "INVALID_THING_ID"},
		{"bad body", "/things/7/proofs", "3", `{`, nil, http.StatusBadRequest, "INVALID_BODY"},
		{"missing filename", "/things/7/proofs", "3", `{"filename":"  "}`, nil, http.StatusBadRequest, "MISSING_FILENAME"},
		{"forbidden", "/things/7/proofs", "3", `{"filename":"a.jpg"}`, ledger.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"no schedule", "/things/7/proofs", "3", `{"filename":"a.jpg"}`, ledger.ErrScheduleNotFound, http.StatusNotFound, "SCHEDULE_NOT_FOUND"},
		{"db failure", "/things/7/proofs", "3", `{"filename":"a.jpg"}`, errors.New("conn reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockLedger{err: tt.err}, &mockScheduler{}, mockDB{})
			headers := map[string]string{}
			if tt.userID != "" {
				headers[UserIDHeader] = tt.userID
			}
			rec := do(t, router, http.MethodPost, tt.path, tt.body, headers)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if code := errorCode(t, rec); code != tt.wantErr {
				t.Errorf("code = %s, want %s", code, tt.wantErr)
			}
		})
	}
}

// ── Scheduler ──

func TestScheduleAndRemoveThing(t *testing.T) {
	s := &mockScheduler{created: 2}
	router := newTestRouter(&mockLedger{}, s, mockDB{})

	rec := do(t, router, http.MethodPost, "/things/11/notifications", "", nil)
	if rec.Code != http.StatusOK || s.scheduled != 11 {
		t.Fatalf("schedule: status=%d thing=%d", rec.Code, s.scheduled)
	}
	if !strings.Contains(rec.Body.String(), `"created":2`) {
		t.Errorf("schedule body = %s", rec.Body.String())
	}

	rec = do(t, router, http.MethodDelete, "/things/11/notifications", "", nil)
	if rec.Code != http.StatusOK || s.removed != 11 {
		t.Fatalf("remove: status=%d thing=%d", rec.Code, s.removed)
	}
	if !strings.Contains(rec.Body.String(), `"removed":3`) {
		t.Errorf("remove body = %s", rec.Body.String())
	}
}

func TestScheduleThingWithoutSchedule(t *testing.T) {
	s := &mockScheduler{err: notifications.ErrScheduleNotFound}
	router := newTestRouter(&mockLedger{}, s, mockDB{})

	rec := do(t, router, http.MethodPost, "/things/11/notifications", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "SCHEDULE_NOT_FOUND" {
		t.Errorf("code = %s", code)
	}
}

func TestRebuildAndStatus(t *testing.T) {
	s := &mockScheduler{
		rebuild: notifications.RebuildResult{Schedules: 3, Created: 5, Existing: 1},
		pending: 6,
	}
	router := newTestRouter(&mockLedger{}, s, mockDB{})

	rec := do(t, router, http.MethodPost, "/scheduler/rebuild", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["created"] != float64(5) || body["schedules"] != float64(3) {
		t.Errorf("rebuild body = %v", body)
	}

	rec = do(t, router, http.MethodGet, "/scheduler/status", "", nil)
	if !strings.Contains(rec.Body.String(), `"pending":6`) {
		t.Errorf("status body = %s", rec.Body.String())
	}

	s.err = errors.New("db down")
	rec = do(t, router, http.MethodPost, "/scheduler/rebuild", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failed rebuild status = %d", rec.Code)
	}
}

// ── Health ──

func TestHealthCheckDB(t *testing.T) {
	rec := do(t, newTestRouter(&mockLedger{}, &mockScheduler{}, mockDB{}), http.MethodGet, "/health/db", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	rec = do(t, newTestRouter(&mockLedger{}, &mockScheduler{}, mockDB{err: errors.New("down")}), http.MethodGet, "/health/db", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}
}
