package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"adherence/internal/auth"
	"adherence/internal/config"
	"adherence/internal/db"
	"adherence/internal/service"
	"adherence/internal/store"
	"adherence/internal/verify"
)

const adminToken = "test-admin-token"

func testConfig() config.Config {
	return config.Config{
		SweepInterval:          5 * time.Minute,
		ReminderLead:           10 * time.Minute,
		LateAfter:              30 * time.Minute,
		MissedAfter:            2 * time.Hour,
		ReviewSLA:              22 * time.Hour,
		ReshootWindow:          22 * time.Hour,
		AppealWindow:           24 * time.Hour,
		StrikeThreshold:        3,
		DefaultCycleLength:     21,
		ExtendedCycleDays:      42,
		ConfidenceThreshold:    0.85,
		AdminToken:             adminToken,
		SubmitRatePerMinute:    100,
		SubmitRateBurstPerHour: 100,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *service.Service, *store.Store) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), 2, 1, time.Minute)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(sqdb)
	cfg := testConfig()
	svc := service.New(cfg, st, nil, verify.StaticVerifier{Confidence: 0.99})
	srv := httptest.NewServer(NewRouter(cfg, svc))
	t.Cleanup(srv.Close)
	return srv, svc, st
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// createManager provisions a manager through the admin surface and returns
// its raw bearer token.
func createManager(t *testing.T, base string) string {
	t.Helper()
	resp, body := doJSON(t, "POST", base+"/api/v1/admin/managers", adminToken, map[string]string{
		"name": "reviewer", "contact": "reviewer@example.com",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create manager: status %d body %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("create manager: no token in response")
	}
	return token
}

func createUser(t *testing.T, base, mgrToken string) string {
	t.Helper()
	resp, body := doJSON(t, "POST", base+"/api/v1/users", mgrToken, map[string]string{
		"name": "alice", "contact": "alice@example.com",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create user: status %d body %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Errorf("GET %s: status %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestAdminAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, _ := doJSON(t, "POST", srv.URL+"/api/v1/admin/managers", "", map[string]string{"name": "x"})
	if resp.StatusCode != 403 {
		t.Fatalf("no token: status %d, want 403", resp.StatusCode)
	}
	resp, _ = doJSON(t, "POST", srv.URL+"/api/v1/admin/managers", "wrong", map[string]string{"name": "x"})
	if resp.StatusCode != 403 {
		t.Fatalf("wrong token: status %d, want 403", resp.StatusCode)
	}
}

func TestManagerAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, _ := doJSON(t, "POST", srv.URL+"/api/v1/users", "", map[string]string{
		"name": "alice", "contact": "a@example.com",
	})
	if resp.StatusCode != 401 {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, "POST", srv.URL+"/api/v1/users", "not-a-real-token", map[string]string{
		"name": "alice", "contact": "a@example.com",
	})
	if resp.StatusCode != 401 {
		t.Fatalf("bad token: status %d, want 401", resp.StatusCode)
	}
}

func TestCourseLifecycleOverHTTP(t *testing.T) {
	srv, svc, st := newTestServer(t)
	mgrToken := createManager(t, srv.URL)
	userID := createUser(t, srv.URL, mgrToken)

	resp, body := doJSON(t, "POST", srv.URL+"/api/v1/courses", mgrToken, map[string]any{
		"user_id": userID,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create course: status %d body %v", resp.StatusCode, body)
	}
	invite, _ := body["invite_code"].(string)
	if invite == "" {
		t.Fatal("create course: no invite code")
	}
	course := body["course"].(map[string]any)
	courseID := course["id"].(string)
	if course["status"] != "setup" {
		t.Fatalf("new course status = %v, want setup", course["status"])
	}

	// A second open course for the same user is rejected.
	resp, body = doJSON(t, "POST", srv.URL+"/api/v1/courses", mgrToken, map[string]any{
		"user_id": userID,
	})
	if resp.StatusCode != 409 {
		t.Fatalf("duplicate open course: status %d body %v", resp.StatusCode, body)
	}

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return start.Add(-12 * time.Hour) })
	st.SetClock(func() time.Time { return start.Add(-12 * time.Hour) })
	resp, body = doJSON(t, "POST", srv.URL+"/api/v1/courses/activate", "", map[string]any{
		"invite_code":   invite,
		"intake_minute": 9 * 60,
		"start_date":    "2026-03-01",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("activate: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "active" {
		t.Fatalf("activated status = %v, want active", body["status"])
	}

	// Submit day 1 a few minutes after the scheduled time.
	now := start.Add(9*time.Hour + 5*time.Minute)
	svc.SetClock(func() time.Time { return now })
	st.SetClock(func() time.Time { return now })
	resp, body = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/courses/%s/intake", srv.URL, courseID), "", map[string]any{
		"media_url": "https://cdn.example.com/v/1.mp4",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("submit intake: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "taken" {
		t.Fatalf("intake status = %v, want taken", body["status"])
	}

	// Same-day duplicate conflicts.
	resp, body = doJSON(t, "POST", fmt.Sprintf("%s/api/v1/courses/%s/intake", srv.URL, courseID), "", map[string]any{
		"media_url": "https://cdn.example.com/v/1b.mp4",
	})
	if resp.StatusCode != 409 {
		t.Fatalf("duplicate intake: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, "GET", fmt.Sprintf("%s/api/v1/courses/%s", srv.URL, courseID), mgrToken, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("get course: status %d body %v", resp.StatusCode, body)
	}
	if got := body["course"].(map[string]any)["current_day"]; got != float64(1) {
		t.Fatalf("current_day = %v, want 1", got)
	}
	if logs := body["logs"].([]any); len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
}

func TestSubmitOutsideWindow(t *testing.T) {
	srv, svc, st := newTestServer(t)
	mgrToken := createManager(t, srv.URL)
	userID := createUser(t, srv.URL, mgrToken)

	_, body := doJSON(t, "POST", srv.URL+"/api/v1/courses", mgrToken, map[string]any{"user_id": userID})
	invite := body["invite_code"].(string)
	courseID := body["course"].(map[string]any)["id"].(string)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return start })
	st.SetClock(func() time.Time { return start })
	doJSON(t, "POST", srv.URL+"/api/v1/courses/activate", "", map[string]any{
		"invite_code": invite, "intake_minute": 9 * 60, "start_date": "2026-03-01",
	})

	// An hour before the reminder window opens.
	early := start.Add(8 * time.Hour)
	svc.SetClock(func() time.Time { return early })
	st.SetClock(func() time.Time { return early })
	resp, body := doJSON(t, "POST", fmt.Sprintf("%s/api/v1/courses/%s/intake", srv.URL, courseID), "", map[string]any{
		"media_url": "https://cdn.example.com/v/early.mp4",
	})
	if resp.StatusCode != 422 {
		t.Fatalf("early submit: status %d body %v", resp.StatusCode, body)
	}
	if body["code"] != "too_early" {
		t.Fatalf("early submit code = %v", body["code"])
	}
}

func TestValidationErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, body := doJSON(t, "POST", srv.URL+"/api/v1/courses/activate", "", map[string]any{
		"invite_code":   "abcdef1234",
		"intake_minute": 2000,
		"start_date":    "2026-03-01",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("out-of-range minute: status %d body %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, "POST", srv.URL+"/api/v1/courses/activate", "", map[string]any{
		"invite_code": "abcdef1234", "start_date": "not-a-date",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("bad date: status %d", resp.StatusCode)
	}
}

func TestUnknownCourseIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mgrToken := createManager(t, srv.URL)
	resp, body := doJSON(t, "GET", srv.URL+"/api/v1/courses/no-such-id", mgrToken, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("status %d body %v, want 404", resp.StatusCode, body)
	}
}

func TestManagerTokenVerifies(t *testing.T) {
	// The stored hash must round-trip through the argon2id verifier.
	hash, err := auth.HashToken("sample")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !auth.VerifyToken(hash, "sample") {
		t.Fatal("token does not verify against its own hash")
	}
	if auth.VerifyToken(hash, "other") {
		t.Fatal("wrong token verified")
	}
}
