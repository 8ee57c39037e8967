package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rollcall/shell/internal/config"
	"rollcall/shell/internal/dashboard"
	"rollcall/shell/internal/faceverify"
	"rollcall/shell/internal/identity"
	"rollcall/shell/internal/model"
	"rollcall/shell/internal/session"
)

func newTestApp(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
	}

	store := session.NewStore(identity.NewSeededFake(), nil, 5*time.Second)
	store.Start(context.Background())
	t.Cleanup(store.Close)

	// Unreachable endpoint with bias 1.0: the fallback path fires and
	// its simulated outcome is deterministic.
	verifier := faceverify.New("http://127.0.0.1:1", 500*time.Millisecond, true, 1.0)
	dashboards := dashboard.NewProvider(nil, time.Minute)

	server := NewServer(cfg, store, verifier, dashboards)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app, store
}

func TestLoginAndStudentDashboard(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    "student1@example.com",
		"password": "correctpass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string         `json:"accessToken"`
		User        model.Identity `json:"user"`
	}
	decodeBody(t, resp, &body)
	if body.AccessToken == "" {
		t.Fatalf("expected an access token")
	}
	if body.User.Role != model.RoleStudent {
		t.Fatalf("expected student role, got %s", body.User.Role)
	}
	if body.User.StudentID == nil || *body.User.StudentID != "CS2024001" {
		t.Fatalf("expected studentId CS2024001")
	}

	resp = doReq(t, http.MethodGet, app.URL+"/dashboard/student", body.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats dashboard.StudentStats
	decodeBody(t, resp, &stats)
	if stats.Overall != 85 {
		t.Fatalf("expected overall 85, got %d", stats.Overall)
	}

	// A student token cannot open the faculty dashboard.
	resp = doReq(t, http.MethodGet, app.URL+"/dashboard/faculty", body.AccessToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	app, store := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    "x@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %s", body.Error)
	}

	snap := store.Snapshot()
	if snap.State != model.StateAnonymous || snap.Loading {
		t.Fatalf("expected session anonymous with loading false")
	}
}

func TestLoginMissingCredentials(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{"email": "x@example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRegisterFacultyAndIssueQRCode(t *testing.T) {
	app, _ := newTestApp(t)

	facultyNo := "FAC042"
	resp := doReq(t, http.MethodPost, app.URL+"/auth/register", "", model.RegistrationRequest{
		Email:     "newfaculty@example.com",
		Password:  "longenough",
		Name:      "New Faculty",
		Role:      model.RoleFaculty,
		FacultyID: &facultyNo,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string         `json:"accessToken"`
		User        model.Identity `json:"user"`
	}
	decodeBody(t, resp, &body)
	if body.User.Role != model.RoleFaculty {
		t.Fatalf("expected faculty role, got %s", body.User.Role)
	}
	if body.User.FacultyID == nil || *body.User.FacultyID != facultyNo {
		t.Fatalf("expected facultyId to round-trip")
	}

	resp = doReq(t, http.MethodGet, app.URL+"/dashboard/faculty", body.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/dashboard/faculty/classes/2/qr", body.AccessToken, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var code dashboard.QRCode
	decodeBody(t, resp, &code)
	if code.Code == "" {
		t.Fatalf("expected a QR code")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.URL+"/auth/register", "", model.RegistrationRequest{
		Email:    "student1@example.com",
		Password: "longenough",
		Name:     "Dup",
		Role:     model.RoleStudent,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestLogoutLandsAnonymous(t *testing.T) {
	app, store := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    "student1@example.com",
		"password": "correctpass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	decodeBody(t, resp, &body)

	resp = doReq(t, http.MethodPost, app.URL+"/auth/logout", body.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if snap := store.Snapshot(); snap.State != model.StateAnonymous {
		t.Fatalf("expected anonymous after logout, got %s", snap.State)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/auth/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap session.Snapshot
	decodeBody(t, resp, &snap)
	if snap.State != model.StateAnonymous || snap.Identity != nil {
		t.Fatalf("expected anonymous session snapshot")
	}
}

func TestFaceVerifyFallsBackSimulated(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    "student1@example.com",
		"password": "correctpass",
	})
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	decodeBody(t, resp, &body)

	resp = doReq(t, http.MethodPost, app.URL+"/face/verify", body.AccessToken, map[string]string{"image": "img-data"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result faceverify.Result
	decodeBody(t, resp, &result)
	if !result.Simulated {
		t.Fatalf("expected simulated result against unreachable endpoint")
	}
	if !result.Verified {
		t.Fatalf("expected simulated success at bias 1.0")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app, _ := newTestApp(t)

	for _, path := range []string{"/dashboard/student", "/dashboard/faculty"} {
		resp := doReq(t, http.MethodGet, app.URL+path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}
	resp := doReq(t, http.MethodPost, app.URL+"/face/verify", "bogus-token", map[string]string{"image": "x"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus token, got %d", resp.StatusCode)
	}
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}
