package auth

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-bank/meridian-bank/internal/shared"
	_ "github.com/meridian-bank/meridian-bank/testing"
)

func newTestRouter(t *testing.T) (chi.Router, *memoryAuthRepo) {
	t.Helper()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)
	logger := slog.New(slog.DiscardHandler)
	handler := NewHandler(logger, svc, false)

	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	r.Group(func(r chi.Router) {
		r.Use(RequireSession(svc, logger))
		r.Get("/whoami", func(w http.ResponseWriter, req *http.Request) {
			userID, _ := shared.UserFromContext(req.Context())
			_ = json.NewEncoder(w).Encode(map[string]int64{"user_id": userID})
		})
	})
	return r, repo
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func sessionCookie(t *testing.T, res *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range res.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func signupPayload() map[string]string {
	return map[string]string{
		"email":         "kai@example.com",
		"password":      "hunter2hunter2",
		"full_name":     "Kai Ueda",
		"date_of_birth": "1988-11-23",
		"national_id":   "987654321",
	}
}

func TestSignupEstablishesSession(t *testing.T) {
	router, repo := newTestRouter(t)

	res := doJSON(t, router, http.MethodPost, "/auth/signup", signupPayload(), nil)
	require.Equal(t, http.StatusCreated, res.Code)

	cookie := sessionCookie(t, res)
	require.NotEmpty(t, cookie.Value)
	require.True(t, cookie.HttpOnly)

	var resp struct {
		UserID    int64  `json:"user_id"`
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &resp))
	require.Equal(t, cookie.Value, resp.SessionID)
	require.Equal(t, 1, repo.sessionCount(resp.UserID))

	whoami := doJSON(t, router, http.MethodGet, "/whoami", nil, cookie)
	require.Equal(t, http.StatusOK, whoami.Code)
}

func TestSignupValidationFailure(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := signupPayload()
	payload["email"] = "not-an-email"
	res := doJSON(t, router, http.MethodPost, "/auth/signup", payload, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
}

func TestSignupUnderageRejected(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := signupPayload()
	payload["date_of_birth"] = time.Now().UTC().AddDate(-17, 0, 0).Format("2006-01-02")
	res := doJSON(t, router, http.MethodPost, "/auth/signup", payload, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Contains(t, res.Body.String(), "date_of_birth")
}

func TestSecondLoginInvalidatesFirstSession(t *testing.T) {
	router, _ := newTestRouter(t)

	signup := doJSON(t, router, http.MethodPost, "/auth/signup", signupPayload(), nil)
	require.Equal(t, http.StatusCreated, signup.Code)
	firstCookie := sessionCookie(t, signup)

	login := map[string]string{"email": "kai@example.com", "password": "hunter2hunter2"}
	loginRes := doJSON(t, router, http.MethodPost, "/auth/login", login, nil)
	require.Equal(t, http.StatusOK, loginRes.Code)
	secondCookie := sessionCookie(t, loginRes)
	require.NotEqual(t, firstCookie.Value, secondCookie.Value)

	// Stale browser discovers the logout lazily on its next protected call.
	stale := doJSON(t, router, http.MethodGet, "/whoami", nil, firstCookie)
	require.Equal(t, http.StatusUnauthorized, stale.Code)

	fresh := doJSON(t, router, http.MethodGet, "/whoami", nil, secondCookie)
	require.Equal(t, http.StatusOK, fresh.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	router, _ := newTestRouter(t)

	signup := doJSON(t, router, http.MethodPost, "/auth/signup", signupPayload(), nil)
	require.Equal(t, http.StatusCreated, signup.Code)

	login := map[string]string{"email": "kai@example.com", "password": "wrong-password"}
	res := doJSON(t, router, http.MethodPost, "/auth/login", login, nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLogoutClearsSession(t *testing.T) {
	router, repo := newTestRouter(t)

	signup := doJSON(t, router, http.MethodPost, "/auth/signup", signupPayload(), nil)
	require.Equal(t, http.StatusCreated, signup.Code)
	cookie := sessionCookie(t, signup)

	var resp struct {
		UserID int64 `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(signup.Body.Bytes(), &resp))

	logout := doJSON(t, router, http.MethodPost, "/auth/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, logout.Code)
	require.Equal(t, 0, repo.sessionCount(resp.UserID))

	rejected := doJSON(t, router, http.MethodGet, "/whoami", nil, cookie)
	require.Equal(t, http.StatusUnauthorized, rejected.Code)
}

func TestProtectedRouteWithoutCookie(t *testing.T) {
	router, _ := newTestRouter(t)

	res := doJSON(t, router, http.MethodGet, "/whoami", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}
