package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-bank/meridian-bank/internal/shared"
)

// SessionCookie names the cookie carrying the session id.
const SessionCookie = "meridian_session"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	secure    bool
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, secure bool) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		secure:    secure,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/signup", h.handleSignup)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type signupRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	FullName    string `json:"full_name" validate:"required"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	NationalID  string `json:"national_id" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	UserID    int64     `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeFieldErrors(w, err)
		return
	}

	user, sess, err := h.service.Register(r.Context(), RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		DateOfBirth: req.DateOfBirth,
		NationalID:  req.NationalID,
	})
	if err != nil {
		var vErr *shared.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusUnprocessableEntity, vErr.Error())
			return
		}
		h.logger.Error("signup", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:    user.ID,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeFieldErrors(w, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	sess, err := h.service.EstablishSession(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("establish session", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    user.ID,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := shared.SessionIDFromContext(r.Context())
	if sessionID == "" {
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			sessionID = cookie.Value
		}
	}
	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// RequireSession validates the request's session and rejects with 401 when
// the id is missing, unknown or expired. It stores the user id in context
// for downstream handlers. Validation is read-only; a session invalidated
// elsewhere surfaces here on the stale client's next call.
func RequireSession(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sessionID string
			if cookie, err := r.Cookie(SessionCookie); err == nil {
				sessionID = cookie.Value
			}
			userID, err := service.Validate(r.Context(), sessionID)
			if err != nil {
				if !errors.Is(err, shared.ErrUnauthenticated) {
					logger.Error("validate session", slog.Any("error", err))
				}
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := shared.ContextWithUser(r.Context(), userID)
			ctx = shared.ContextWithSessionID(ctx, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeFieldErrors(w http.ResponseWriter, err error) {
	fields := make(map[string]string)
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		for _, fieldErr := range vErrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": fields})
}
