package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/shell/internal/auth"
	"rollcall/shell/internal/config"
	"rollcall/shell/internal/dashboard"
	"rollcall/shell/internal/faceverify"
	"rollcall/shell/internal/identity"
	"rollcall/shell/internal/model"
	"rollcall/shell/internal/session"
)

type Server struct {
	cfg        config.Config
	session    *session.Store
	verifier   *faceverify.Client
	dashboards *dashboard.Provider
}

func NewServer(cfg config.Config, sessionStore *session.Store, verifier *faceverify.Client, dashboards *dashboard.Provider) *Server {
	return &Server{
		cfg:        cfg,
		session:    sessionStore,
		verifier:   verifier,
		dashboards: dashboards,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.Get("/auth/session", s.handleGetSession)

	r.With(s.authMiddleware, s.requireRole(model.RoleStudent)).Get("/dashboard/student", s.handleStudentDashboard)
	r.With(s.authMiddleware, s.requireRole(model.RoleFaculty)).Get("/dashboard/faculty", s.handleFacultyDashboard)
	r.With(s.authMiddleware, s.requireRole(model.RoleFaculty)).Post("/dashboard/faculty/classes/{classID}/qr", s.handleIssueQRCode)
	r.With(s.authMiddleware, s.requireRole(model.RoleFaculty)).Post("/dashboard/faculty/students/{studentID}/mark", s.handleMarkStudent)

	r.With(s.authMiddleware).Post("/face/verify", s.handleFaceVerify)
	r.With(s.authMiddleware).Post("/face/enroll", s.handleFaceEnroll)

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string         `json:"accessToken"`
	User        model.Identity `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	ident, err := s.session.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeAuthResponse(w, ident)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	ident, err := s.session.Register(r.Context(), req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeAuthResponse(w, ident)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleStudentDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboards.StudentStats())
}

func (s *Server) handleFacultyDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboards.FacultyOverview())
}

func (s *Server) handleIssueQRCode(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classID")
	if classID == "" {
		writeError(w, http.StatusBadRequest, "missing_class_id")
		return
	}

	code, err := s.dashboards.IssueQRCode(r.Context(), classID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr_issue_failed")
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

func (s *Server) handleMarkStudent(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	if studentID == "" {
		writeError(w, http.StatusBadRequest, "missing_student_id")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Status != "present" && req.Status != "absent" {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	// Manual marking has no backing attendance store yet; acknowledge
	// the way the original UI does.
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"studentId": studentID,
		"marked":    req.Status,
	})
}

type faceRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleFaceVerify(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req faceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "missing_image")
		return
	}

	result := s.verifier.Verify(r.Context(), req.Image, claims.UserID)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFaceEnroll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req faceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "missing_image")
		return
	}

	_ = s.verifier.Enroll(r.Context(), req.Image, claims.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeAuthResponse(w http.ResponseWriter, ident model.Identity) {
	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: ident.ID,
		Role:   string(ident.Role),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{AccessToken: token, User: ident})
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, identity.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_email")
	case errors.Is(err, identity.ErrEmailAlreadyRegistered):
		writeError(w, http.StatusConflict, "email_already_registered")
	case errors.Is(err, identity.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password")
	case errors.Is(err, session.ErrSessionBusy):
		writeError(w, http.StatusConflict, "session_busy")
	case errors.Is(err, session.ErrInvalidRegistration):
		writeError(w, http.StatusBadRequest, "invalid_registration")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "backend_timeout")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil || claims.Role != string(role) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
