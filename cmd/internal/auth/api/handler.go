package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"huddle/cmd/identity"
	"huddle/cmd/internal/auth/session"
	"huddle/cmd/security/password"
)

const msgInvalidCredentials = "Invalid email or password"

// Handler serves the account endpoints: register, login and me.
type Handler struct {
	log       *slog.Logger
	cfg       Config
	users     identity.Store
	tokens    session.TokenManager
	passwords password.Config
	validate  *requestValidator

	now func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, users identity.Store, tokens session.TokenManager, passwords password.Config, cfg Config) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil {
		return nil, errors.New("authapi: nil identity store")
	}
	if tokens == nil {
		return nil, errors.New("authapi: nil token manager")
	}
	if err := passwords.Check(); err != nil {
		return nil, err
	}

	cfg = cfg.normalized()
	return &Handler{
		log:       log,
		cfg:       cfg,
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		validate:  newRequestValidator(cfg, passwords),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/me", h.handleMe)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if !h.checkRequest(w, h.validate.register(&req)) {
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Server error during registration")
		return
	}

	ctx := r.Context()
	now := h.now()
	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Now:          now,
	})
	if err != nil {
		field, _ := identity.ConflictField(err)
		switch field {
		case "email":
			writeError(w, http.StatusConflict, "email_taken", "Email already registered")
			return
		case "username":
			writeError(w, http.StatusConflict, "username_taken", "Username already taken")
			return
		}
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", msgFieldsRequired)
			return
		}
		h.log.Error("auth.register.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Server error during registration")
		return
	}

	token, _, err := h.tokens.Issue(u.ID, u.Username, now)
	if err != nil {
		h.log.Error("auth.register.issue_token.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "Server error during registration")
		return
	}

	h.log.Info("auth.register.ok", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if !h.checkRequest(w, h.validate.login(&req)) {
		return
	}

	ctx := r.Context()
	ua, err := h.users.GetUserAuthByEmail(ctx, req.Email)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "Server error during login")
			return
		}
		h.passwords.DummyVerify(req.Password)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
		return
	}

	ok, err := h.passwords.Verify(ua.PasswordHash, req.Password)
	if err != nil {
		h.log.Warn("auth.login.verify.fail", "err", err, "user_id", ua.User.ID)
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
		return
	}

	token, _, err := h.tokens.Issue(ua.User.ID, ua.User.Username, h.now())
	if err != nil {
		h.log.Error("auth.login.issue_token.fail", "err", err, "user_id", ua.User.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "Server error during login")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUserResponse(ua.User)})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// checkRequest writes a 400 for a failed validation and reports whether to continue.
func (h *Handler) checkRequest(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	var reqErr requestError
	if errors.As(err, &reqErr) {
		writeError(w, http.StatusBadRequest, "invalid_request", reqErr.msg)
		return false
	}
	h.log.Error("auth.validate.fail", "err", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	return false
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.Claims{}, false
	}
	claims, err := h.tokens.Verify(token, h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.Claims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
