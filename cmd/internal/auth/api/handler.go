package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"communicator/cmd/identity"
	"communicator/cmd/internal/httpx"
	v1 "communicator/shared/contracts/messaging/v1"
)

// loginFailedMessage is deliberately identical for unknown emails and wrong passwords.
const loginFailedMessage = "Invalid email or password. Not registered yet? Register to start using."

// Handler wires the user HTTP endpoints to the identity directory.
type Handler struct {
	log *slog.Logger
	cfg Config
	dir identity.Directory

	failures *failureLog
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs a user API Handler.
func NewHandler(log *slog.Logger, dir identity.Directory, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir == nil {
		return nil, errors.New("authapi: nil directory")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		dir:      dir,
		failures: newFailureLog(cfg.failureRetention()),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	return h, nil
}

// Register wires user routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST "+v1.PathRegister, h.handleRegister)
	mux.HandleFunc("POST "+v1.PathLogin, h.handleLogin)
	mux.HandleFunc("POST "+v1.PathLogout, h.handleLogout)
	mux.HandleFunc("GET "+v1.PathUsers, h.handleList)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req v1.RegisterRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, v1.CodeInvalidJSON, "invalid request body")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	u, err := h.dir.CreateUser(ctx, identity.CreateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Now:      h.now(),
	})
	if err != nil {
		switch {
		case identity.IsInvalidInput(err):
			h.auditRegisterRejected(ctx, ip, ua, "invalid_input")
			httpx.WriteError(w, http.StatusBadRequest, v1.CodeInvalidRequest, identity.Message(err))
		case identity.IsConflict(err):
			field := identity.ConflictField(err)
			h.auditRegisterRejected(ctx, ip, ua, "conflict_"+field)
			httpx.WriteError(w, http.StatusConflict, v1.CodeConflict, conflictMessage(field))
		default:
			h.log.Error("auth.register.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, v1.CodeInternal, "internal error")
		}
		return
	}

	h.auditRegistered(ctx, u.ID, ip, ua)
	httpx.WriteJSON(w, http.StatusOK, toAuthResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req v1.LoginRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, v1.CodeInvalidJSON, "invalid request body")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeEmail(req.Email)

	// Throttling runs before the directory lookup to keep password hashing off the hot path.
	if blocked, retryAfter := h.checkLoginIPThrottle(ip, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		httpx.WriteRateLimited(w, retryAfter, "too many attempts")
		return
	}
	if blocked, retryAfter := h.checkLoginEmailThrottle(identifier, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, identifier, retryAfter)
		httpx.WriteRateLimited(w, retryAfter, "too many attempts")
		return
	}

	if identifier == "" || req.Password == "" {
		h.auditLoginFailed(ctx, "", ip, ua, identifier, "missing_fields")
		httpx.WriteError(w, http.StatusUnauthorized, v1.CodeInvalidCredentials, loginFailedMessage)
		return
	}

	u, err := h.dir.Authenticate(ctx, identifier, req.Password)
	if err != nil {
		if identity.IsUnauthorized(err) {
			h.failures.record(ipKey(ip), now)
			h.failures.record(emailKey(identifier), now)
			h.auditLoginFailed(ctx, "", ip, ua, identifier, "invalid_credentials")
			httpx.WriteError(w, http.StatusUnauthorized, v1.CodeInvalidCredentials, loginFailedMessage)
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, v1.CodeInternal, "internal error")
		return
	}

	h.failures.reset(emailKey(identifier))
	h.auditLoginSuccess(ctx, u.ID, ip, ua, identifier)
	httpx.WriteJSON(w, http.StatusOK, toAuthResponse(u))
}

// handleLogout is stateless: the server holds no session to revoke.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.auditLogout(r.Context(), clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.dir.ListUsers(r.Context())
	if err != nil {
		h.log.Error("auth.users.list.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, v1.CodeInternal, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserDTOs(users))
}

func conflictMessage(field string) string {
	switch field {
	case "email":
		return "Email already registered"
	case "username":
		return "Username already taken"
	default:
		return "Username or email already exists"
	}
}
