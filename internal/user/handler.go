package user

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/aksihijau/service-core/internal/auth"
	"github.com/aksihijau/service-core/internal/httpx"
	"github.com/aksihijau/service-core/internal/user/entity"
)

// EventRecorder counts credential and profile events.
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

type nopEvents struct{}

func (nopEvents) AuthEvent(string, string) {}

// Handler exposes HTTP endpoints for registration, login and profile changes.
type Handler struct {
	svc           *Service
	logger        *zap.SugaredLogger
	events        EventRecorder
	exposeDetails bool
}

func NewHandler(svc *Service, logger *zap.SugaredLogger, events EventRecorder, exposeDetails bool) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if events == nil {
		events = nopEvents{}
	}
	return &Handler{svc: svc, logger: logger, events: events, exposeDetails: exposeDetails}
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string            `json:"message"`
	User    entity.PublicUser `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "register", err, http.StatusBadRequest)
		return
	}
	h.events.AuthEvent("register", "ok")
	httpx.WriteJSON(w, http.StatusCreated, RegisterResponse{Message: "registration successful", User: u})
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message   string            `json:"message"`
	Token     string            `json:"token"`
	ExpiresAt int64             `json:"expires_at"`
	User      entity.PublicUser `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "login", err, http.StatusBadRequest)
		return
	}
	h.events.AuthEvent("login", "ok")
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{
		Message:   "login successful",
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.Unix(),
		User:      res.User,
	})
}

type MeResponse struct {
	User   entity.PublicUser `json:"user"`
	Badges []entity.Badge    `json:"badges"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	u, badges, err := h.svc.Me(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, "", err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, MeResponse{User: u, Badges: badges})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	u, err := h.svc.Profile(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, "", err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

type UpdateProfileRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.UpdateProfile(r.Context(), claims.UserID, req.Username, req.Email)
	if err != nil {
		h.fail(w, r, "update_profile", err, http.StatusConflict)
		return
	}
	h.events.AuthEvent("update_profile", "ok")
	httpx.WriteJSON(w, http.StatusOK, u)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, "change_password", err, http.StatusBadRequest)
		return
	}
	h.events.AuthEvent("change_password", "ok")
	httpx.WriteJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}

type ChangeUsernameRequest struct {
	NewUsername string `json:"newUsername"`
}

type ChangeUsernameResponse struct {
	Message     string `json:"message"`
	NewUsername string `json:"newUsername"`
}

func (h *Handler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req ChangeUsernameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ChangeUsername(r.Context(), claims.UserID, req.NewUsername); err != nil {
		h.fail(w, r, "change_username", err, http.StatusBadRequest)
		return
	}
	h.events.AuthEvent("change_username", "ok")
	httpx.WriteJSON(w, http.StatusOK, ChangeUsernameResponse{
		Message:     "username updated",
		NewUsername: strings.TrimSpace(req.NewUsername),
	})
}

type ListUsersResponse struct {
	Users []entity.PublicUser `json:"users"`
}

// ListUsers is mounted behind the admin gate.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	users, err := h.svc.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, "", err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ListUsersResponse{Users: users})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func (h *Handler) claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	c, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "access token required", "")
	}
	return c, ok
}

// fail writes err as a JSON error. conflictStatus is the status used for
// KindConflict, which differs between routes. An empty event skips counting.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error, conflictStatus int) {
	kind := KindOf(err)
	if event != "" {
		h.events.AuthEvent(event, kind.String())
	}

	var pe *Error
	if !errors.As(err, &pe) {
		h.logger.Errorw("request failed",
			"request_id", httpx.RequestID(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		details := ""
		if h.exposeDetails {
			details = err.Error()
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal server error", details)
		return
	}

	h.logger.Debugw("request rejected", "path", r.URL.Path, "kind", kind.String(), "err", err)
	if kind == KindRateLimited {
		ms := pe.RetryAfter.Milliseconds()
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(pe.RetryAfter.Seconds())), 10))
		httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.APIError{Error: pe.Message, RetryAfterMS: &ms})
		return
	}
	httpx.WriteError(w, statusFor(kind, conflictStatus), pe.Message, "")
}

func statusFor(k Kind, conflictStatus int) int {
	switch k {
	case KindValidation, KindNoOp:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return conflictStatus
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
