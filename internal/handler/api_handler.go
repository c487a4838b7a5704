// Package handler provides the HTTP API of hostbot.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/service"
)

// AdminIDHeader carries the acting administrator's chat id.
const AdminIDHeader = "X-Admin-ID"

// Provisioner requests a server on behalf of a user.
type Provisioner interface {
	RequestServer(ctx context.Context, telegramID int64, progress func(service.ProgressEvent)) (*service.ProvisionResult, error)
}

// Users manages user registration and email of record.
type Users interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.RegisterOutput, error)
	SetEmail(ctx context.Context, telegramID int64, raw string) (string, error)
	Accounts(ctx context.Context, telegramID int64) ([]*domain.HostingAccount, error)
}

// Admin is the administrator command surface.
type Admin interface {
	Ban(ctx context.Context, adminID int64, target, reason string) (*domain.User, error)
	Unban(ctx context.Context, adminID int64, target string) (*domain.User, error)
	GiveServer(ctx context.Context, adminID int64, target string) (*service.ProvisionResult, error)
	DeleteServer(ctx context.Context, adminID int64, remoteID string, alsoRemote bool) error
	Power(ctx context.Context, adminID int64, remoteID, signal string) error
	DeleteUserServers(ctx context.Context, adminID int64, target string, alsoRemote bool) (*service.DeleteReport, error)
	ServerInfo(ctx context.Context, adminID int64, remoteID string) (*service.ServerDetails, error)
	ListServers(ctx context.Context, adminID int64) ([]*domain.HostingAccount, error)
	Statistics(ctx context.Context, adminID int64) (*service.Statistics, error)
	RecentActions(ctx context.Context, adminID int64, limit int) ([]*domain.AuditLogEntry, error)
}

// APIHandler serves the /v1 JSON API.
type APIHandler struct {
	bot    Provisioner
	users  Users
	admin  Admin
	logger zerolog.Logger
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(bot Provisioner, users Users, admin Admin, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		bot:    bot,
		users:  users,
		admin:  admin,
		logger: logger.With().Str("handler", "api").Logger(),
	}
}

// RegisterRoutes registers the API routes on the router.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", h.handleRegister)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Put("/email", h.handleSetEmail)
			r.Get("/accounts", h.handleAccounts)
			r.Post("/provision", h.handleProvision)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdminID)

			r.Post("/users/{target}/ban", h.handleBan)
			r.Post("/users/{target}/unban", h.handleUnban)
			r.Post("/users/{target}/servers", h.handleGiveServer)
			r.Delete("/users/{target}/servers", h.handleDeleteUserServers)

			r.Get("/servers", h.handleListServers)
			r.Get("/servers/{remoteID}", h.handleServerInfo)
			r.Delete("/servers/{remoteID}", h.handleDeleteServer)
			r.Post("/servers/{remoteID}/power", h.handlePower)

			r.Get("/stats", h.handleStats)
			r.Get("/logs", h.handleLogs)
		})
	})
}

// =============================================================================
// Request / Response Types
// =============================================================================

type registerRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type banRequest struct {
	Reason string `json:"reason"`
}

type powerRequest struct {
	Signal string `json:"signal"`
}

// provisionResponse is the only response that carries a plaintext password.
type provisionResponse struct {
	RemoteAccountID string `json:"remote_account_id"`
	DisplayName     string `json:"display_name"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Email           string `json:"email"`
}

func newProvisionResponse(result *service.ProvisionResult) provisionResponse {
	return provisionResponse{
		RemoteAccountID: result.RemoteID,
		DisplayName:     result.Name,
		Username:        result.Credentials.Username,
		Password:        result.Credentials.Password,
		Email:           result.Credentials.Email,
	}
}

// =============================================================================
// User Routes
// =============================================================================

func (h *APIHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, ErrBadRequest)
		return
	}

	out, err := h.users.Register(r.Context(), service.RegisterInput{
		TelegramID: req.TelegramID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, out.User)
}

func (h *APIHandler) handleSetEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, ErrBadRequest)
		return
	}

	email, err := h.users.SetEmail(r.Context(), id, req.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emailRequest{Email: email})
}

func (h *APIHandler) handleAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	accounts, err := h.users.Accounts(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *APIHandler) handleProvision(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.bot.RequestServer(r.Context(), id, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProvisionResponse(result))
}

// =============================================================================
// Admin Routes
// =============================================================================

type adminIDKey struct{}

// requireAdminID parses the acting admin id into the request context.
// Authorization itself is decided by the admin service.
func requireAdminID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(AdminIDHeader), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, ErrMissingAdminID)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminIDKey{}, id)))
	})
}

func adminID(r *http.Request) int64 {
	id, _ := r.Context().Value(adminIDKey{}).(int64)
	return id
}

func (h *APIHandler) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, ErrBadRequest)
			return
		}
	}

	user, err := h.admin.Ban(r.Context(), adminID(r), chi.URLParam(r, "target"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) handleUnban(w http.ResponseWriter, r *http.Request) {
	user, err := h.admin.Unban(r.Context(), adminID(r), chi.URLParam(r, "target"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) handleGiveServer(w http.ResponseWriter, r *http.Request) {
	result, err := h.admin.GiveServer(r.Context(), adminID(r), chi.URLParam(r, "target"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProvisionResponse(result))
}

func (h *APIHandler) handleDeleteUserServers(w http.ResponseWriter, r *http.Request) {
	report, err := h.admin.DeleteUserServers(r.Context(), adminID(r), chi.URLParam(r, "target"), remoteFlag(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) handleListServers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.admin.ListServers(r.Context(), adminID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *APIHandler) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	details, err := h.admin.ServerInfo(r.Context(), adminID(r), chi.URLParam(r, "remoteID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *APIHandler) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	err := h.admin.DeleteServer(r.Context(), adminID(r), chi.URLParam(r, "remoteID"), remoteFlag(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) handlePower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, ErrBadRequest)
		return
	}

	if err := h.admin.Power(r.Context(), adminID(r), chi.URLParam(r, "remoteID"), req.Signal); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Statistics(r.Context(), adminID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, ErrBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.admin.RecentActions(r.Context(), adminID(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errorFor(err)
	if apiErr.HTTPStatusCode >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		h.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}
	writeError(w, apiErr)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, ErrBadRequest)
		return 0, false
	}
	return id, true
}

func remoteFlag(r *http.Request) bool {
	remote, _ := strconv.ParseBool(r.URL.Query().Get("remote"))
	return remote
}
