// Package httpapi exposes the authorization core over HTTP. Handlers decode
// the request, call the matching service and translate the sentinel error
// taxonomy to status codes; no business rules live here.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/logging"
	"github.com/floodyc/AfterLiving/internal/server/audit"
	"github.com/floodyc/AfterLiving/internal/server/config"
	"github.com/floodyc/AfterLiving/internal/server/messages"
	"github.com/floodyc/AfterLiving/internal/server/models"
	"github.com/floodyc/AfterLiving/internal/server/release"
	auditrepo "github.com/floodyc/AfterLiving/internal/server/repositories/audit"
	"github.com/floodyc/AfterLiving/internal/server/verifiers"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// ActorHeader carries the caller's identity as asserted by the fronting
// proxy. Verifier and recipient endpoints do not rely on it; they
// authenticate with capability tokens.
const ActorHeader = "X-Actor-Id"

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// toRequestError maps a service error to its HTTP shape.
func toRequestError(err error) *RequestError {
	var status int
	switch {
	case errors.Is(err, common.ErrorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrTokenRevoked):
		status = http.StatusUnauthorized
	case errors.Is(err, common.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrDuplicateVerifier),
		errors.Is(err, common.ErrVerifierLimitReached),
		errors.Is(err, common.ErrRequestAlreadyExists),
		errors.Is(err, common.ErrAlreadyResponded),
		errors.Is(err, common.ErrInvalidStatus):
		status = http.StatusConflict
	case errors.Is(err, common.ErrInvitationExpired):
		status = http.StatusGone
	default:
		status = http.StatusInternalServerError
	}
	return &RequestError{StatusCode: status, Err: err}
}

type Handler struct {
	verifiers *verifiers.Service
	release   *release.Service
	messages  *messages.Service
	audit     *audit.Service
	config    *config.Config
	log       logging.Logger
}

func NewHandler(verifiersSvc *verifiers.Service, releaseSvc *release.Service, messagesSvc *messages.Service,
	auditSvc *audit.Service, cfg *config.Config, log logging.Logger) *Handler {
	return &Handler{
		verifiers: verifiersSvc,
		release:   releaseSvc,
		messages:  messagesSvc,
		audit:     auditSvc,
		config:    cfg,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/plans/{planID}/verifiers", h.handleInviteVerifier)
	r.Post("/api/verifiers/accept", h.handleAcceptInvitation)
	r.Post("/api/verifiers/decline", h.handleDeclineInvitation)
	r.Delete("/api/verifiers/{verifierID}", h.handleRevokeVerifier)

	r.Post("/api/plans/{planID}/release-requests", h.handleOpenRequest)
	r.Post("/api/release-requests/{requestID}/respond", h.handleRespond)
	r.Get("/api/release-requests/{requestID}", h.handleGetRequest)

	r.Post("/api/plans/{planID}/messages", h.handleInitUpload)
	r.Post("/api/messages/{messageID}/finalize", h.handleFinalizeUpload)
	r.Post("/api/messages/{messageID}/recipients", h.handleAddRecipient)
	r.Delete("/api/messages/{messageID}", h.handleDeleteMessage)
	r.Get("/api/messages/view", h.handleRecipientView)

	r.Get("/api/audit", h.handleAuditQuery)
}

func actorInfo(r *http.Request) models.ActorInfo {
	return models.ActorInfo{
		Actor:     r.Header.Get(ActorHeader),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error(context.Background(), "encoding response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqErr := toRequestError(err)
	if reqErr.StatusCode >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, reqErr.StatusCode, map[string]string{"error": reqErr.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

// --- verifier registry ---

type inviteVerifierRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type verifierResponse struct {
	ID          string `json:"id"`
	PlanID      string `json:"plan_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

func toVerifierResponse(v *models.Verifier) verifierResponse {
	return verifierResponse{
		ID:          v.ID,
		PlanID:      v.PlanID,
		Email:       v.Email,
		DisplayName: v.DisplayName,
		Status:      v.Status,
	}
}

func (h *Handler) handleInviteVerifier(w http.ResponseWriter, r *http.Request) {
	var req inviteVerifierRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	v, err := h.verifiers.Invite(r.Context(), actorInfo(r), chi.URLParam(r, "planID"), req.Email, req.DisplayName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toVerifierResponse(v))
}

type invitationTokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	h.handleInvitationResponse(w, r, h.verifiers.Accept)
}

func (h *Handler) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	h.handleInvitationResponse(w, r, h.verifiers.Decline)
}

func (h *Handler) handleInvitationResponse(w http.ResponseWriter, r *http.Request,
	respond func(ctx context.Context, actor models.ActorInfo, token string) (*models.Verifier, error)) {
	var req invitationTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	v, err := respond(r.Context(), actorInfo(r), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toVerifierResponse(v))
}

func (h *Handler) handleRevokeVerifier(w http.ResponseWriter, r *http.Request) {
	err := h.verifiers.Revoke(r.Context(), actorInfo(r), chi.URLParam(r, "verifierID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- release authorization ---

type openRequestRequest struct {
	Token string `json:"token"`
	Note  string `json:"note"`
}

type respondRequest struct {
	Token   string `json:"token"`
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

type releaseRequestResponse struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	Status    string `json:"status"`
	Approvals int    `json:"approvals"`
	Denials   int    `json:"denials"`
	Threshold int    `json:"threshold"`
	Accepted  int    `json:"accepted_verifiers"`
}

func toReleaseResponse(res *release.Result) releaseRequestResponse {
	return releaseRequestResponse{
		ID:        res.Request.ID,
		PlanID:    res.Request.PlanID,
		Status:    res.Request.Status,
		Approvals: res.Tally.Approvals,
		Denials:   res.Tally.Denials,
		Threshold: res.Tally.Threshold,
		Accepted:  res.Tally.Accepted,
	}
}

func (h *Handler) handleOpenRequest(w http.ResponseWriter, r *http.Request) {
	var req openRequestRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	res, err := h.release.Open(r.Context(), actorInfo(r), chi.URLParam(r, "planID"), req.Token, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toReleaseResponse(res))
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	res, err := h.release.Respond(r.Context(), actorInfo(r), chi.URLParam(r, "requestID"), req.Token, req.Approve, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toReleaseResponse(res))
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.release.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toReleaseResponse(res))
}

// --- messages ---

type initUploadRequest struct {
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type initUploadResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UploadURL string `json:"upload_url"`
}

func (h *Handler) handleInitUpload(w http.ResponseWriter, r *http.Request) {
	var req initUploadRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, uploadURL, err := h.messages.InitUpload(r.Context(), actorInfo(r), chi.URLParam(r, "planID"),
		req.Title, req.ContentType, req.SizeBytes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, initUploadResponse{ID: msg.ID, Status: msg.Status, UploadURL: uploadURL})
}

func (h *Handler) handleFinalizeUpload(w http.ResponseWriter, r *http.Request) {
	err := h.messages.FinalizeUpload(r.Context(), actorInfo(r), chi.URLParam(r, "messageID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addRecipientRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h *Handler) handleAddRecipient(w http.ResponseWriter, r *http.Request) {
	var req addRecipientRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	rcp, err := h.messages.AddRecipient(r.Context(), actorInfo(r), chi.URLParam(r, "messageID"), req.Email, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": rcp.ID, "status": rcp.Status})
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.messages.Delete(r.Context(), actorInfo(r), chi.URLParam(r, "messageID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recipientViewResponse struct {
	MessageID   string `json:"message_id"`
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	DownloadURL string `json:"download_url"`
}

func (h *Handler) handleRecipientView(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	view, err := h.messages.RecipientView(r.Context(), actorInfo(r), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recipientViewResponse{
		MessageID:   view.Message.ID,
		Title:       view.Message.Title,
		ContentType: view.Message.ContentType,
		DownloadURL: view.DownloadURL,
	})
}

// --- audit ---

type auditEventResponse struct {
	ID         string            `json:"id"`
	Actor      string            `json:"actor,omitempty"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	caller := actorInfo(r)
	isAdmin := caller.Actor != "" && caller.Actor == h.config.AdminEmail

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	events, err := h.audit.Query(r.Context(), caller, isAdmin, auditrepo.Filter{
		Actor:      q.Get("actor"),
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{
			ID:         e.ID,
			Actor:      e.Actor,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}
