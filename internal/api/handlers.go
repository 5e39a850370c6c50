/**
 * @description
 * This file contains the shared pieces of the HTTP handler layer: the handler
 * struct, caller identity resolution, the rate-limit gate applied to mutating
 * endpoints, and the mapping from the engine's error taxonomy to HTTP statuses.
 * Handlers parse requests, call the application service, and write responses;
 * every business rule lives below them.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ajopool/rosca-service/internal/app"
	"github.com/ajopool/rosca-service/internal/store"
)

// RoscaHandlers holds the application service that handlers will use.
type RoscaHandlers struct {
	service *app.Service
}

// NewRoscaHandlers creates the handler set around the application service.
func NewRoscaHandlers(service *app.Service) *RoscaHandlers {
	return &RoscaHandlers{service: service}
}

// resolveActor extracts the authenticated subject from the context and resolves
// it to the internal user UUID. A false return means a response was written.
func (h *RoscaHandlers) resolveActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	subject, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	internalIDStr, err := h.service.ResolveInternalUserID(r.Context(), subject)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=user_resolution_failed subject=%s err=%v", subject, err)
		h.writeError(w, http.StatusUnauthorized, "User not found")
		return uuid.Nil, false
	}
	actorID, err := uuid.Parse(internalIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id internal_user_id=%s", internalIDStr)
		h.writeError(w, http.StatusInternalServerError, "Invalid user ID format")
		return uuid.Nil, false
	}
	return actorID, true
}

// allowMutation applies the per-caller rate limit to mutating endpoints.
// A false return means a 429 was written.
func (h *RoscaHandlers) allowMutation(w http.ResponseWriter, r *http.Request, actorID uuid.UUID) bool {
	allowed, retryAfter := h.service.ConsumeMutationRateLimit(r.Context(), actorID.String())
	if allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down and try again.")
	return false
}

// urlUUID parses a UUID path parameter. A false return means a response was written.
func (h *RoscaHandlers) urlUUID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid identifier in URL")
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps the engine's error taxonomy onto HTTP statuses:
// authorization 403, state conflict 409, validation 422, not found 404,
// anything else 500.
func (h *RoscaHandlers) handleServiceError(w http.ResponseWriter, err error) {
	var unpaid *app.UnpaidMembersError
	switch {
	case errors.Is(err, app.ErrNotLeader),
		errors.Is(err, app.ErrNotLeaderOrSubLeader),
		errors.Is(err, app.ErrNotGroupMember):
		h.writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, store.ErrActiveCycleExists),
		errors.Is(err, app.ErrInvalidCycleState),
		errors.Is(err, store.ErrCycleStateChanged),
		errors.Is(err, store.ErrPaymentStateChanged):
		h.writeError(w, http.StatusConflict, err.Error())

	case errors.As(err, &unpaid),
		errors.Is(err, app.ErrAllCyclesCompleted),
		errors.Is(err, app.ErrRecipientNotFound),
		errors.Is(err, app.ErrCycleHasSettledPayments),
		errors.Is(err, app.ErrGroupCompleted),
		errors.Is(err, app.ErrMemberIsLeader),
		errors.Is(err, app.ErrMemberHasAssignedCycle),
		errors.Is(err, app.ErrMemberHasSettledPayments),
		errors.Is(err, app.ErrRecipientCyclePaid),
		errors.Is(err, app.ErrTransferTargetInactive),
		errors.Is(err, app.ErrTransferTargetSubLeader),
		errors.Is(err, app.ErrTransferTargetUnlinked),
		errors.Is(err, app.ErrTargetAlreadyLeader),
		errors.Is(err, app.ErrLeaderRoleChange),
		errors.Is(err, app.ErrInvalidRole),
		errors.Is(err, app.ErrInvalidPaymentStatus):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrCycleNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())

	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *RoscaHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *RoscaHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
