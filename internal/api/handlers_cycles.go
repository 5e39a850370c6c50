/**
 * @description
 * HTTP handlers for the cycle lifecycle endpoints: starting the next cycle,
 * completing, skipping, reactivating, deleting, and listing a group's cycles.
 */

package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ajopool/rosca-service/internal/domain"
)

// StartCycleHandler creates the group's next cycle.
func (h *RoscaHandlers) StartCycleHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	groupID, ok := h.urlUUID(w, chi.URLParam(r, "groupID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	// The body is optional; an empty body starts the cycle immediately.
	var req domain.StartCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cycle, err := h.service.StartCycle(r.Context(), actorID, groupID, req.Deferred)
	if err != nil {
		log.Printf("level=warn component=api endpoint=start_cycle outcome=failed group_id=%s err=%v", groupID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, cycle)
}

// CompleteCycleHandler finishes an active cycle once everyone has paid.
func (h *RoscaHandlers) CompleteCycleHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.urlUUID(w, chi.URLParam(r, "cycleID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	cycle, err := h.service.CompleteCycle(r.Context(), actorID, cycleID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=complete_cycle outcome=failed cycle_id=%s err=%v", cycleID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cycle)
}

// SkipCycleHandler forfeits a draw.
func (h *RoscaHandlers) SkipCycleHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.urlUUID(w, chi.URLParam(r, "cycleID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	cycle, err := h.service.SkipCycle(r.Context(), actorID, cycleID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=skip_cycle outcome=failed cycle_id=%s err=%v", cycleID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cycle)
}

// ReactivateCycleHandler resurrects a skipped cycle, force-skipping whichever
// cycle currently holds the active slot.
func (h *RoscaHandlers) ReactivateCycleHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.urlUUID(w, chi.URLParam(r, "cycleID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	cycle, err := h.service.ReactivateCycle(r.Context(), actorID, cycleID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=reactivate_cycle outcome=failed cycle_id=%s err=%v", cycleID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cycle)
}

// DeleteCycleHandler removes a non-active cycle with no settled payments.
func (h *RoscaHandlers) DeleteCycleHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.urlUUID(w, chi.URLParam(r, "cycleID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	if err := h.service.DeleteCycle(r.Context(), actorID, cycleID); err != nil {
		log.Printf("level=warn component=api endpoint=delete_cycle outcome=failed cycle_id=%s err=%v", cycleID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Cycle deleted"})
}

// ListCyclesHandler returns a group's cycles with re-resolved recipient names.
func (h *RoscaHandlers) ListCyclesHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	groupID, ok := h.urlUUID(w, chi.URLParam(r, "groupID"))
	if !ok {
		return
	}

	cycles, err := h.service.ListGroupCycles(r.Context(), actorID, groupID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cycles)
}
