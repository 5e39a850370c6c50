/**
 * @description
 * HTTP handlers for the membership endpoints: removal, group-local profile and
 * role updates, and leadership transfer.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ajopool/rosca-service/internal/domain"
)

// RemoveMemberHandler deletes a membership record after the removal guard passes.
func (h *RoscaHandlers) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	groupID, ok := h.urlUUID(w, chi.URLParam(r, "groupID"))
	if !ok {
		return
	}
	memberID, ok := h.urlUUID(w, chi.URLParam(r, "memberID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	if err := h.service.RemoveMember(r.Context(), actorID, groupID, memberID); err != nil {
		log.Printf("level=warn component=api endpoint=remove_member outcome=failed group_id=%s member_id=%s err=%v", groupID, memberID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Member removed"})
}

// UpdateMemberHandler edits the group-local snapshot and, leader-only, the role.
func (h *RoscaHandlers) UpdateMemberHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	groupID, ok := h.urlUUID(w, chi.URLParam(r, "groupID"))
	if !ok {
		return
	}
	memberID, ok := h.urlUUID(w, chi.URLParam(r, "memberID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	var req domain.UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	member, err := h.service.UpdateMember(r.Context(), actorID, groupID, memberID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=update_member outcome=failed group_id=%s member_id=%s err=%v", groupID, memberID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, member)
}

// TransferLeadershipHandler swaps the leader role to another member.
func (h *RoscaHandlers) TransferLeadershipHandler(w http.ResponseWriter, r *http.Request) {
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

	var req domain.TransferLeadershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.TransferLeadership(r.Context(), actorID, groupID, req.NewLeaderMemberID); err != nil {
		log.Printf("level=warn component=api endpoint=transfer_leadership outcome=failed group_id=%s err=%v", groupID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Leadership transferred"})
}
