/**
 * @description
 * HTTP handlers for the payment endpoints: attesting a payment's status and
 * listing a cycle's payment records.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ajopool/rosca-service/internal/domain"
)

// MarkPaymentHandler records a manually-attested payment status change.
func (h *RoscaHandlers) MarkPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.urlUUID(w, chi.URLParam(r, "paymentID"))
	if !ok {
		return
	}
	if !h.allowMutation(w, r, actorID) {
		return
	}

	var req domain.MarkPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.service.MarkPayment(r.Context(), actorID, paymentID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=mark_payment outcome=failed payment_id=%s err=%v", paymentID, err)
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// ListCyclePaymentsHandler returns a cycle's payment records.
func (h *RoscaHandlers) ListCyclePaymentsHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.resolveActor(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.urlUUID(w, chi.URLParam(r, "cycleID"))
	if !ok {
		return
	}

	payments, err := h.service.ListCyclePayments(r.Context(), actorID, cycleID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payments)
}
