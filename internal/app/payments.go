/**
 * @description
 * Payment generation and attestation. buildCyclePayments is the only place new
 * financial obligations are created: one pending payment per eligible member,
 * invoked exclusively when a cycle enters the active state. MarkPayment records
 * manually-attested payment status; the service performs no real gateway
 * integration.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ajopool/rosca-service/internal/domain"
)

// buildCyclePayments produces the pending payment batch for an activating
// cycle: one obligation per eligible member, each for the group's per-cycle
// contribution. The store inserts the batch with ON CONFLICT DO NOTHING, so
// generating against a cycle that already has payments is a no-op rather than
// a duplication.
func buildCyclePayments(cycle *domain.Cycle, members []domain.Member, contribution int64) []domain.Payment {
	payments := make([]domain.Payment, 0, len(members))
	for _, m := range members {
		payments = append(payments, domain.Payment{
			ID:       uuid.New(),
			CycleID:  cycle.ID,
			MemberID: m.ID,
			GroupID:  cycle.GroupID,
			Amount:   contribution,
			Status:   domain.PaymentStatusPending,
		})
	}
	return payments
}

// MarkPayment records a manually-attested status change on one payment. The
// leader or a sub-leader may attest; payments are mutable only while their
// cycle is active, and never once the group has completed.
func (s *Service) MarkPayment(ctx context.Context, actorUserID, paymentID uuid.UUID, req domain.MarkPaymentRequest) (*domain.Payment, error) {
	switch req.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusPaid, domain.PaymentStatusLate:
	default:
		return nil, ErrInvalidPaymentStatus
	}

	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	actor, err := s.requireLeaderOrSubLeader(ctx, payment.GroupID, actorUserID)
	if err != nil {
		return nil, err
	}

	group, err := s.repo.FindGroupByID(ctx, payment.GroupID)
	if err != nil {
		return nil, err
	}
	if group.Status == domain.GroupStatusCompleted {
		return nil, ErrGroupCompleted
	}
	cycle, err := s.repo.FindCycleByID(ctx, payment.CycleID)
	if err != nil {
		return nil, err
	}
	if cycle.Status != domain.CycleStatusActive {
		return nil, fmt.Errorf("cannot mark payment: %w: cycle is %s", ErrInvalidCycleState, cycle.Status)
	}

	var paidAt *time.Time
	if req.Status == domain.PaymentStatusPaid {
		now := time.Now().UTC()
		paidAt = &now
	}
	if err := s.repo.UpdatePaymentStatusAtomic(ctx, payment, req.Status, req.Method, actor.ID, paidAt); err != nil {
		return nil, err
	}

	log.Printf("level=info component=payments op=mark payment_id=%s group_id=%s from=%s to=%s verified_by=%s", payment.ID, payment.GroupID, payment.Status, req.Status, actor.ID)
	payment.Status = req.Status
	if req.Method != nil {
		payment.Method = req.Method
	}
	payment.PaidAt = paidAt
	payment.VerifiedBy = &actor.ID
	return payment, nil
}

// ListCyclePayments returns a cycle's payment records to any group member.
func (s *Service) ListCyclePayments(ctx context.Context, actorUserID, cycleID uuid.UUID) ([]domain.Payment, error) {
	cycle, err := s.repo.FindCycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, cycle.GroupID, actorUserID); err != nil {
		return nil, err
	}
	return s.repo.FindPaymentsByCycleID(ctx, cycleID)
}
