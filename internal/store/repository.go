/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the rosca-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ajopool/rosca-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
// Multi-step mutations (cycle activation, reactivation, member removal) are single
// methods so the implementation can run them as one transaction.
type Repository interface {
	// Identity
	// Resolve internal UUID from Clerk user id (e.g., "user_abc123").
	FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error)

	// Group methods
	FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)

	// Member methods
	FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error)
	FindMemberByUserID(ctx context.Context, groupID, userID uuid.UUID) (*domain.Member, error)
	FindMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error)
	// Members with status active or pending, i.e. everyone who owes a contribution.
	FindEligibleMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error)
	// Applies the group-local profile edit and an optional role change in one
	// transaction. When promoting to sub_leader, any current sub_leader in the
	// group is demoted in the same transaction.
	UpdateMemberAtomic(ctx context.Context, memberID uuid.UUID, name, phone, role *string) error
	// Deletes the member's pending payments, optionally their empty recipient
	// cycle, the member row itself, and refreshes the group's member stats.
	RemoveMemberAtomic(ctx context.Context, memberID uuid.UUID, emptyCycleID *uuid.UUID) error
	// Demotes the current leader, promotes the target, updates the group's cached
	// leader reference and sub-leader list.
	TransferLeadershipAtomic(ctx context.Context, groupID, currentLeaderMemberID, newLeaderMemberID, newLeaderUserID uuid.UUID) error

	// Cycle methods
	FindCycleByID(ctx context.Context, cycleID uuid.UUID) (*domain.Cycle, error)
	FindCyclesByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Cycle, error)
	FindActiveCycleByGroupID(ctx context.Context, groupID uuid.UUID) (*domain.Cycle, error)
	FindCycleByNumber(ctx context.Context, groupID uuid.UUID, cycleNumber int) (*domain.Cycle, error)
	MaxCycleNumber(ctx context.Context, groupID uuid.UUID) (int, error)
	// Inserts the cycle and, when it is created active, its payment batch and the
	// group's current-cycle pointer in one transaction. Returns
	// ErrActiveCycleExists if another active cycle wins the race.
	CreateCycleWithPayments(ctx context.Context, cycle *domain.Cycle, payments []domain.Payment) error
	// Marks the cycle completed, credits the recipient's received total, clears the
	// group pointer, and marks the group completed when its last cycle settles.
	// The zero-unpaid precondition is re-verified inside the transaction; a
	// payment reverted concurrently surfaces as ErrCycleStateChanged.
	CompleteCycleAtomic(ctx context.Context, cycle *domain.Cycle, completedBy uuid.UUID, completedAt time.Time) error
	// Stamps skip metadata, purges the cycle's pending payments, and clears the
	// group pointer if it referenced this cycle.
	SkipCycleAtomic(ctx context.Context, cycle *domain.Cycle, skippedBy uuid.UUID, skippedAt time.Time) error
	// Force-skips the currently active cycle (if forcedSkipCycleID is non-nil),
	// reactivates the target cycle, inserts the regenerated payment batch (the
	// conflict-free insert skips pairs that survived the skip), and repoints the
	// group, all in one transaction.
	ReactivateCycleAtomic(ctx context.Context, target *domain.Cycle, forcedSkipCycleID *uuid.UUID, payments []domain.Payment, actor uuid.UUID, at time.Time) error
	// Deletes the cycle and its remaining payments, clearing the group pointer if
	// it referenced this cycle.
	DeleteCycleAtomic(ctx context.Context, cycle *domain.Cycle) error

	// Payment methods
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	FindPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) ([]domain.Payment, error)
	CountUnpaidPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) (int, error)
	// Payments with status paid or late ("settled" from the accounting guard's
	// point of view: they can no longer be silently discarded).
	CountSettledPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) (int, error)
	CountSettledPaymentsByMemberID(ctx context.Context, memberID uuid.UUID) (int, error)
	// Updates the payment row and adjusts the member's cumulative paid total in
	// the same transaction (old status paid -> subtract, new status paid -> add).
	// The update is guarded on the old status; a lost race surfaces as
	// ErrPaymentStateChanged.
	UpdatePaymentStatusAtomic(ctx context.Context, payment *domain.Payment, newStatus string, method *string, verifiedBy uuid.UUID, paidAt *time.Time) error
	// Flips pending payments of active cycles whose due date passed the cutoff to
	// late, returning the affected rows for reminder dispatch.
	MarkOverduePaymentsLate(ctx context.Context, cutoff time.Time) ([]domain.Payment, error)
}
