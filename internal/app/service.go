/**
 * @description
 * This file contains the core of the rosca-service application layer. The
 * `Service` struct orchestrates the cycle/payment consistency engine,
 * coordinating between the database repository and the message broker. The
 * cycle state machine, membership guard, and payment operations live in their
 * own files in this package; this file holds the shared pieces: the error
 * taxonomy, role enforcement, and fire-and-forget notification dispatch.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing notification events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ajopool/rosca-service/internal/domain"
	"github.com/ajopool/rosca-service/internal/store"
	"github.com/ajopool/rosca-service/pkg/rabbitmq"
)

var (
	// Authorization errors. The role split is structural: cycle state and
	// membership removal are leader-only; payment attestation is open to the
	// sub-leader as well.
	ErrNotLeader            = errors.New("only the group leader may perform this action")
	ErrNotLeaderOrSubLeader = errors.New("only the group leader or a sub-leader may perform this action")
	ErrNotGroupMember       = errors.New("caller is not a member of this group")

	// State-conflict errors. ErrInvalidCycleState is always wrapped with the
	// conflicting state named, e.g. "cannot complete cycle: cycle is skipped".
	ErrInvalidCycleState  = errors.New("cycle is not in a state that permits this transition")
	ErrAllCyclesCompleted = errors.New("all cycles completed")

	// Validation errors.
	ErrRecipientNotFound        = errors.New("recipient not found for this draw position")
	ErrCycleHasSettledPayments  = errors.New("cycle has settled payments and cannot be deleted")
	ErrGroupCompleted           = errors.New("group is already completed")
	ErrMemberIsLeader           = errors.New("the group leader cannot be removed")
	ErrMemberHasAssignedCycle   = errors.New("cannot remove a member with an assigned cycle")
	ErrMemberHasSettledPayments = errors.New("cannot remove this member: removing would corrupt accounting")
	ErrRecipientCyclePaid       = errors.New("cannot remove this member: others have paid toward their cycle")
	ErrTransferTargetInactive   = errors.New("transfer target must be an active member of the group")
	ErrTransferTargetSubLeader  = errors.New("a sub-leader must be demoted before becoming leader")
	ErrTransferTargetUnlinked   = errors.New("transfer target must have a linked account")
	ErrLeaderRoleChange         = errors.New("the leader role can only change through a leadership transfer")
	ErrInvalidRole              = errors.New("role must be member or sub_leader")
	ErrInvalidPaymentStatus     = errors.New("payment status must be pending, paid, or late")
)

// UnpaidMembersError blocks cycle completion while contributions are outstanding.
type UnpaidMembersError struct {
	Count int
}

func (e *UnpaidMembersError) Error() string {
	return fmt.Sprintf("cannot complete cycle: %d member(s) have not paid", e.Count)
}

// Service provides the core business logic for the cycle/payment engine.
type Service struct {
	repo     store.Repository
	notifier rabbitmq.Publisher

	mutationRateLimiter        *RedisMutationRateLimiter
	mutationRateLimitPerMinute int
}

// NewService creates a new rosca service instance.
func NewService(repo store.Repository, notifier rabbitmq.Publisher) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
	}
}

// SetMutationRateLimiter installs the optional Redis-backed limiter applied to
// mutating endpoints.
func (s *Service) SetMutationRateLimiter(limiter *RedisMutationRateLimiter, perMinute int) {
	s.mutationRateLimiter = limiter
	s.mutationRateLimitPerMinute = perMinute
}

// ResolveInternalUserID converts a Clerk user id string (e.g., "user_abc123")
// into the internal UUID used by our database.
func (s *Service) ResolveInternalUserID(ctx context.Context, clerkUserID string) (string, error) {
	return s.repo.FindUserIDByClerkUserID(ctx, clerkUserID)
}

// requireLeader loads the actor's membership in the group and rejects anyone
// who is not the leader. Cycle state and membership removal are leader-only.
func (s *Service) requireLeader(ctx context.Context, groupID, actorUserID uuid.UUID) (*domain.Member, error) {
	member, err := s.repo.FindMemberByUserID(ctx, groupID, actorUserID)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, ErrNotLeader
		}
		return nil, fmt.Errorf("failed to resolve caller membership: %w", err)
	}
	if member.Role != domain.RoleLeader {
		return nil, ErrNotLeader
	}
	return member, nil
}

// requireLeaderOrSubLeader loads the actor's membership and rejects plain members.
func (s *Service) requireLeaderOrSubLeader(ctx context.Context, groupID, actorUserID uuid.UUID) (*domain.Member, error) {
	member, err := s.repo.FindMemberByUserID(ctx, groupID, actorUserID)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, ErrNotLeaderOrSubLeader
		}
		return nil, fmt.Errorf("failed to resolve caller membership: %w", err)
	}
	if member.Role != domain.RoleLeader && member.Role != domain.RoleSubLeader {
		return nil, ErrNotLeaderOrSubLeader
	}
	return member, nil
}

// requireMember loads the actor's membership for read-only endpoints.
func (s *Service) requireMember(ctx context.Context, groupID, actorUserID uuid.UUID) (*domain.Member, error) {
	member, err := s.repo.FindMemberByUserID(ctx, groupID, actorUserID)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, ErrNotGroupMember
		}
		return nil, fmt.Errorf("failed to resolve caller membership: %w", err)
	}
	return member, nil
}

// notify publishes a notification event for the external delivery collaborator.
// It is fire-and-forget: a publish failure is logged and never fails or rolls
// back the mutation that triggered it.
func (s *Service) notify(ctx context.Context, groupID uuid.UUID, recipients []uuid.UUID, title, message, priority string) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}
	event := rabbitmq.NotificationEvent{
		GroupID:    groupID,
		Recipients: recipients,
		Title:      title,
		Message:    message,
		Priority:   priority,
	}
	if err := s.notifier.PublishNotificationEvent(ctx, event); err != nil {
		log.Printf("level=warn component=notifications msg=\"publish failed\" group_id=%s title=%q err=%v", groupID, title, err)
	}
}

// memberUserIDs collects the linked user ids of a member set. Guest members
// have no global identity and are skipped; they cannot receive notifications.
func memberUserIDs(members []domain.Member) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.UserID != nil {
			ids = append(ids, *m.UserID)
		}
	}
	return ids
}

// groupMemberUserIDs loads the group's non-removed members and returns their
// linked user ids for notification fan-out.
func (s *Service) groupMemberUserIDs(ctx context.Context, groupID uuid.UUID) []uuid.UUID {
	members, err := s.repo.FindMembersByGroupID(ctx, groupID)
	if err != nil {
		log.Printf("level=warn component=notifications msg=\"member fan-out lookup failed\" group_id=%s err=%v", groupID, err)
		return nil
	}
	return memberUserIDs(members)
}
