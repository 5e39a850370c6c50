/**
 * @description
 * The membership guard: removal, profile/role updates, and leadership transfer.
 * Removal cross-checks cycle and payment state so that deleting a membership
 * record can never orphan a draw or erase settled accounting; leadership
 * transfer enforces that the two privileged roles never collapse into one
 * action. Validation happens here; the approved side effects execute atomically
 * in the store.
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
)

// ErrTargetAlreadyLeader rejects a leadership transfer aimed at the sitting leader.
var ErrTargetAlreadyLeader = errors.New("transfer target is already the leader")

// cycleAssignedToMember reports whether a cycle belongs to this member's draw:
// by recipient reference, by linked identity, or by draw position.
func cycleAssignedToMember(c *domain.Cycle, m *domain.Member) bool {
	if c.RecipientMemberID != nil && *c.RecipientMemberID == m.ID {
		return true
	}
	if c.RecipientUserID != nil && m.UserID != nil && *c.RecipientUserID == *m.UserID {
		return true
	}
	return c.CycleNumber == m.MemberNumber
}

// RemoveMember deletes a membership record after the removal guard passes.
// Refused when the member is the leader, when any cycle assigned to their draw
// has left the untouched-upcoming state, when the member has settled payments
// of their own, or when others have already paid toward the member's recipient
// cycle. An untouched upcoming cycle at the member's draw position is deleted
// as part of the cleanup.
func (s *Service) RemoveMember(ctx context.Context, actorUserID, groupID, memberID uuid.UUID) error {
	if _, err := s.requireLeaderOrSubLeader(ctx, groupID, actorUserID); err != nil {
		return err
	}
	member, err := s.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		return err
	}
	if member.GroupID != groupID {
		return store.ErrMemberNotFound
	}
	if member.Role == domain.RoleLeader {
		return ErrMemberIsLeader
	}

	cycles, err := s.repo.FindCyclesByGroupID(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to load group cycles: %w", err)
	}
	var emptyCycleID *uuid.UUID
	for i := range cycles {
		c := &cycles[i]
		if !cycleAssignedToMember(c, member) {
			continue
		}
		if c.Status != domain.CycleStatusUpcoming {
			return ErrMemberHasAssignedCycle
		}
		settled, err := s.repo.CountSettledPaymentsByCycleID(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to count payments toward cycle %d: %w", c.CycleNumber, err)
		}
		if settled > 0 {
			return ErrRecipientCyclePaid
		}
		emptyCycleID = &c.ID
	}

	settled, err := s.repo.CountSettledPaymentsByMemberID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("failed to count member payments: %w", err)
	}
	if settled > 0 {
		return ErrMemberHasSettledPayments
	}

	if err := s.repo.RemoveMemberAtomic(ctx, memberID, emptyCycleID); err != nil {
		return err
	}

	log.Printf("level=info component=members op=remove group_id=%s member_id=%s draw_position=%d cycle_deleted=%t", groupID, memberID, member.MemberNumber, emptyCycleID != nil)
	s.notify(ctx, groupID, s.groupMemberUserIDs(ctx, groupID),
		"Member removed",
		fmt.Sprintf("%s has been removed from the group.", displayName(member, member.MemberNumber)),
		"normal")
	return nil
}

// UpdateMember edits the group-local name/phone snapshot and, leader-only, the
// member's role. The leader role itself never changes here; that path is
// TransferLeadership.
func (s *Service) UpdateMember(ctx context.Context, actorUserID, groupID, memberID uuid.UUID, req domain.UpdateMemberRequest) (*domain.Member, error) {
	actor, err := s.requireLeaderOrSubLeader(ctx, groupID, actorUserID)
	if err != nil {
		return nil, err
	}
	member, err := s.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.GroupID != groupID {
		return nil, store.ErrMemberNotFound
	}

	if req.Role != nil {
		if actor.Role != domain.RoleLeader {
			return nil, ErrNotLeader
		}
		if member.Role == domain.RoleLeader || *req.Role == domain.RoleLeader {
			return nil, ErrLeaderRoleChange
		}
		if *req.Role != domain.RoleMember && *req.Role != domain.RoleSubLeader {
			return nil, ErrInvalidRole
		}
	}

	if err := s.repo.UpdateMemberAtomic(ctx, memberID, req.Name, req.Phone, req.Role); err != nil {
		return nil, err
	}
	if req.Role != nil {
		log.Printf("level=info component=members op=role_change group_id=%s member_id=%s role=%s", groupID, memberID, *req.Role)
	}

	return s.repo.FindMemberByID(ctx, memberID)
}

// TransferLeadership swaps the leader role to another member. The target must
// be an active member with a linked account, and must not currently hold the
// sub_leader role — demoting first keeps one action from collapsing both
// privileged roles at once.
func (s *Service) TransferLeadership(ctx context.Context, actorUserID, groupID, newLeaderMemberID uuid.UUID) error {
	actor, err := s.requireLeader(ctx, groupID, actorUserID)
	if err != nil {
		return err
	}
	target, err := s.repo.FindMemberByID(ctx, newLeaderMemberID)
	if err != nil {
		return err
	}
	if target.GroupID != groupID {
		return store.ErrMemberNotFound
	}
	if target.Role == domain.RoleLeader {
		return ErrTargetAlreadyLeader
	}
	if target.Status != domain.MemberStatusActive {
		return ErrTransferTargetInactive
	}
	if target.UserID == nil {
		return ErrTransferTargetUnlinked
	}
	if target.Role == domain.RoleSubLeader {
		return ErrTransferTargetSubLeader
	}

	if err := s.repo.TransferLeadershipAtomic(ctx, groupID, actor.ID, target.ID, *target.UserID); err != nil {
		return err
	}

	log.Printf("level=info component=members op=transfer_leadership group_id=%s from=%s to=%s", groupID, actor.ID, target.ID)
	s.notify(ctx, groupID, s.groupMemberUserIDs(ctx, groupID),
		"Leadership transferred",
		fmt.Sprintf("%s is now the group leader.", displayName(target, target.MemberNumber)),
		"high")
	return nil
}
