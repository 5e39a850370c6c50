/**
 * @description
 * The cycle state machine and orchestrator. A cycle moves upcoming -> active ->
 * completed, or into skipped from either non-terminal state; skipped cycles can
 * be reactivated. The orchestrator half of this file (StartCycle and
 * ReactivateCycle) is the only code that makes a cycle active, because both
 * paths must preserve the per-group invariant: at most one active cycle at any
 * time. The store enforces the invariant with a partial unique index, so a lost
 * race surfaces as a state-conflict error rather than a silent overwrite.
 *
 * Every mutating transition requires the group leader. On success each
 * transition publishes a fire-and-forget notification to the group's members.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ajopool/rosca-service/internal/domain"
	"github.com/ajopool/rosca-service/internal/store"
)

// nextDueDate computes when contributions for a cycle starting now fall due.
func nextDueDate(frequency string, from time.Time) time.Time {
	switch frequency {
	case domain.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// StartCycle creates the group's next cycle. The next number is the highest
// existing number plus one; starting past the group's duration is refused, as
// is starting while any cycle is active. The cycle is created active unless the
// caller defers it or the immediately preceding cycle was left skipped, in
// which case it is created upcoming and must be activated explicitly.
func (s *Service) StartCycle(ctx context.Context, actorUserID, groupID uuid.UUID, deferred bool) (*domain.Cycle, error) {
	group, err := s.repo.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	actor, err := s.requireLeader(ctx, groupID, actorUserID)
	if err != nil {
		return nil, err
	}
	if group.Status == domain.GroupStatusCompleted {
		return nil, ErrGroupCompleted
	}

	maxNumber, err := s.repo.MaxCycleNumber(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to determine next cycle number: %w", err)
	}
	next := maxNumber + 1
	if next > group.Duration {
		return nil, ErrAllCyclesCompleted
	}

	// First check, advisory only; the store's unique index is the authority and
	// catches the race between two concurrent starters.
	if _, err := s.repo.FindActiveCycleByGroupID(ctx, groupID); err == nil {
		return nil, store.ErrActiveCycleExists
	} else if !errors.Is(err, store.ErrCycleNotFound) {
		return nil, err
	}

	members, err := s.repo.FindEligibleMembersByGroupID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load eligible members: %w", err)
	}
	recipient, err := resolveRecipient(members, next)
	if err != nil {
		return nil, err
	}

	status := domain.CycleStatusActive
	if deferred {
		status = domain.CycleStatusUpcoming
	} else if next > 1 {
		prev, err := s.repo.FindCycleByNumber(ctx, groupID, next-1)
		if err != nil && !errors.Is(err, store.ErrCycleNotFound) {
			return nil, err
		}
		// Resurrecting a skipped draw must stay an explicit decision, so a new
		// cycle behind one never claims the active slot on its own.
		if err == nil && prev.Status == domain.CycleStatusSkipped {
			status = domain.CycleStatusUpcoming
		}
	}

	now := time.Now().UTC()
	cycle := &domain.Cycle{
		ID:          uuid.New(),
		GroupID:     groupID,
		CycleNumber: next,
		Amount:      group.ContributionAmount * int64(len(members)),
		DueDate:     nextDueDate(group.Frequency, now),
		Status:      status,
	}
	assignRecipient(cycle, recipient)

	var payments []domain.Payment
	if status == domain.CycleStatusActive {
		cycle.StartedBy = &actor.ID
		cycle.StartedAt = &now
		payments = buildCyclePayments(cycle, members, group.ContributionAmount)
	}

	if err := s.repo.CreateCycleWithPayments(ctx, cycle, payments); err != nil {
		return nil, err
	}

	log.Printf("level=info component=cycles op=start group_id=%s cycle_number=%d status=%s recipient=%q", groupID, next, status, cycle.RecipientName)
	s.notify(ctx, groupID, memberUserIDs(members),
		fmt.Sprintf("Cycle %d has started", next),
		fmt.Sprintf("%s receives this cycle's pool. Contributions are due by %s.", cycle.RecipientName, cycle.DueDate.Format("2 Jan 2006")),
		"normal")
	return cycle, nil
}

// CompleteCycle finishes an active cycle. Completion is blocked while any of
// the cycle's payments remain pending or late; the error names the count of
// outstanding payers. On success the recipient's received total is credited and
// the group's current-cycle pointer cleared.
func (s *Service) CompleteCycle(ctx context.Context, actorUserID, cycleID uuid.UUID) (*domain.Cycle, error) {
	cycle, err := s.repo.FindCycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	actor, err := s.requireLeader(ctx, cycle.GroupID, actorUserID)
	if err != nil {
		return nil, err
	}
	if cycle.Status != domain.CycleStatusActive {
		return nil, fmt.Errorf("cannot complete cycle %d: %w: cycle is %s", cycle.CycleNumber, ErrInvalidCycleState, cycle.Status)
	}

	unpaid, err := s.repo.CountUnpaidPaymentsByCycleID(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to count outstanding payments: %w", err)
	}
	if unpaid > 0 {
		return nil, &UnpaidMembersError{Count: unpaid}
	}

	now := time.Now().UTC()
	if err := s.repo.CompleteCycleAtomic(ctx, cycle, actor.ID, now); err != nil {
		return nil, err
	}
	cycle.Status = domain.CycleStatusCompleted
	cycle.CompletedBy = &actor.ID
	cycle.CompletedAt = &now

	log.Printf("level=info component=cycles op=complete group_id=%s cycle_number=%d amount=%d", cycle.GroupID, cycle.CycleNumber, cycle.Amount)
	s.notify(ctx, cycle.GroupID, s.groupMemberUserIDs(ctx, cycle.GroupID),
		fmt.Sprintf("Cycle %d completed", cycle.CycleNumber),
		fmt.Sprintf("%s has received the pool for cycle %d.", cycle.RecipientName, cycle.CycleNumber),
		"normal")
	return cycle, nil
}

// SkipCycle forfeits a draw. Allowed from upcoming or active; the cycle's
// pending payments are deleted because a skipped cycle never settles.
func (s *Service) SkipCycle(ctx context.Context, actorUserID, cycleID uuid.UUID) (*domain.Cycle, error) {
	cycle, err := s.repo.FindCycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	actor, err := s.requireLeader(ctx, cycle.GroupID, actorUserID)
	if err != nil {
		return nil, err
	}
	if cycle.Status != domain.CycleStatusUpcoming && cycle.Status != domain.CycleStatusActive {
		return nil, fmt.Errorf("cannot skip cycle %d: %w: cycle is %s", cycle.CycleNumber, ErrInvalidCycleState, cycle.Status)
	}

	now := time.Now().UTC()
	if err := s.repo.SkipCycleAtomic(ctx, cycle, actor.ID, now); err != nil {
		return nil, err
	}
	cycle.Status = domain.CycleStatusSkipped
	cycle.SkippedBy = &actor.ID
	cycle.SkippedAt = &now

	log.Printf("level=info component=cycles op=skip group_id=%s cycle_number=%d", cycle.GroupID, cycle.CycleNumber)
	s.notify(ctx, cycle.GroupID, s.groupMemberUserIDs(ctx, cycle.GroupID),
		fmt.Sprintf("Cycle %d skipped", cycle.CycleNumber),
		fmt.Sprintf("Cycle %d has been skipped by the leader. Its pending contributions were cancelled.", cycle.CycleNumber),
		"normal")
	return cycle, nil
}

// ReactivateCycle resurrects a skipped draw. If a different cycle currently
// holds the active slot it is force-skipped first, pending payments deleted and
// members told of the involuntary skip, in the same transaction, because the
// single-active-cycle invariant is per-group and the old draw must yield the
// slot before the target can take it. The payment batch is rebuilt for the full
// eligible membership on every reactivation; the store's conflict-free insert
// keeps payments that survived the skip (a late contribution, for instance)
// from being duplicated while the missing ones are restored.
func (s *Service) ReactivateCycle(ctx context.Context, actorUserID, cycleID uuid.UUID) (*domain.Cycle, error) {
	cycle, err := s.repo.FindCycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	actor, err := s.requireLeader(ctx, cycle.GroupID, actorUserID)
	if err != nil {
		return nil, err
	}
	if cycle.Status != domain.CycleStatusSkipped {
		return nil, fmt.Errorf("cannot reactivate cycle %d: %w: cycle is %s", cycle.CycleNumber, ErrInvalidCycleState, cycle.Status)
	}

	group, err := s.repo.FindGroupByID(ctx, cycle.GroupID)
	if err != nil {
		return nil, err
	}

	var forced *domain.Cycle
	if active, err := s.repo.FindActiveCycleByGroupID(ctx, cycle.GroupID); err == nil {
		forced = active
	} else if !errors.Is(err, store.ErrCycleNotFound) {
		return nil, err
	}

	members, err := s.repo.FindEligibleMembersByGroupID(ctx, cycle.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load eligible members: %w", err)
	}
	payments := buildCyclePayments(cycle, members, group.ContributionAmount)

	var forcedID *uuid.UUID
	if forced != nil {
		forcedID = &forced.ID
	}
	now := time.Now().UTC()
	if err := s.repo.ReactivateCycleAtomic(ctx, cycle, forcedID, payments, actor.ID, now); err != nil {
		return nil, err
	}
	cycle.Status = domain.CycleStatusActive
	cycle.StartedBy = &actor.ID
	cycle.StartedAt = &now
	cycle.SkippedBy = nil
	cycle.SkippedAt = nil

	recipients := s.groupMemberUserIDs(ctx, cycle.GroupID)
	if forced != nil {
		log.Printf("level=info component=cycles op=forced_skip group_id=%s cycle_number=%d yielded_to=%d", cycle.GroupID, forced.CycleNumber, cycle.CycleNumber)
		s.notify(ctx, cycle.GroupID, recipients,
			fmt.Sprintf("Cycle %d skipped", forced.CycleNumber),
			fmt.Sprintf("Cycle %d was skipped to make room for reactivating cycle %d.", forced.CycleNumber, cycle.CycleNumber),
			"high")
	}
	log.Printf("level=info component=cycles op=reactivate group_id=%s cycle_number=%d payment_batch=%d", cycle.GroupID, cycle.CycleNumber, len(payments))
	s.notify(ctx, cycle.GroupID, recipients,
		fmt.Sprintf("Cycle %d reactivated", cycle.CycleNumber),
		fmt.Sprintf("%s receives this cycle's pool. Contributions are open again.", cycle.RecipientName),
		"normal")
	return cycle, nil
}

// DeleteCycle removes a cycle outright. An active cycle must be skipped or
// completed first, and a cycle anyone has paid toward is part of the group's
// accounting history and cannot be deleted.
func (s *Service) DeleteCycle(ctx context.Context, actorUserID, cycleID uuid.UUID) error {
	cycle, err := s.repo.FindCycleByID(ctx, cycleID)
	if err != nil {
		return err
	}
	if _, err := s.requireLeader(ctx, cycle.GroupID, actorUserID); err != nil {
		return err
	}
	if cycle.Status == domain.CycleStatusActive {
		return fmt.Errorf("cannot delete cycle %d: %w: cycle is %s", cycle.CycleNumber, ErrInvalidCycleState, cycle.Status)
	}

	settled, err := s.repo.CountSettledPaymentsByCycleID(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("failed to count settled payments: %w", err)
	}
	if settled > 0 {
		return ErrCycleHasSettledPayments
	}

	if err := s.repo.DeleteCycleAtomic(ctx, cycle); err != nil {
		return err
	}
	log.Printf("level=info component=cycles op=delete group_id=%s cycle_number=%d", cycle.GroupID, cycle.CycleNumber)
	return nil
}

// ListGroupCycles returns a group's cycles with freshly resolved recipient
// display names. The frozen name on each cycle row is left untouched; the view
// simply prefers the member's current name when the member still exists.
func (s *Service) ListGroupCycles(ctx context.Context, actorUserID, groupID uuid.UUID) ([]domain.CycleView, error) {
	if _, err := s.requireMember(ctx, groupID, actorUserID); err != nil {
		return nil, err
	}
	cycles, err := s.repo.FindCyclesByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.FindMembersByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Member, len(members))
	for i := range members {
		byID[members[i].ID] = &members[i]
	}

	views := make([]domain.CycleView, 0, len(cycles))
	for _, c := range cycles {
		name := c.RecipientName
		if c.RecipientMemberID != nil {
			if m, ok := byID[*c.RecipientMemberID]; ok {
				name = displayName(m, c.CycleNumber)
			}
		}
		if name == "" {
			name = fmt.Sprintf("Member #%d", c.CycleNumber)
		}
		views = append(views, domain.CycleView{Cycle: c, RecipientDisplayName: name})
	}
	return views, nil
}
