package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ajopool/rosca-service/internal/domain"
	"github.com/ajopool/rosca-service/internal/store"
)

type cycleRepoStub struct {
	store.Repository

	group       *domain.Group
	actor       *domain.Member
	members     []domain.Member
	cycles      map[uuid.UUID]*domain.Cycle
	activeCycle *domain.Cycle
	maxNumber   int
	prevCycle   *domain.Cycle

	unpaidCount  int
	settledCount int

	createdCycle    *domain.Cycle
	createdPayments []domain.Payment

	completeErr      error
	completeCalled   bool
	skipCalled       bool
	reactivateCalled bool
	deleteCalled     bool
	forcedSkipID     *uuid.UUID
	reactivatedBatch []domain.Payment
}

func (s *cycleRepoStub) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	if s.group == nil {
		return nil, store.ErrGroupNotFound
	}
	return s.group, nil
}

func (s *cycleRepoStub) FindMemberByUserID(ctx context.Context, groupID, userID uuid.UUID) (*domain.Member, error) {
	if s.actor == nil || s.actor.UserID == nil || *s.actor.UserID != userID {
		return nil, store.ErrMemberNotFound
	}
	return s.actor, nil
}

func (s *cycleRepoStub) FindMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	return s.members, nil
}

func (s *cycleRepoStub) FindEligibleMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	return s.members, nil
}

func (s *cycleRepoStub) MaxCycleNumber(ctx context.Context, groupID uuid.UUID) (int, error) {
	return s.maxNumber, nil
}

func (s *cycleRepoStub) FindActiveCycleByGroupID(ctx context.Context, groupID uuid.UUID) (*domain.Cycle, error) {
	if s.activeCycle == nil {
		return nil, store.ErrCycleNotFound
	}
	return s.activeCycle, nil
}

func (s *cycleRepoStub) FindCycleByID(ctx context.Context, cycleID uuid.UUID) (*domain.Cycle, error) {
	if c, ok := s.cycles[cycleID]; ok {
		return c, nil
	}
	return nil, store.ErrCycleNotFound
}

func (s *cycleRepoStub) FindCycleByNumber(ctx context.Context, groupID uuid.UUID, cycleNumber int) (*domain.Cycle, error) {
	if s.prevCycle != nil && s.prevCycle.CycleNumber == cycleNumber {
		return s.prevCycle, nil
	}
	return nil, store.ErrCycleNotFound
}

func (s *cycleRepoStub) CountUnpaidPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) (int, error) {
	return s.unpaidCount, nil
}

func (s *cycleRepoStub) CountSettledPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) (int, error) {
	return s.settledCount, nil
}

func (s *cycleRepoStub) CreateCycleWithPayments(ctx context.Context, cycle *domain.Cycle, payments []domain.Payment) error {
	s.createdCycle = cycle
	s.createdPayments = payments
	return nil
}

func (s *cycleRepoStub) CompleteCycleAtomic(ctx context.Context, cycle *domain.Cycle, completedBy uuid.UUID, completedAt time.Time) error {
	s.completeCalled = true
	return s.completeErr
}

func (s *cycleRepoStub) SkipCycleAtomic(ctx context.Context, cycle *domain.Cycle, skippedBy uuid.UUID, skippedAt time.Time) error {
	s.skipCalled = true
	return nil
}

func (s *cycleRepoStub) ReactivateCycleAtomic(ctx context.Context, target *domain.Cycle, forcedSkipCycleID *uuid.UUID, payments []domain.Payment, actor uuid.UUID, at time.Time) error {
	s.reactivateCalled = true
	s.forcedSkipID = forcedSkipCycleID
	s.reactivatedBatch = payments
	return nil
}

func (s *cycleRepoStub) DeleteCycleAtomic(ctx context.Context, cycle *domain.Cycle) error {
	s.deleteCalled = true
	return nil
}

func strPtr(s string) *string { return &s }

func newCycleFixture(memberCount int) (*cycleRepoStub, uuid.UUID) {
	leaderUserID := uuid.New()
	groupID := uuid.New()
	leader := domain.Member{
		ID:           uuid.New(),
		GroupID:      groupID,
		UserID:       &leaderUserID,
		MemberNumber: 1,
		Role:         domain.RoleLeader,
		Status:       domain.MemberStatusActive,
		Name:         strPtr("Ada"),
	}
	members := []domain.Member{leader}
	for i := 2; i <= memberCount; i++ {
		userID := uuid.New()
		members = append(members, domain.Member{
			ID:           uuid.New(),
			GroupID:      groupID,
			UserID:       &userID,
			MemberNumber: i,
			Role:         domain.RoleMember,
			Status:       domain.MemberStatusActive,
		})
	}
	repo := &cycleRepoStub{
		group: &domain.Group{
			ID:                 groupID,
			Name:               "Market Women Ajo",
			ContributionAmount: 500000,
			Frequency:          domain.FrequencyMonthly,
			Duration:           memberCount,
			Status:             domain.GroupStatusActive,
			LeaderUserID:       leaderUserID,
			MemberCount:        memberCount,
		},
		actor:   &members[0],
		members: members,
		cycles:  make(map[uuid.UUID]*domain.Cycle),
	}
	return repo, leaderUserID
}

func TestStartCycle_CreatesActiveCycleWithPayments(t *testing.T) {
	repo, leaderUserID := newCycleFixture(4)
	svc := NewService(repo, nil)

	cycle, err := svc.StartCycle(context.Background(), leaderUserID, repo.group.ID, false)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cycle.CycleNumber != 1 {
		t.Fatalf("expected cycle number 1, got %d", cycle.CycleNumber)
	}
	if cycle.Status != domain.CycleStatusActive {
		t.Fatalf("expected active cycle, got %s", cycle.Status)
	}
	if cycle.Amount != 500000*4 {
		t.Fatalf("expected pool of 2000000 kobo, got %d", cycle.Amount)
	}
	if cycle.RecipientName != "Ada" {
		t.Fatalf("expected recipient Ada, got %q", cycle.RecipientName)
	}
	if len(repo.createdPayments) != 4 {
		t.Fatalf("expected one payment per member, got %d", len(repo.createdPayments))
	}
	for _, p := range repo.createdPayments {
		if p.Status != domain.PaymentStatusPending {
			t.Fatalf("expected pending payment, got %s", p.Status)
		}
		if p.Amount != 500000 {
			t.Fatalf("expected contribution amount 500000, got %d", p.Amount)
		}
	}
	if cycle.StartedBy == nil || *cycle.StartedBy != repo.actor.ID {
		t.Fatal("expected start metadata stamped with the leader's member id")
	}
}

func TestStartCycle_DeferredCreatesUpcomingWithoutPayments(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	svc := NewService(repo, nil)

	cycle, err := svc.StartCycle(context.Background(), leaderUserID, repo.group.ID, true)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cycle.Status != domain.CycleStatusUpcoming {
		t.Fatalf("expected upcoming cycle, got %s", cycle.Status)
	}
	if len(repo.createdPayments) != 0 {
		t.Fatalf("expected no payments for an upcoming cycle, got %d", len(repo.createdPayments))
	}
	if cycle.StartedBy != nil || cycle.StartedAt != nil {
		t.Fatal("expected no start metadata on an upcoming cycle")
	}
}

func TestStartCycle_GuestRecipientCarriesNoUserReference(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	repo.maxNumber = 1
	repo.prevCycle = &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusCompleted}
	repo.members[1].UserID = nil
	repo.members[1].PendingName = strPtr("Tunde")
	svc := NewService(repo, nil)

	cycle, err := svc.StartCycle(context.Background(), leaderUserID, repo.group.ID, false)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cycle.RecipientMemberID == nil || *cycle.RecipientMemberID != repo.members[1].ID {
		t.Fatal("expected the guest member referenced by membership id")
	}
	if cycle.RecipientUserID != nil {
		t.Fatal("expected no user reference for a guest recipient")
	}
	if cycle.RecipientName != "Tunde" {
		t.Fatalf("expected the pending name frozen on the cycle, got %q", cycle.RecipientName)
	}
}

func TestStartCycle_RejectsWhileAnotherCycleActive(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	repo.maxNumber = 1
	repo.activeCycle = &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusActive}
	svc := NewService(repo, nil)

	_, err := svc.StartCycle(context.Background(), leaderUserID, repo.group.ID, false)
	if !errors.Is(err, store.ErrActiveCycleExists) {
		t.Fatalf("expected ErrActiveCycleExists, got %v", err)
	}
	if repo.createdCycle != nil {
		t.Fatal("did not expect a cycle to be created")
	}
}

func TestStartCycle_AfterSkippedPredecessorCreatesUpcoming(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	repo.maxNumber = 1
	repo.prevCycle = &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusSkipped}
	svc := NewService(repo, nil)

	cycle, err := svc.StartCycle(context.Background(), leaderUserID, repo.group.ID, false)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cycle.Status != domain.CycleStatusUpcoming {
		t.Fatalf("expected upcoming cycle behind a skipped draw, got %s", cycle.Status)
	}
	if len(repo.createdPayments) != 0 {
		t.Fatalf("expected no payments, got %d", len(repo.createdPayments))
	}
}

func TestStartCycle_RejectsBeyondGroupDuration(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	repo.maxNumber = 3
	svc := NewService(repo, nil)

	_, err := svc.StartCycle(context.Background(), leaderUserID, repo.group.ID, false)
	if !errors.Is(err, ErrAllCyclesCompleted) {
		t.Fatalf("expected ErrAllCyclesCompleted, got %v", err)
	}
}

func TestStartCycle_RejectsNonLeader(t *testing.T) {
	repo, _ := newCycleFixture(3)
	repo.actor = &repo.members[1]
	svc := NewService(repo, nil)

	_, err := svc.StartCycle(context.Background(), *repo.members[1].UserID, repo.group.ID, false)
	if !errors.Is(err, ErrNotLeader) {
		t.Fatalf("expected ErrNotLeader, got %v", err)
	}
}

func TestStartCycle_RejectsCompletedGroup(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	repo.group.Status = domain.GroupStatusCompleted
	svc := NewService(repo, nil)

	_, err := svc.StartCycle(context.Background(), leaderUserID, repo.group.ID, false)
	if !errors.Is(err, ErrGroupCompleted) {
		t.Fatalf("expected ErrGroupCompleted, got %v", err)
	}
}

func TestCompleteCycle_BlockedWhileContributionsOutstanding(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusActive}
	repo.cycles[cycle.ID] = cycle
	repo.unpaidCount = 2
	svc := NewService(repo, nil)

	_, err := svc.CompleteCycle(context.Background(), leaderUserID, cycle.ID)
	var unpaid *UnpaidMembersError
	if !errors.As(err, &unpaid) {
		t.Fatalf("expected UnpaidMembersError, got %v", err)
	}
	if unpaid.Count != 2 {
		t.Fatalf("expected 2 outstanding payers, got %d", unpaid.Count)
	}
	if repo.completeCalled {
		t.Fatal("did not expect the completion transaction to run")
	}
}

func TestCompleteCycle_RejectsNonActiveCycle(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusSkipped}
	repo.cycles[cycle.ID] = cycle
	svc := NewService(repo, nil)

	_, err := svc.CompleteCycle(context.Background(), leaderUserID, cycle.ID)
	if !errors.Is(err, ErrInvalidCycleState) {
		t.Fatalf("expected ErrInvalidCycleState, got %v", err)
	}
}

func TestCompleteCycle_StampsCompletionMetadata(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusActive, RecipientName: "Ada"}
	repo.cycles[cycle.ID] = cycle
	svc := NewService(repo, nil)

	out, err := svc.CompleteCycle(context.Background(), leaderUserID, cycle.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.completeCalled {
		t.Fatal("expected the completion transaction to run")
	}
	if out.Status != domain.CycleStatusCompleted {
		t.Fatalf("expected completed status, got %s", out.Status)
	}
	if out.CompletedBy == nil || *out.CompletedBy != repo.actor.ID {
		t.Fatal("expected completion stamped with the leader's member id")
	}
}

func TestCompleteCycle_SurfacesConcurrentStateChange(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusActive}
	repo.cycles[cycle.ID] = cycle
	repo.completeErr = store.ErrCycleStateChanged
	svc := NewService(repo, nil)

	_, err := svc.CompleteCycle(context.Background(), leaderUserID, cycle.ID)
	if !errors.Is(err, store.ErrCycleStateChanged) {
		t.Fatalf("expected ErrCycleStateChanged, got %v", err)
	}
}

func TestSkipCycle_AllowedFromUpcomingAndActive(t *testing.T) {
	for _, status := range []string{domain.CycleStatusUpcoming, domain.CycleStatusActive} {
		repo, leaderUserID := newCycleFixture(3)
		cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: status}
		repo.cycles[cycle.ID] = cycle
		svc := NewService(repo, nil)

		out, err := svc.SkipCycle(context.Background(), leaderUserID, cycle.ID)
		if err != nil {
			t.Fatalf("status %s: expected nil error, got %v", status, err)
		}
		if out.Status != domain.CycleStatusSkipped {
			t.Fatalf("status %s: expected skipped, got %s", status, out.Status)
		}
		if !repo.skipCalled {
			t.Fatalf("status %s: expected the skip transaction to run", status)
		}
	}
}

func TestSkipCycle_RejectsCompletedCycle(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusCompleted}
	repo.cycles[cycle.ID] = cycle
	svc := NewService(repo, nil)

	_, err := svc.SkipCycle(context.Background(), leaderUserID, cycle.ID)
	if !errors.Is(err, ErrInvalidCycleState) {
		t.Fatalf("expected ErrInvalidCycleState, got %v", err)
	}
}

func TestReactivateCycle_ForceSkipsTheActiveHolder(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	target := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusSkipped}
	holder := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 2, Status: domain.CycleStatusActive}
	repo.cycles[target.ID] = target
	repo.activeCycle = holder
	svc := NewService(repo, nil)

	out, err := svc.ReactivateCycle(context.Background(), leaderUserID, target.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.reactivateCalled {
		t.Fatal("expected the reactivation transaction to run")
	}
	if repo.forcedSkipID == nil || *repo.forcedSkipID != holder.ID {
		t.Fatal("expected the active holder to be force-skipped in the same transaction")
	}
	if out.Status != domain.CycleStatusActive {
		t.Fatalf("expected active status, got %s", out.Status)
	}
	if out.SkippedBy != nil || out.SkippedAt != nil {
		t.Fatal("expected skip metadata cleared on reactivation")
	}
}

// A payment that survived the skip (a late contribution, say) must not shrink
// the batch: the full eligible set is rebuilt every time and the store's
// conflict-free insert drops the duplicates.
func TestReactivateCycle_RebuildsFullPaymentBatch(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	target := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusSkipped}
	repo.cycles[target.ID] = target
	svc := NewService(repo, nil)

	if _, err := svc.ReactivateCycle(context.Background(), leaderUserID, target.ID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.forcedSkipID != nil {
		t.Fatal("did not expect a forced skip with no active holder")
	}
	if len(repo.reactivatedBatch) != 3 {
		t.Fatalf("expected a payment per eligible member, got %d", len(repo.reactivatedBatch))
	}
	for _, p := range repo.reactivatedBatch {
		if p.CycleID != target.ID || p.Status != domain.PaymentStatusPending {
			t.Fatalf("expected a pending payment bound to the target cycle, got cycle=%s status=%s", p.CycleID, p.Status)
		}
	}
}

func TestReactivateCycle_RejectsNonSkippedCycle(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusUpcoming}
	repo.cycles[cycle.ID] = cycle
	svc := NewService(repo, nil)

	_, err := svc.ReactivateCycle(context.Background(), leaderUserID, cycle.ID)
	if !errors.Is(err, ErrInvalidCycleState) {
		t.Fatalf("expected ErrInvalidCycleState, got %v", err)
	}
}

func TestDeleteCycle_RejectsActiveCycle(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusActive}
	repo.cycles[cycle.ID] = cycle
	svc := NewService(repo, nil)

	err := svc.DeleteCycle(context.Background(), leaderUserID, cycle.ID)
	if !errors.Is(err, ErrInvalidCycleState) {
		t.Fatalf("expected ErrInvalidCycleState, got %v", err)
	}
}

func TestDeleteCycle_RejectsSettledPayments(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusSkipped}
	repo.cycles[cycle.ID] = cycle
	repo.settledCount = 1
	svc := NewService(repo, nil)

	err := svc.DeleteCycle(context.Background(), leaderUserID, cycle.ID)
	if !errors.Is(err, ErrCycleHasSettledPayments) {
		t.Fatalf("expected ErrCycleHasSettledPayments, got %v", err)
	}
	if repo.deleteCalled {
		t.Fatal("did not expect the delete transaction to run")
	}
}

func TestDeleteCycle_DeletesUntouchedCycle(t *testing.T) {
	repo, leaderUserID := newCycleFixture(3)
	cycle := &domain.Cycle{ID: uuid.New(), GroupID: repo.group.ID, CycleNumber: 1, Status: domain.CycleStatusUpcoming}
	repo.cycles[cycle.ID] = cycle
	svc := NewService(repo, nil)

	if err := svc.DeleteCycle(context.Background(), leaderUserID, cycle.ID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.deleteCalled {
		t.Fatal("expected the delete transaction to run")
	}
}
