package app

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ajopool/rosca-service/internal/domain"
)

func TestResolveRecipient_MatchesDrawPosition(t *testing.T) {
	members := []domain.Member{
		{ID: uuid.New(), MemberNumber: 1, Status: domain.MemberStatusActive},
		{ID: uuid.New(), MemberNumber: 2, Status: domain.MemberStatusActive},
		{ID: uuid.New(), MemberNumber: 3, Status: domain.MemberStatusPending},
	}

	recipient, err := resolveRecipient(members, 3)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if recipient.ID != members[2].ID {
		t.Fatal("expected the member at draw position 3")
	}
}

func TestResolveRecipient_SkipsRemovedMembers(t *testing.T) {
	members := []domain.Member{
		{ID: uuid.New(), MemberNumber: 2, Status: domain.MemberStatusRemoved},
	}

	_, err := resolveRecipient(members, 2)
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestResolveRecipient_UnfilledPosition(t *testing.T) {
	members := []domain.Member{
		{ID: uuid.New(), MemberNumber: 1, Status: domain.MemberStatusActive},
	}

	_, err := resolveRecipient(members, 5)
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestDisplayName_FallbackChain(t *testing.T) {
	cases := []struct {
		name   string
		member *domain.Member
		want   string
	}{
		{
			name:   "group-local snapshot wins",
			member: &domain.Member{Name: strPtr("Mama Nkechi"), GlobalName: strPtr("Nkechi Obi"), PendingName: strPtr("Nkechi")},
			want:   "Mama Nkechi",
		},
		{
			name:   "linked profile name next",
			member: &domain.Member{GlobalName: strPtr("Nkechi Obi"), PendingName: strPtr("Nkechi")},
			want:   "Nkechi Obi",
		},
		{
			name:   "invitee-supplied name next",
			member: &domain.Member{PendingName: strPtr("Nkechi")},
			want:   "Nkechi",
		},
		{
			name:   "empty strings are skipped",
			member: &domain.Member{Name: strPtr(""), GlobalName: strPtr(""), PendingName: strPtr("Nkechi")},
			want:   "Nkechi",
		},
		{
			name:   "positional fallback",
			member: &domain.Member{},
			want:   "Member #4",
		},
		{
			name:   "nil member",
			member: nil,
			want:   "Member #4",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := displayName(tc.member, 4); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRecipientRef_Classification(t *testing.T) {
	userID := uuid.New()

	linked := recipientRef(&domain.Member{UserID: &userID})
	if linked.Kind != domain.RecipientLinked || linked.UserID != userID {
		t.Fatal("expected a linked recipient reference")
	}

	guest := recipientRef(&domain.Member{MemberNumber: 2, PendingName: strPtr("Tunde")})
	if guest.Kind != domain.RecipientGuest || guest.GuestName != "Tunde" {
		t.Fatalf("expected a guest recipient named Tunde, got kind=%d name=%q", guest.Kind, guest.GuestName)
	}

	if unassigned := recipientRef(nil); unassigned.Kind != domain.RecipientUnassigned {
		t.Fatal("expected an unassigned recipient reference")
	}
}
