/**
 * @description
 * Recipient resolution for cycle creation and display. A cycle's recipient is
 * the member holding the matching draw position; their display name follows a
 * fallback chain because a group may contain guests who never registered,
 * members whose group-local name was edited after linking, and members who
 * registered after a cycle was created. This file is the only place the
 * fallback logic lives.
 */

package app

import (
	"fmt"

	"github.com/ajopool/rosca-service/internal/domain"
)

// resolveRecipient returns the member whose draw position matches the cycle
// number, searching non-removed members only.
func resolveRecipient(members []domain.Member, cycleNumber int) (*domain.Member, error) {
	for i := range members {
		if members[i].MemberNumber == cycleNumber && members[i].Status != domain.MemberStatusRemoved {
			return &members[i], nil
		}
	}
	return nil, ErrRecipientNotFound
}

// recipientRef classifies a member into the recipient sum type: a linked
// identity, a guest known only by group-local details, or unassigned.
func recipientRef(m *domain.Member) domain.RecipientRef {
	if m == nil {
		return domain.RecipientRef{Kind: domain.RecipientUnassigned}
	}
	if m.UserID != nil {
		return domain.RecipientRef{Kind: domain.RecipientLinked, UserID: *m.UserID}
	}
	return domain.RecipientRef{Kind: domain.RecipientGuest, GuestName: displayName(m, m.MemberNumber)}
}

// assignRecipient stamps the resolved recipient onto a cycle. The member is
// classified through the recipient sum type so linked and guest recipients are
// handled as explicit cases instead of probing optional fields: only a linked
// recipient carries a user reference, a guest contributes only a frozen name.
func assignRecipient(cycle *domain.Cycle, m *domain.Member) {
	ref := recipientRef(m)
	switch ref.Kind {
	case domain.RecipientLinked:
		cycle.RecipientMemberID = &m.ID
		cycle.RecipientUserID = &ref.UserID
		cycle.RecipientName = displayName(m, cycle.CycleNumber)
	case domain.RecipientGuest:
		cycle.RecipientMemberID = &m.ID
		cycle.RecipientName = ref.GuestName
	default:
		cycle.RecipientName = displayName(nil, cycle.CycleNumber)
	}
}

// displayName resolves a member's display name: group-local snapshot name,
// then the linked profile's name, then the guest/invitee-supplied name, then a
// positional fallback. Cycle creation freezes this value onto the cycle;
// reads re-run it for an up-to-date name without touching the frozen one.
func displayName(m *domain.Member, position int) string {
	if m != nil {
		if m.Name != nil && *m.Name != "" {
			return *m.Name
		}
		if m.GlobalName != nil && *m.GlobalName != "" {
			return *m.GlobalName
		}
		if m.PendingName != nil && *m.PendingName != "" {
			return *m.PendingName
		}
	}
	return fmt.Sprintf("Member #%d", position)
}
