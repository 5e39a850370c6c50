/**
 * @description
 * This file defines the core domain models for the rosca-service. These structs
 * represent the four ledger entities (Group, Member, Cycle, Payment) and the data
 * transfer objects (DTOs) used throughout the service's business logic, database
 * interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (kobo), which avoids floating-point inaccuracies with financial data.
 * - A Member is a group-scoped record, distinct from a global user identity. Guest
 *   members have no linked user and carry only group-local contact details.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Group statuses.
const (
	GroupStatusForming   = "forming"
	GroupStatusActive    = "active"
	GroupStatusCompleted = "completed"
)

// Contribution frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Member roles. Exactly one leader per group, at most one sub_leader.
const (
	RoleLeader    = "leader"
	RoleSubLeader = "sub_leader"
	RoleMember    = "member"
)

// Member statuses.
const (
	MemberStatusActive  = "active"
	MemberStatusPending = "pending"
	MemberStatusRemoved = "removed"
)

// Cycle statuses. `completed` is terminal; `skipped` may be reactivated.
const (
	CycleStatusUpcoming  = "upcoming"
	CycleStatusActive    = "active"
	CycleStatusCompleted = "completed"
	CycleStatusSkipped   = "skipped"
)

// Payment statuses.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusLate    = "late"
)

// Group represents one savings circle. The `current_cycle_number` column is a
// cached projection of the cycle table: it always matches the single active
// cycle's number, or is NULL when no cycle is active.
type Group struct {
	ID                 uuid.UUID   `json:"id"`
	Name               string      `json:"name"`
	ContributionAmount int64       `json:"contribution_amount"` // in kobo, per member per cycle
	Frequency          string      `json:"frequency"`
	Duration           int         `json:"duration"` // total number of draw positions
	StartDate          time.Time   `json:"start_date"`
	Status             string      `json:"status"`
	LeaderUserID       uuid.UUID   `json:"leader_user_id"`
	SubLeaderUserIDs   []uuid.UUID `json:"sub_leader_user_ids,omitempty"`
	CurrentCycleNumber *int        `json:"current_cycle_number,omitempty"`
	TotalPool          int64       `json:"total_pool"` // contribution * duration
	MemberCount        int         `json:"member_count"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Member is a group-scoped membership record. UserID is nil for guest members
// who never registered a global account. Name is the group-local display name
// snapshot, which may diverge from the linked profile's name; GlobalName is the
// linked profile's name joined in at read time and never written by this service.
type Member struct {
	ID             uuid.UUID  `json:"id"`
	GroupID        uuid.UUID  `json:"group_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	MemberNumber   int        `json:"member_number"` // draw position, 1..duration
	Role           string     `json:"role"`
	Status         string     `json:"status"`
	Name           *string    `json:"name,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	PendingName    *string    `json:"pending_name,omitempty"` // guest/invitee-supplied name
	GlobalName     *string    `json:"global_name,omitempty"`
	AmountPaid     int64      `json:"amount_paid"`
	AmountReceived int64      `json:"amount_received"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Cycle is one draw period. RecipientName is frozen at creation time; the API
// re-resolves a fresh display name on reads without mutating the frozen value.
type Cycle struct {
	ID                uuid.UUID  `json:"id"`
	GroupID           uuid.UUID  `json:"group_id"`
	CycleNumber       int        `json:"cycle_number"`
	Amount            int64      `json:"amount"` // contribution * eligible member count
	DueDate           time.Time  `json:"due_date"`
	RecipientMemberID *uuid.UUID `json:"recipient_member_id,omitempty"`
	RecipientUserID   *uuid.UUID `json:"recipient_user_id,omitempty"`
	RecipientName     string     `json:"recipient_name"`
	Status            string     `json:"status"`
	StartedBy         *uuid.UUID `json:"started_by,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedBy       *uuid.UUID `json:"completed_by,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	SkippedBy         *uuid.UUID `json:"skipped_by,omitempty"`
	SkippedAt         *time.Time `json:"skipped_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Payment is one member's obligation for one cycle. Exactly one exists per
// (cycle, eligible member) pair while the cycle is active or completed.
type Payment struct {
	ID         uuid.UUID  `json:"id"`
	CycleID    uuid.UUID  `json:"cycle_id"`
	MemberID   uuid.UUID  `json:"member_id"`
	GroupID    uuid.UUID  `json:"group_id"`
	Amount     int64      `json:"amount"`
	Status     string     `json:"status"`
	Method     *string    `json:"method,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	VerifiedBy *uuid.UUID `json:"verified_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RecipientKind discriminates the RecipientRef sum type.
type RecipientKind int

const (
	RecipientUnassigned RecipientKind = iota
	RecipientLinked
	RecipientGuest
)

// RecipientRef identifies who receives a cycle's pool: a linked global identity,
// a guest known only by group-local details, or nobody yet.
type RecipientRef struct {
	Kind      RecipientKind
	UserID    uuid.UUID // valid when Kind == RecipientLinked
	GuestName string    // valid when Kind == RecipientGuest
}

// StartCycleRequest is the DTO for starting the next cycle of a group.
type StartCycleRequest struct {
	// Deferred creates the cycle as `upcoming` instead of `active`.
	Deferred bool `json:"deferred"`
}

// UpdateMemberRequest carries the editable group-local member fields. Role
// changes are leader-only and limited to member <-> sub_leader.
type UpdateMemberRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Role  *string `json:"role,omitempty"`
}

// TransferLeadershipRequest names the member who should become leader.
type TransferLeadershipRequest struct {
	NewLeaderMemberID uuid.UUID `json:"new_leader_member_id"`
}

// MarkPaymentRequest is the DTO for attesting a payment's status.
type MarkPaymentRequest struct {
	Status string  `json:"status"`
	Method *string `json:"method,omitempty"`
}

// CycleView is a Cycle plus the freshly re-resolved recipient display name.
type CycleView struct {
	Cycle
	RecipientDisplayName string `json:"recipient_display_name"`
}
