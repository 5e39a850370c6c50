/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for the identity, group, member, and payment lookup paths. It contains the SQL
 * queries against the `rosca_groups`, `group_members`, `cycles`, and `payments`
 * tables. Cycle lifecycle operations live in postgres_repository_cycles.go.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajopool/rosca-service/internal/domain"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrCycleNotFound   = errors.New("cycle not found")
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrActiveCycleExists is returned when an insert or reactivation loses the
	// race on the one-active-cycle-per-group partial unique index.
	ErrActiveCycleExists = errors.New("group already has an active cycle")
	// ErrCycleStateChanged is returned when a guarded update matched zero rows
	// because the cycle's status moved underneath the caller.
	ErrCycleStateChanged = errors.New("cycle state changed concurrently")
	// ErrPaymentStateChanged is the payment-row equivalent: a status attestation
	// lost the race against a concurrent one.
	ErrPaymentStateChanged = errors.New("payment state changed concurrently")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserIDByClerkUserID resolves the internal UUID from a Clerk user id.
func (r *PostgresRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return id, nil
}

const groupColumns = `
	id, name, contribution_amount, frequency, duration, start_date, status,
	leader_user_id, sub_leader_user_ids, current_cycle_number, total_pool,
	member_count, created_at, updated_at`

func scanGroup(row pgx.Row) (*domain.Group, error) {
	var g domain.Group
	err := row.Scan(
		&g.ID, &g.Name, &g.ContributionAmount, &g.Frequency, &g.Duration,
		&g.StartDate, &g.Status, &g.LeaderUserID, &g.SubLeaderUserIDs,
		&g.CurrentCycleNumber, &g.TotalPool, &g.MemberCount,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}

// FindGroupByID retrieves a savings group by its id.
func (r *PostgresRepository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	query := `SELECT` + groupColumns + ` FROM rosca_groups WHERE id = $1`
	return scanGroup(r.db.QueryRow(ctx, query, groupID))
}

// memberColumns joins the linked profile so the resolver can apply its
// name-fallback chain without a second round-trip.
const memberColumns = `
	m.id, m.group_id, m.user_id, m.member_number, m.role, m.status,
	m.name, m.phone, m.pending_name, u.full_name,
	m.amount_paid, m.amount_received, m.created_at, m.updated_at`

const memberFrom = ` FROM group_members m LEFT JOIN users u ON u.id = m.user_id`

func scanMember(row pgx.Row) (*domain.Member, error) {
	var m domain.Member
	err := row.Scan(
		&m.ID, &m.GroupID, &m.UserID, &m.MemberNumber, &m.Role, &m.Status,
		&m.Name, &m.Phone, &m.PendingName, &m.GlobalName,
		&m.AmountPaid, &m.AmountReceived, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindMemberByID retrieves a membership record by its id.
func (r *PostgresRepository) FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error) {
	query := `SELECT` + memberColumns + memberFrom + ` WHERE m.id = $1 AND m.status <> 'removed'`
	return scanMember(r.db.QueryRow(ctx, query, memberID))
}

// FindMemberByUserID retrieves a group's membership record for a global user.
func (r *PostgresRepository) FindMemberByUserID(ctx context.Context, groupID, userID uuid.UUID) (*domain.Member, error) {
	query := `SELECT` + memberColumns + memberFrom + ` WHERE m.group_id = $1 AND m.user_id = $2 AND m.status <> 'removed'`
	return scanMember(r.db.QueryRow(ctx, query, groupID, userID))
}

func (r *PostgresRepository) queryMembers(ctx context.Context, query string, args ...interface{}) ([]domain.Member, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// FindMembersByGroupID lists a group's non-removed members ordered by draw position.
func (r *PostgresRepository) FindMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	query := `SELECT` + memberColumns + memberFrom + ` WHERE m.group_id = $1 AND m.status <> 'removed' ORDER BY m.member_number`
	return r.queryMembers(ctx, query, groupID)
}

// FindEligibleMembersByGroupID lists the members who owe a contribution this
// cycle: status active or pending.
func (r *PostgresRepository) FindEligibleMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	query := `SELECT` + memberColumns + memberFrom + ` WHERE m.group_id = $1 AND m.status IN ('active', 'pending') ORDER BY m.member_number`
	return r.queryMembers(ctx, query, groupID)
}

// UpdateMemberAtomic applies a group-local profile edit and an optional role
// change in one transaction, so a request carrying both can never commit the
// role without the snapshot. Nil fields are left untouched. Promoting to
// sub_leader demotes any current sub_leader in the same transaction so the
// group never carries two.
func (r *PostgresRepository) UpdateMemberAtomic(ctx context.Context, memberID uuid.UUID, name, phone, role *string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if role != nil {
		if *role == domain.RoleSubLeader {
			demote := `
				UPDATE group_members
				SET role = 'member', updated_at = NOW()
				WHERE group_id = (SELECT group_id FROM group_members WHERE id = $1)
				  AND role = 'sub_leader' AND id <> $1
			`
			if _, err := tx.Exec(ctx, demote, memberID); err != nil {
				return err
			}
		}

		result, err := tx.Exec(ctx,
			`UPDATE group_members SET role = $2, updated_at = NOW() WHERE id = $1 AND status <> 'removed' AND role <> 'leader'`,
			memberID, *role,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrMemberNotFound
		}

		if err := refreshGroupRoleProjection(ctx, tx, memberID); err != nil {
			return err
		}
	}

	if name != nil || phone != nil {
		result, err := tx.Exec(ctx, `
			UPDATE group_members
			SET name = COALESCE($2, name), phone = COALESCE($3, phone), updated_at = NOW()
			WHERE id = $1 AND status <> 'removed'
		`, memberID, name, phone)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrMemberNotFound
		}
	}

	return tx.Commit(ctx)
}

// refreshGroupRoleProjection recomputes the cached sub-leader list on the group
// row from the member roles, which are the source of truth.
func refreshGroupRoleProjection(ctx context.Context, tx pgx.Tx, memberID uuid.UUID) error {
	query := `
		UPDATE rosca_groups g
		SET sub_leader_user_ids = COALESCE(
			(SELECT array_agg(m.user_id) FROM group_members m
			 WHERE m.group_id = g.id AND m.role = 'sub_leader' AND m.user_id IS NOT NULL AND m.status <> 'removed'),
			'{}'::uuid[]
		), updated_at = NOW()
		WHERE g.id = (SELECT group_id FROM group_members WHERE id = $1)
	`
	_, err := tx.Exec(ctx, query, memberID)
	return err
}

const paymentColumns = `
	id, cycle_id, member_id, group_id, amount, status, method, paid_at,
	verified_by, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.CycleID, &p.MemberID, &p.GroupID, &p.Amount, &p.Status,
		&p.Method, &p.PaidAt, &p.VerifiedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindPaymentByID retrieves a payment record by its id.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, paymentID))
}

// FindPaymentsByCycleID lists a cycle's payment records.
func (r *PostgresRepository) FindPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) ([]domain.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE cycle_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PostgresRepository) countPayments(ctx context.Context, query string, args ...interface{}) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountUnpaidPaymentsByCycleID counts payments still blocking cycle completion.
func (r *PostgresRepository) CountUnpaidPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) (int, error) {
	return r.countPayments(ctx, `SELECT COUNT(*) FROM payments WHERE cycle_id = $1 AND status IN ('pending', 'late')`, cycleID)
}

// CountSettledPaymentsByCycleID counts paid/late payments toward a cycle.
func (r *PostgresRepository) CountSettledPaymentsByCycleID(ctx context.Context, cycleID uuid.UUID) (int, error) {
	return r.countPayments(ctx, `SELECT COUNT(*) FROM payments WHERE cycle_id = $1 AND status IN ('paid', 'late')`, cycleID)
}

// CountSettledPaymentsByMemberID counts a member's paid/late payments across cycles.
func (r *PostgresRepository) CountSettledPaymentsByMemberID(ctx context.Context, memberID uuid.UUID) (int, error) {
	return r.countPayments(ctx, `SELECT COUNT(*) FROM payments WHERE member_id = $1 AND status IN ('paid', 'late')`, memberID)
}

// UpdatePaymentStatusAtomic updates a payment row and keeps the owning member's
// cumulative paid total consistent in the same transaction.
func (r *PostgresRepository) UpdatePaymentStatusAtomic(ctx context.Context, payment *domain.Payment, newStatus string, method *string, verifiedBy uuid.UUID, paidAt *time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, method = COALESCE($3, method), paid_at = $4, verified_by = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6
	`, payment.ID, newStatus, method, paidAt, verifiedBy, payment.Status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// The row was just loaded; zero rows means the old-status predicate
		// failed, not that the payment vanished.
		return ErrPaymentStateChanged
	}

	var delta int64
	if payment.Status != domain.PaymentStatusPaid && newStatus == domain.PaymentStatusPaid {
		delta = payment.Amount
	} else if payment.Status == domain.PaymentStatusPaid && newStatus != domain.PaymentStatusPaid {
		delta = -payment.Amount
	}
	if delta != 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE group_members SET amount_paid = amount_paid + $2, updated_at = NOW() WHERE id = $1`,
			payment.MemberID, delta,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// MarkOverduePaymentsLate flips pending payments of active cycles whose due date
// passed the cutoff to late, returning the affected rows for reminder dispatch.
func (r *PostgresRepository) MarkOverduePaymentsLate(ctx context.Context, cutoff time.Time) ([]domain.Payment, error) {
	query := `
		UPDATE payments p
		SET status = 'late', updated_at = NOW()
		FROM cycles c
		WHERE p.cycle_id = c.id
		  AND p.status = 'pending'
		  AND c.status = 'active'
		  AND c.due_date < $1
		RETURNING p.id, p.cycle_id, p.member_id, p.group_id, p.amount, p.status,
		          p.method, p.paid_at, p.verified_by, p.created_at, p.updated_at
	`
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
