/**
 * @description
 * PostgreSQL implementation of the cycle lifecycle operations. Every multi-step
 * mutation here runs inside a single transaction so a cycle can never be observed
 * half-transitioned: activation and its payment batch commit together, a forced
 * skip and the reactivation it makes room for commit together, and the group's
 * current-cycle pointer is always updated in the same transaction as the cycle
 * row it mirrors.
 *
 * The single-active-cycle invariant is enforced by a partial unique index,
 * uq_cycles_one_active_per_group ON cycles (group_id) WHERE status = 'active'.
 * Concurrent activators race on that index; the loser gets ErrActiveCycleExists.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ajopool/rosca-service/internal/domain"
)

const activeCycleConstraint = "uq_cycles_one_active_per_group"

func isActiveCycleConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeCycleConstraint
}

const cycleColumns = `
	id, group_id, cycle_number, amount, due_date, recipient_member_id,
	recipient_user_id, recipient_name, status, started_by, started_at,
	completed_by, completed_at, skipped_by, skipped_at, created_at, updated_at`

func scanCycle(row pgx.Row) (*domain.Cycle, error) {
	var c domain.Cycle
	err := row.Scan(
		&c.ID, &c.GroupID, &c.CycleNumber, &c.Amount, &c.DueDate,
		&c.RecipientMemberID, &c.RecipientUserID, &c.RecipientName, &c.Status,
		&c.StartedBy, &c.StartedAt, &c.CompletedBy, &c.CompletedAt,
		&c.SkippedBy, &c.SkippedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCycleByID retrieves a cycle by its id.
func (r *PostgresRepository) FindCycleByID(ctx context.Context, cycleID uuid.UUID) (*domain.Cycle, error) {
	query := `SELECT` + cycleColumns + ` FROM cycles WHERE id = $1`
	return scanCycle(r.db.QueryRow(ctx, query, cycleID))
}

// FindCyclesByGroupID lists a group's cycles ordered by cycle number.
func (r *PostgresRepository) FindCyclesByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Cycle, error) {
	query := `SELECT` + cycleColumns + ` FROM cycles WHERE group_id = $1 ORDER BY cycle_number`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []domain.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *c)
	}
	return cycles, rows.Err()
}

// FindActiveCycleByGroupID returns the group's single active cycle, or
// ErrCycleNotFound when no cycle is active.
func (r *PostgresRepository) FindActiveCycleByGroupID(ctx context.Context, groupID uuid.UUID) (*domain.Cycle, error) {
	query := `SELECT` + cycleColumns + ` FROM cycles WHERE group_id = $1 AND status = 'active'`
	return scanCycle(r.db.QueryRow(ctx, query, groupID))
}

// FindCycleByNumber retrieves a group's cycle by its draw number.
func (r *PostgresRepository) FindCycleByNumber(ctx context.Context, groupID uuid.UUID, cycleNumber int) (*domain.Cycle, error) {
	query := `SELECT` + cycleColumns + ` FROM cycles WHERE group_id = $1 AND cycle_number = $2`
	return scanCycle(r.db.QueryRow(ctx, query, groupID, cycleNumber))
}

// MaxCycleNumber returns the highest cycle number ever created for the group,
// or zero when the group has no cycles yet.
func (r *PostgresRepository) MaxCycleNumber(ctx context.Context, groupID uuid.UUID) (int, error) {
	var max int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(cycle_number), 0) FROM cycles WHERE group_id = $1`, groupID).Scan(&max)
	return max, err
}

// insertPayments writes a payment batch. The (cycle_id, member_id) unique
// constraint plus ON CONFLICT DO NOTHING makes regeneration idempotent.
func insertPayments(ctx context.Context, tx pgx.Tx, payments []domain.Payment) error {
	for _, p := range payments {
		_, err := tx.Exec(ctx, `
			INSERT INTO payments (id, cycle_id, member_id, group_id, amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			ON CONFLICT (cycle_id, member_id) DO NOTHING
		`, p.ID, p.CycleID, p.MemberID, p.GroupID, p.Amount, p.Status)
		if err != nil {
			return err
		}
	}
	return nil
}

func setGroupCurrentCycle(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, cycleNumber *int) error {
	_, err := tx.Exec(ctx,
		`UPDATE rosca_groups SET current_cycle_number = $2, updated_at = NOW() WHERE id = $1`,
		groupID, cycleNumber,
	)
	return err
}

// CreateCycleWithPayments inserts a new cycle and, when it is created active,
// its payment batch and the group's current-cycle pointer, all in one
// transaction. A concurrent activation surfaces as ErrActiveCycleExists.
func (r *PostgresRepository) CreateCycleWithPayments(ctx context.Context, cycle *domain.Cycle, payments []domain.Payment) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO cycles (
			id, group_id, cycle_number, amount, due_date, recipient_member_id,
			recipient_user_id, recipient_name, status, started_by, started_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, cycle.ID, cycle.GroupID, cycle.CycleNumber, cycle.Amount, cycle.DueDate,
		cycle.RecipientMemberID, cycle.RecipientUserID, cycle.RecipientName,
		cycle.Status, cycle.StartedBy, cycle.StartedAt)
	if err != nil {
		if isActiveCycleConflict(err) {
			return ErrActiveCycleExists
		}
		return err
	}

	if cycle.Status == domain.CycleStatusActive {
		if err := insertPayments(ctx, tx, payments); err != nil {
			return err
		}
		if err := setGroupCurrentCycle(ctx, tx, cycle.GroupID, &cycle.CycleNumber); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// CompleteCycleAtomic marks an active cycle completed, credits the recipient's
// received total, clears the group's current-cycle pointer, and marks the group
// completed once its final cycle settles. The zero-unpaid precondition is part
// of the guarded update itself: the app layer's advisory count cannot see a
// payment reverted to pending between its check and this commit, so the UPDATE
// re-verifies and the loser gets ErrCycleStateChanged.
func (r *PostgresRepository) CompleteCycleAtomic(ctx context.Context, cycle *domain.Cycle, completedBy uuid.UUID, completedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE cycles
		SET status = 'completed', completed_by = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		  AND NOT EXISTS (
			SELECT 1 FROM payments p WHERE p.cycle_id = $1 AND p.status IN ('pending', 'late')
		  )
	`, cycle.ID, completedBy, completedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCycleStateChanged
	}

	if cycle.RecipientMemberID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE group_members SET amount_received = amount_received + $2, updated_at = NOW() WHERE id = $1`,
			*cycle.RecipientMemberID, cycle.Amount,
		); err != nil {
			return err
		}
	}

	if err := setGroupCurrentCycle(ctx, tx, cycle.GroupID, nil); err != nil {
		return err
	}

	// The group itself is done once every draw position has had a completed cycle.
	if _, err := tx.Exec(ctx, `
		UPDATE rosca_groups g
		SET status = 'completed', updated_at = NOW()
		WHERE g.id = $1
		  AND g.status <> 'completed'
		  AND (SELECT COUNT(*) FROM cycles c WHERE c.group_id = g.id AND c.status = 'completed') >= g.duration
	`, cycle.GroupID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SkipCycleAtomic stamps skip metadata, purges the cycle's pending payments (a
// skip forfeits that draw), and clears the group pointer if it referenced this
// cycle.
func (r *PostgresRepository) SkipCycleAtomic(ctx context.Context, cycle *domain.Cycle, skippedBy uuid.UUID, skippedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := skipCycleInTx(ctx, tx, cycle.ID, skippedBy, skippedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rosca_groups SET current_cycle_number = NULL, updated_at = NOW()
		WHERE id = $1 AND current_cycle_number = $2
	`, cycle.GroupID, cycle.CycleNumber); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func skipCycleInTx(ctx context.Context, tx pgx.Tx, cycleID uuid.UUID, skippedBy uuid.UUID, skippedAt time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE cycles
		SET status = 'skipped', skipped_by = $2, skipped_at = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('upcoming', 'active')
	`, cycleID, skippedBy, skippedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCycleStateChanged
	}

	_, err = tx.Exec(ctx, `DELETE FROM payments WHERE cycle_id = $1 AND status = 'pending'`, cycleID)
	return err
}

// ReactivateCycleAtomic force-skips the currently active cycle (when
// forcedSkipCycleID is non-nil), flips the target cycle from skipped back to
// active with fresh start metadata, inserts the regenerated payment batch, and
// repoints the group — one transaction, so the group is never observed with two
// active cycles or with none of the steps applied.
func (r *PostgresRepository) ReactivateCycleAtomic(ctx context.Context, target *domain.Cycle, forcedSkipCycleID *uuid.UUID, payments []domain.Payment, actor uuid.UUID, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if forcedSkipCycleID != nil {
		if err := skipCycleInTx(ctx, tx, *forcedSkipCycleID, actor, at); err != nil {
			return err
		}
	}

	result, err := tx.Exec(ctx, `
		UPDATE cycles
		SET status = 'active', started_by = $2, started_at = $3,
		    completed_by = NULL, completed_at = NULL,
		    skipped_by = NULL, skipped_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'skipped'
	`, target.ID, actor, at)
	if err != nil {
		if isActiveCycleConflict(err) {
			return ErrActiveCycleExists
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCycleStateChanged
	}

	if err := insertPayments(ctx, tx, payments); err != nil {
		return err
	}

	if err := setGroupCurrentCycle(ctx, tx, target.GroupID, &target.CycleNumber); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteCycleAtomic removes a non-active cycle and its remaining payments,
// clearing the group pointer if it referenced this cycle. The app layer has
// already verified no settled payments exist.
func (r *PostgresRepository) DeleteCycleAtomic(ctx context.Context, cycle *domain.Cycle) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE cycle_id = $1`, cycle.ID); err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `DELETE FROM cycles WHERE id = $1 AND status <> 'active'`, cycle.ID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCycleStateChanged
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rosca_groups SET current_cycle_number = NULL, updated_at = NOW()
		WHERE id = $1 AND current_cycle_number = $2
	`, cycle.GroupID, cycle.CycleNumber); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
