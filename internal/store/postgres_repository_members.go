/**
 * @description
 * PostgreSQL implementation of the transactional membership operations: member
 * removal with its cascade of cleanups, and leadership transfer. The membership
 * guard in the app layer performs all the validation; these methods only execute
 * the already-approved side effects atomically.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RemoveMemberAtomic deletes the member's pending payments, optionally their
// empty recipient cycle, the member row itself, and refreshes the group's
// member stats — all in one transaction. The payment and cycle deletes are
// no-ops on retry, so a replay after a lost response is harmless.
func (r *PostgresRepository) RemoveMemberAtomic(ctx context.Context, memberID uuid.UUID, emptyCycleID *uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var groupID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT group_id FROM group_members WHERE id = $1`, memberID).Scan(&groupID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrMemberNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE member_id = $1 AND status = 'pending'`, memberID); err != nil {
		return err
	}

	if emptyCycleID != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE cycle_id = $1 AND status = 'pending'`, *emptyCycleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cycles WHERE id = $1 AND status = 'upcoming'`, *emptyCycleID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE id = $1`, memberID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rosca_groups g
		SET member_count = (SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id AND m.status <> 'removed'),
		    updated_at = NOW()
		WHERE g.id = $1
	`, groupID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// TransferLeadershipAtomic demotes the current leader to plain member, promotes
// the target to leader, updates the group's cached leader reference, and drops
// the target from the cached sub-leader list.
func (r *PostgresRepository) TransferLeadershipAtomic(ctx context.Context, groupID, currentLeaderMemberID, newLeaderMemberID, newLeaderUserID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`UPDATE group_members SET role = 'member', updated_at = NOW() WHERE id = $1 AND group_id = $2 AND role = 'leader'`,
		currentLeaderMemberID, groupID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}

	result, err = tx.Exec(ctx,
		`UPDATE group_members SET role = 'leader', updated_at = NOW() WHERE id = $1 AND group_id = $2 AND status <> 'removed'`,
		newLeaderMemberID, groupID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rosca_groups
		SET leader_user_id = $2,
		    sub_leader_user_ids = array_remove(sub_leader_user_ids, $2),
		    updated_at = NOW()
		WHERE id = $1
	`, groupID, newLeaderUserID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
