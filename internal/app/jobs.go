/**
 * @description
 * Scheduled job implementations for the rosca-service. The late-payment sweep
 * is the producer of the `late` payment status: once an active cycle's due date
 * plus the configured grace period has passed, its remaining pending payments
 * flip to late and the affected members get a reminder.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ajopool/rosca-service/pkg/rabbitmq"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service     *Service
	logger      *slog.Logger
	gracePeriod time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, logger *slog.Logger, gracePeriod time.Duration) *Jobs {
	return &Jobs{
		service:     service,
		logger:      logger,
		gracePeriod: gracePeriod,
	}
}

// SweepLatePayments marks overdue pending payments late and dispatches
// reminders to the members who fell behind.
func (j *Jobs) SweepLatePayments() {
	j.logger.Info("starting late payment sweep")
	ctx := context.Background()

	cutoff := time.Now().UTC().Add(-j.gracePeriod)
	flipped, err := j.service.repo.MarkOverduePaymentsLate(ctx, cutoff)
	if err != nil {
		j.logger.Error("late payment sweep failed", "error", err)
		return
	}
	if len(flipped) == 0 {
		j.logger.Info("late payment sweep finished", "flipped", 0)
		return
	}

	for _, p := range flipped {
		member, err := j.service.repo.FindMemberByID(ctx, p.MemberID)
		if err != nil || member.UserID == nil {
			continue
		}
		if j.service.notifier == nil {
			continue
		}
		event := rabbitmq.NotificationEvent{
			GroupID:    p.GroupID,
			Recipients: []uuid.UUID{*member.UserID},
			Title:      "Contribution overdue",
			Message:    "Your contribution for the current cycle is overdue. Please pay as soon as possible.",
			Priority:   "high",
		}
		if err := j.service.notifier.PublishNotificationEvent(ctx, event); err != nil {
			j.logger.Warn("overdue reminder publish failed", "payment_id", p.ID, "error", err)
		}
	}

	j.logger.Info("late payment sweep finished", "flipped", len(flipped))
}
