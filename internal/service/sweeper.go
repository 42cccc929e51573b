package service

import (
	"context"
	"time"

	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"go.uber.org/zap"
)

const defaultSweepBatch = 100

// PendingSaleSweeper cancels online sales whose payment never reported back
type PendingSaleSweeper struct {
	repo      store.Repository
	publisher EventPublisher
	timeout   time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewPendingSaleSweeper creates a sweeper that expires sales pending longer than timeout
func NewPendingSaleSweeper(repo store.Repository, publisher EventPublisher, timeout time.Duration) *PendingSaleSweeper {
	return &PendingSaleSweeper{
		repo:      repo,
		publisher: publisher,
		timeout:   timeout,
		batchSize: defaultSweepBatch,
		logger:    util.GetLogger(),
	}
}

// Sweep cancels up to one batch of sales created before now minus the timeout.
// It returns the number of sales cancelled.
func (s *PendingSaleSweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := util.StartSpan(ctx, "PendingSaleSweeper.Sweep")
	defer span.End()

	sales, err := s.repo.ListExpiredPendingSales(ctx, now.Add(-s.timeout), s.batchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, candidate := range sales {
		expired, err := s.expire(ctx, candidate.ID)
		if err != nil {
			s.logger.Error("Failed to expire pending sale",
				zap.Int64("sale_id", candidate.ID),
				zap.Error(err))
			continue
		}
		if !expired {
			continue
		}
		cancelled++

		util.SalesCancelledTotal.WithLabelValues(models.FailureReasonExpired).Inc()
		s.logger.Info("Pending sale expired",
			zap.Int64("sale_id", candidate.ID),
			zap.Time("created_at", candidate.CreatedAt))

		event := &models.SaleCancelledEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeSaleCancelled),
			SaleID:    candidate.ID,
			Reason:    models.FailureReasonExpired,
		}
		if err := s.publisher.PublishSaleCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish SaleCancelled event", zap.Error(err))
		}
	}
	return cancelled, nil
}

// expire cancels one sale if it is still pending once locked
func (s *PendingSaleSweeper) expire(ctx context.Context, saleID int64) (bool, error) {
	expired := false
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		sale, payment, err := lockSaleAndPayment(ctx, tx, saleID)
		if models.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusPending {
			return nil
		}

		if payment != nil && !payment.Status.IsTerminal() {
			if err := tx.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed, models.FailureReasonExpired); err != nil {
				return err
			}
		}
		if err := tx.UpdateSaleStatus(ctx, sale.ID, models.SaleStatusCancelled); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
