package service

import (
	"context"
	"errors"
	"fmt"

	"retail-service/internal/ledger"
	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"go.uber.org/zap"
)

// Outcome describes what a payment notification did
type Outcome string

const (
	OutcomeUnknownReference Outcome = "unknown_reference"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeCompleted        Outcome = "completed"
	OutcomeCancelled        Outcome = "cancelled"
)

// Notification is a gateway payment result. ResultCode 0 is success, anything else failure.
type Notification struct {
	ExternalReferenceID string
	ResultCode          int
}

// Succeeded reports whether the gateway confirmed the payment
func (n Notification) Succeeded() bool {
	return n.ResultCode == 0
}

// ReconcileResult is returned once the notification's transaction committed
type ReconcileResult struct {
	Outcome       Outcome                   `json:"outcome"`
	SaleID        int64                     `json:"sale_id,omitempty"`
	Discrepancies []models.StockDiscrepancy `json:"discrepancies,omitempty"`
}

// latePaidReasons maps the reason a pending payment was withdrawn with to the reason it
// moves to once a late success for it has been recorded
var latePaidReasons = map[string]string{
	models.FailureReasonExpired: models.FailureReasonExpiredPaid,
	models.FailureReasonDeleted: models.FailureReasonDeletedPaid,
}

// PaymentReconciler applies payment results to sales and debits their stock on confirmation
type PaymentReconciler struct {
	repo      store.Repository
	ledger    *ledger.StockLedger
	publisher EventPublisher
	logger    *zap.Logger
}

// NewPaymentReconciler creates a new payment reconciler
func NewPaymentReconciler(repo store.Repository, stockLedger *ledger.StockLedger, publisher EventPublisher) *PaymentReconciler {
	return &PaymentReconciler{
		repo:      repo,
		ledger:    stockLedger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// HandleNotification settles the payment named by n. Unknown references and payments that
// are already terminal are acknowledged without effect. An oversold line does not fail the
// call; it is recorded as a discrepancy and the sale still completes.
func (r *PaymentReconciler) HandleNotification(ctx context.Context, n Notification) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandleNotification")
	defer span.End()

	if n.ExternalReferenceID == "" {
		return nil, models.NewValidationError("external_reference_id", "is required")
	}

	var (
		result  *ReconcileResult
		payment *models.Payment
		sale    *models.Sale
		lines   []models.SaleLine
	)
	err := r.repo.WithTx(ctx, func(tx store.Tx) error {
		result = &ReconcileResult{}

		var err error
		payment, err = tx.LockPaymentByReference(ctx, n.ExternalReferenceID)
		if models.IsNotFound(err) {
			result.Outcome = OutcomeUnknownReference
			return nil
		}
		if err != nil {
			return err
		}
		result.SaleID = payment.SaleID

		if payment.Status.IsTerminal() {
			result.Outcome = OutcomeDuplicate
			return r.recordLatePayment(ctx, tx, payment, n, result)
		}

		sale, err = tx.LockSale(ctx, payment.SaleID)
		if err != nil {
			return err
		}
		if sale.Status.IsTerminal() {
			// payment left pending by an earlier partial failure; settle it and stop
			result.Outcome = OutcomeDuplicate
			status, reason := models.PaymentStatusFailed, models.FailureReasonDeclined
			if n.Succeeded() {
				status, reason = models.PaymentStatusSucceeded, ""
			}
			if err := tx.UpdatePaymentStatus(ctx, payment.ID, status, reason); err != nil {
				return err
			}
			if n.Succeeded() && sale.Status == models.SaleStatusCancelled {
				return r.createDiscrepancy(ctx, tx, result, &models.StockDiscrepancy{
					SaleID: sale.ID,
					Reason: models.DiscrepancyLatePayment,
				})
			}
			return nil
		}

		if !n.Succeeded() {
			result.Outcome = OutcomeCancelled
			if err := tx.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed, models.FailureReasonDeclined); err != nil {
				return fmt.Errorf("failed to update payment status: %w", err)
			}
			if err := tx.UpdateSaleStatus(ctx, sale.ID, models.SaleStatusCancelled); err != nil {
				return fmt.Errorf("failed to cancel sale: %w", err)
			}
			sale.Status = models.SaleStatusCancelled
			return nil
		}

		result.Outcome = OutcomeCompleted
		if err := tx.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusSucceeded, ""); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		if err := tx.UpdateSaleStatus(ctx, sale.ID, models.SaleStatusCompleted); err != nil {
			return fmt.Errorf("failed to complete sale: %w", err)
		}
		sale.Status = models.SaleStatusCompleted

		lines, err = tx.ListSaleLines(ctx, sale.ID)
		if err != nil {
			return fmt.Errorf("failed to list sale lines: %w", err)
		}
		if err := r.debitLines(ctx, tx, sale, lines, result); err != nil {
			return err
		}

		// lines edited after initiation leave the requested amount behind the total
		if !payment.Amount.Equal(sale.TotalAmount) {
			return r.createDiscrepancy(ctx, tx, result, &models.StockDiscrepancy{
				SaleID: sale.ID,
				Reason: models.DiscrepancyAmountMismatch,
			})
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to reconcile payment",
			zap.String("external_reference_id", n.ExternalReferenceID),
			zap.Error(err))
		return nil, err
	}

	util.PaymentNotificationsTotal.WithLabelValues(string(result.Outcome)).Inc()
	r.afterCommit(ctx, n, result, payment, sale, lines)
	return result, nil
}

// HandlePaymentResult adapts a payment result event from kafka
func (r *PaymentReconciler) HandlePaymentResult(ctx context.Context, event *models.PaymentResultEvent) error {
	_, err := r.HandleNotification(ctx, Notification{
		ExternalReferenceID: event.ExternalReferenceID,
		ResultCode:          event.ResultCode,
	})
	return err
}

// ListDiscrepancies lists recorded discrepancies for manual review, newest first
func (r *PaymentReconciler) ListDiscrepancies(ctx context.Context, limit int) ([]models.StockDiscrepancy, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.repo.ListDiscrepancies(ctx, limit)
}

// debitLines debits every line once. Products are locked in id order first.
func (r *PaymentReconciler) debitLines(ctx context.Context, tx store.Tx, sale *models.Sale, lines []models.SaleLine, result *ReconcileResult) error {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	if _, err := r.ledger.LockProducts(ctx, tx, ids); err != nil {
		return err
	}

	for _, line := range lines {
		_, err := r.ledger.Debit(ctx, tx, ledger.Entry{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Kind:      models.MovementSaleLine,
			Reference: ledger.Reference(models.MovementSaleLine, line.ID),
		})

		var insufficient *models.InsufficientStockError
		if errors.As(err, &insufficient) {
			lineID, productID := line.ID, line.ProductID
			if err := r.createDiscrepancy(ctx, tx, result, &models.StockDiscrepancy{
				SaleID:    sale.ID,
				LineID:    &lineID,
				ProductID: &productID,
				Requested: insufficient.Requested,
				Available: insufficient.Available,
				Reason:    models.DiscrepancyOversold,
			}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// recordLatePayment flags a success that arrives after the sale was expired or deleted.
// The failure reason is moved on so repeated notifications record it only once.
func (r *PaymentReconciler) recordLatePayment(ctx context.Context, tx store.Tx, payment *models.Payment, n Notification, result *ReconcileResult) error {
	paidReason, withdrawn := latePaidReasons[payment.FailureReason]
	if !n.Succeeded() || payment.Status != models.PaymentStatusFailed || !withdrawn {
		return nil
	}

	if err := r.createDiscrepancy(ctx, tx, result, &models.StockDiscrepancy{
		SaleID: payment.SaleID,
		Reason: models.DiscrepancyLatePayment,
	}); err != nil {
		return err
	}
	return tx.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed, paidReason)
}

func (r *PaymentReconciler) createDiscrepancy(ctx context.Context, tx store.Tx, result *ReconcileResult, d *models.StockDiscrepancy) error {
	if err := tx.CreateDiscrepancy(ctx, d); err != nil {
		return fmt.Errorf("failed to record stock discrepancy: %w", err)
	}
	result.Discrepancies = append(result.Discrepancies, *d)
	return nil
}

func (r *PaymentReconciler) afterCommit(ctx context.Context, n Notification, result *ReconcileResult, payment *models.Payment, sale *models.Sale, lines []models.SaleLine) {
	for _, d := range result.Discrepancies {
		util.StockDiscrepanciesTotal.WithLabelValues(string(d.Reason)).Inc()

		fields := []zap.Field{
			zap.Int64("discrepancy_id", d.ID),
			zap.Int64("sale_id", d.SaleID),
			zap.String("reason", string(d.Reason)),
			zap.String("external_reference_id", n.ExternalReferenceID),
		}
		if d.ProductID != nil {
			fields = append(fields,
				zap.Int64("product_id", *d.ProductID),
				zap.Int("requested", d.Requested),
				zap.Int("available", d.Available))
		}
		if d.Reason == models.DiscrepancyAmountMismatch {
			fields = append(fields,
				zap.String("paid_amount", payment.Amount.StringFixed(2)),
				zap.String("total_amount", sale.TotalAmount.StringFixed(2)))
		}
		r.logger.Error("Stock discrepancy requires manual review", fields...)

		event := &models.StockDiscrepancyEvent{
			BaseEvent:     models.NewBaseEvent(models.EventTypeStockDiscrepancy),
			DiscrepancyID: d.ID,
			SaleID:        d.SaleID,
			ProductID:     d.ProductID,
			Requested:     d.Requested,
			Available:     d.Available,
			Reason:        d.Reason,
		}
		if err := r.publisher.PublishStockDiscrepancy(ctx, event); err != nil {
			r.logger.Error("Failed to publish StockDiscrepancy event", zap.Error(err))
		}
	}

	switch result.Outcome {
	case OutcomeUnknownReference:
		r.logger.Warn("Payment notification for unknown reference",
			zap.String("external_reference_id", n.ExternalReferenceID))

	case OutcomeDuplicate:
		r.logger.Info("Duplicate payment notification ignored",
			zap.String("external_reference_id", n.ExternalReferenceID),
			zap.Int64("sale_id", result.SaleID))

	case OutcomeCompleted:
		util.SalesCompletedTotal.Inc()
		r.logger.Info("Sale completed",
			zap.Int64("sale_id", sale.ID),
			zap.String("external_reference_id", n.ExternalReferenceID))

		event := &models.SaleCompletedEvent{
			BaseEvent:   models.NewBaseEvent(models.EventTypeSaleCompleted),
			SaleID:      sale.ID,
			TotalAmount: sale.TotalAmount,
			Items:       saleLineData(lines),
		}
		if err := r.publisher.PublishSaleCompleted(ctx, event); err != nil {
			r.logger.Error("Failed to publish SaleCompleted event", zap.Error(err))
		}

	case OutcomeCancelled:
		util.SalesCancelledTotal.WithLabelValues(models.FailureReasonDeclined).Inc()
		r.logger.Info("Sale cancelled",
			zap.Int64("sale_id", sale.ID),
			zap.Int("result_code", n.ResultCode))

		event := &models.SaleCancelledEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeSaleCancelled),
			SaleID:    sale.ID,
			Reason:    models.FailureReasonDeclined,
		}
		if err := r.publisher.PublishSaleCancelled(ctx, event); err != nil {
			r.logger.Error("Failed to publish SaleCancelled event", zap.Error(err))
		}
	}
}

func saleLineData(lines []models.SaleLine) []models.LineItemData {
	data := make([]models.LineItemData, 0, len(lines))
	for _, l := range lines {
		data = append(data, models.LineItemData{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.PriceAtSale,
			LineTotal: l.LineTotal,
		})
	}
	return data
}
