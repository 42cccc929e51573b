package service

import (
	"context"
	"fmt"

	"retail-service/internal/ledger"
	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DeliveryService records supplier deliveries
type DeliveryService struct {
	repo      store.Repository
	ledger    *ledger.StockLedger
	publisher EventPublisher
	logger    *zap.Logger
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(repo store.Repository, stockLedger *ledger.StockLedger, publisher EventPublisher) *DeliveryService {
	return &DeliveryService{
		repo:      repo,
		ledger:    stockLedger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// RecordDeliveryRequest represents a delivery from a supplier
type RecordDeliveryRequest struct {
	ProductID        int64           `json:"product_id" binding:"required"`
	SupplierID       *int64          `json:"supplier_id,omitempty"`
	QuantityBought   int             `json:"quantity_bought"`
	CostPricePerUnit decimal.Decimal `json:"cost_price_per_unit"`
}

// RecordDeliveryResponse is the stored delivery and the resulting stock
type RecordDeliveryResponse struct {
	Delivery *models.DeliveryRecord `json:"delivery"`
	StockQty int                    `json:"stock_qty"`
}

// RecordDelivery stores the delivery and credits its quantity in one transaction
func (s *DeliveryService) RecordDelivery(ctx context.Context, req *RecordDeliveryRequest) (*RecordDeliveryResponse, error) {
	ctx, span := util.StartSpan(ctx, "DeliveryService.RecordDelivery")
	defer span.End()

	if req.ProductID <= 0 {
		return nil, models.NewValidationError("product_id", "is required")
	}
	if req.QuantityBought <= 0 {
		return nil, models.NewValidationError("quantity_bought", "must be greater than zero")
	}
	if req.CostPricePerUnit.IsNegative() {
		return nil, models.NewValidationError("cost_price_per_unit", "must not be negative")
	}
	if !models.IsMoneyAmount(req.CostPricePerUnit) {
		return nil, models.NewValidationError("cost_price_per_unit", "must have at most 2 decimal places")
	}

	delivery := &models.DeliveryRecord{
		ProductID:        req.ProductID,
		SupplierID:       req.SupplierID,
		QuantityBought:   req.QuantityBought,
		CostPricePerUnit: req.CostPricePerUnit,
		TotalCost:        models.DeliveryTotalCost(req.QuantityBought, req.CostPricePerUnit),
	}

	var result ledger.Result
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockProduct(ctx, req.ProductID); err != nil {
			return err
		}
		if err := tx.CreateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("failed to create delivery: %w", err)
		}

		var err error
		result, err = s.ledger.Credit(ctx, tx, ledger.Entry{
			ProductID: delivery.ProductID,
			Quantity:  delivery.QuantityBought,
			Kind:      models.MovementDelivery,
			Reference: ledger.Reference(models.MovementDelivery, delivery.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	util.DeliveriesRecordedTotal.Inc()
	s.logger.Info("Delivery recorded",
		zap.Int64("delivery_id", delivery.ID),
		zap.Int64("product_id", delivery.ProductID),
		zap.Int("quantity", delivery.QuantityBought),
		zap.Int("stock_qty", result.StockQty))

	event := &models.DeliveryRecordedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeDeliveryRecorded),
		DeliveryID:     delivery.ID,
		ProductID:      delivery.ProductID,
		QuantityBought: delivery.QuantityBought,
		TotalCost:      delivery.TotalCost,
		StockQty:       result.StockQty,
	}
	if err := s.publisher.PublishDeliveryRecorded(ctx, event); err != nil {
		s.logger.Error("Failed to publish DeliveryRecorded event", zap.Error(err))
	}

	return &RecordDeliveryResponse{Delivery: delivery, StockQty: result.StockQty}, nil
}

// ListDeliveries lists a product's deliveries, newest first
func (s *DeliveryService) ListDeliveries(ctx context.Context, productID int64) ([]models.DeliveryRecord, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, productID)
}
