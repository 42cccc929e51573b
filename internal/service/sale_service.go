package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retail-service/internal/gateway"
	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"go.uber.org/zap"
)

// SaleConfig holds payment initiation settings for online sales
type SaleConfig struct {
	Currency       string
	CallbackURL    string
	GatewayTimeout time.Duration
}

// SaleService handles online sales. Stock is not touched until payment is confirmed.
type SaleService struct {
	repo      store.Repository
	gateway   PaymentGateway
	publisher EventPublisher
	cfg       SaleConfig
	logger    *zap.Logger
}

// NewSaleService creates a new sale service
func NewSaleService(repo store.Repository, gw PaymentGateway, publisher EventPublisher, cfg SaleConfig) *SaleService {
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &SaleService{
		repo:      repo,
		gateway:   gw,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// CreateSaleRequest represents an online checkout
type CreateSaleRequest struct {
	ClientID        *int64            `json:"client_id,omitempty"`
	ShippingAddress string            `json:"shipping_address"`
	PhoneNumber     string            `json:"phone_number"`
	Items           []LineItemRequest `json:"items" binding:"required,min=1"`
}

// SaleDetail is a sale with its lines and payment
type SaleDetail struct {
	*models.Sale
	Items   []models.SaleLine `json:"items"`
	Payment *models.Payment   `json:"payment,omitempty"`
}

// CreateSale persists a pending sale, initiates its payment and records the payment.
// The gateway is called outside any transaction. On gateway failure the sale is removed.
func (s *SaleService) CreateSale(ctx context.Context, req *CreateSaleRequest) (*SaleDetail, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CreateSale")
	defer span.End()

	if err := validateSaleRequest(req); err != nil {
		util.SalesFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	sale := &models.Sale{
		ClientID:        req.ClientID,
		Status:          models.SaleStatusPending,
		ShippingAddress: req.ShippingAddress,
		PhoneNumber:     req.PhoneNumber,
	}

	var lines []models.SaleLine
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}
		for _, item := range req.Items {
			if _, err := s.addLine(ctx, tx, sale.ID, item); err != nil {
				return err
			}
		}

		var err error
		lines, err = s.recomputeTotal(ctx, tx, sale)
		return err
	})
	if err != nil {
		var validation *models.ValidationError
		if models.IsNotFound(err) || errors.As(err, &validation) {
			util.SalesFailedTotal.WithLabelValues("invalid_items").Inc()
		} else {
			util.SalesFailedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, err
	}

	resp, err := s.initiatePayment(ctx, sale)
	if err != nil {
		util.SalesFailedTotal.WithLabelValues("gateway_error").Inc()
		s.logger.Error("Payment initiation failed",
			zap.Int64("sale_id", sale.ID),
			zap.Error(err))
		s.abandon(ctx, sale.ID)
		return nil, err
	}

	payment := &models.Payment{
		SaleID:              sale.ID,
		ExternalReferenceID: resp.ExternalReferenceID,
		Amount:              sale.TotalAmount,
		Currency:            s.cfg.Currency,
		Status:              models.PaymentStatusPending,
	}
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		util.SalesFailedTotal.WithLabelValues("db_error").Inc()
		s.logger.Error("Failed to record payment",
			zap.Int64("sale_id", sale.ID),
			zap.String("external_reference_id", resp.ExternalReferenceID),
			zap.Error(err))
		s.abandon(ctx, sale.ID)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	util.SalesCreatedTotal.Inc()
	s.logger.Info("Sale created",
		zap.Int64("sale_id", sale.ID),
		zap.String("total_amount", sale.TotalAmount.StringFixed(2)),
		zap.String("external_reference_id", payment.ExternalReferenceID))

	event := &models.SaleCreatedEvent{
		BaseEvent:           models.NewBaseEvent(models.EventTypeSaleCreated),
		SaleID:              sale.ID,
		TotalAmount:         sale.TotalAmount,
		ExternalReferenceID: payment.ExternalReferenceID,
	}
	if err := s.publisher.PublishSaleCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCreated event", zap.Error(err))
	}

	return &SaleDetail{Sale: sale, Items: lines, Payment: payment}, nil
}

// GetSale retrieves a sale with its lines and payment
func (s *SaleService) GetSale(ctx context.Context, id int64) (*SaleDetail, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.ListSaleLines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sale lines: %w", err)
	}

	payment, err := s.repo.GetPaymentBySaleID(ctx, id)
	if err != nil && !models.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return &SaleDetail{Sale: sale, Items: lines, Payment: payment}, nil
}

// AddSaleLine adds a line priced at the product's current selling price
func (s *SaleService) AddSaleLine(ctx context.Context, saleID int64, item LineItemRequest) (*SaleDetail, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.AddSaleLine")
	defer span.End()

	if err := validateItems([]LineItemRequest{item}); err != nil {
		return nil, err
	}

	return s.editPending(ctx, saleID, func(tx store.Tx) error {
		_, err := s.addLine(ctx, tx, saleID, item)
		return err
	})
}

// UpdateSaleLineQuantity changes a line's quantity. Its locked price is kept.
func (s *SaleService) UpdateSaleLineQuantity(ctx context.Context, saleID, lineID int64, quantity int) (*SaleDetail, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.UpdateSaleLineQuantity")
	defer span.End()

	if quantity <= 0 {
		return nil, models.NewValidationError("quantity", "must be greater than zero")
	}

	return s.editPending(ctx, saleID, func(tx store.Tx) error {
		line, err := tx.GetSaleLine(ctx, saleID, lineID)
		if err != nil {
			return err
		}
		line.Quantity = quantity
		line.LineTotal = models.LineTotal(quantity, line.PriceAtSale)
		return tx.UpdateSaleLine(ctx, line)
	})
}

// RemoveSaleLine deletes a line from a pending sale
func (s *SaleService) RemoveSaleLine(ctx context.Context, saleID, lineID int64) (*SaleDetail, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.RemoveSaleLine")
	defer span.End()

	return s.editPending(ctx, saleID, func(tx store.Tx) error {
		return tx.DeleteSaleLine(ctx, saleID, lineID)
	})
}

// DeleteSale withdraws a pending sale. A sale whose payment was already requested is
// cancelled rather than removed, its payment failed with reason deleted, so a success the
// payer still approves is recorded as a late payment. A sale without a payment is deleted
// together with its lines.
func (s *SaleService) DeleteSale(ctx context.Context, saleID int64) error {
	ctx, span := util.StartSpan(ctx, "SaleService.DeleteSale")
	defer span.End()

	cancelled := false
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		sale, payment, err := lockSaleAndPayment(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusPending {
			return &models.StateError{Entity: "sale", ID: sale.ID, Status: string(sale.Status)}
		}
		if payment == nil {
			return tx.DeleteSale(ctx, saleID)
		}

		if !payment.Status.IsTerminal() {
			if err := tx.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed, models.FailureReasonDeleted); err != nil {
				return fmt.Errorf("failed to update payment status: %w", err)
			}
		}
		if err := tx.UpdateSaleStatus(ctx, sale.ID, models.SaleStatusCancelled); err != nil {
			return fmt.Errorf("failed to cancel sale: %w", err)
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return err
	}

	if !cancelled {
		s.logger.Info("Sale deleted", zap.Int64("sale_id", saleID))
		return nil
	}

	util.SalesCancelledTotal.WithLabelValues(models.FailureReasonDeleted).Inc()
	s.logger.Info("Sale withdrawn with payment outstanding", zap.Int64("sale_id", saleID))

	event := &models.SaleCancelledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeSaleCancelled),
		SaleID:    saleID,
		Reason:    models.FailureReasonDeleted,
	}
	if err := s.publisher.PublishSaleCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCancelled event", zap.Error(err))
	}
	return nil
}

// editPending applies fn to a locked pending sale and recomputes its total in the same transaction
func (s *SaleService) editPending(ctx context.Context, saleID int64, fn func(tx store.Tx) error) (*SaleDetail, error) {
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusPending {
			return &models.StateError{Entity: "sale", ID: sale.ID, Status: string(sale.Status)}
		}
		if err := fn(tx); err != nil {
			return err
		}
		_, err = s.recomputeTotal(ctx, tx, sale)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *SaleService) addLine(ctx context.Context, tx store.Tx, saleID int64, item LineItemRequest) (*models.SaleLine, error) {
	product, err := tx.GetProduct(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, models.NewValidationError("product_id", fmt.Sprintf("product %d is not active", product.ID))
	}

	line := models.NewSaleLine(saleID, product.ID, item.Quantity, product.SellingPrice)
	if err := tx.CreateSaleLine(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to create sale line: %w", err)
	}
	return line, nil
}

// recomputeTotal sets the sale total to the exact sum of its current lines
func (s *SaleService) recomputeTotal(ctx context.Context, tx store.Tx, sale *models.Sale) ([]models.SaleLine, error) {
	lines, err := tx.ListSaleLines(ctx, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sale lines: %w", err)
	}
	sale.TotalAmount = models.SumSaleLines(lines)
	if err := tx.UpdateSaleTotal(ctx, sale.ID, sale.TotalAmount); err != nil {
		return nil, fmt.Errorf("failed to update sale total: %w", err)
	}
	return lines, nil
}

func (s *SaleService) initiatePayment(ctx context.Context, sale *models.Sale) (*gateway.PaymentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	resp, err := s.gateway.InitiatePayment(ctx, gateway.PaymentRequest{
		Amount:           sale.TotalAmount,
		Currency:         s.cfg.Currency,
		PhoneNumber:      sale.PhoneNumber,
		AccountReference: fmt.Sprintf("SALE_%d", sale.ID),
		CallbackURL:      s.cfg.CallbackURL,
		Description:      fmt.Sprintf("Payment for sale %d", sale.ID),
	})
	if err != nil {
		var gwErr *models.GatewayError
		if !errors.As(err, &gwErr) {
			err = &models.GatewayError{Err: err}
		}
		return nil, err
	}
	return resp, nil
}

// abandon removes a sale whose payment could not be set up. It runs even if ctx was cancelled.
func (s *SaleService) abandon(ctx context.Context, saleID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteSale(ctx, saleID)
	}); err != nil {
		s.logger.Error("Failed to remove abandoned sale",
			zap.Int64("sale_id", saleID),
			zap.Error(err))
	}
}

// lockSaleAndPayment locks the sale's payment (if any) before the sale, the same order
// the reconciler uses, so the two never wait on each other in reverse.
func lockSaleAndPayment(ctx context.Context, tx store.Tx, saleID int64) (*models.Sale, *models.Payment, error) {
	payment, err := tx.GetPaymentBySaleID(ctx, saleID)
	switch {
	case err == nil:
		payment, err = tx.LockPaymentByReference(ctx, payment.ExternalReferenceID)
		if err != nil {
			return nil, nil, err
		}
	case models.IsNotFound(err):
		payment = nil
	default:
		return nil, nil, err
	}

	sale, err := tx.LockSale(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	return sale, payment, nil
}

func validateSaleRequest(req *CreateSaleRequest) error {
	if req.ShippingAddress == "" {
		return models.NewValidationError("shipping_address", "is required")
	}
	if req.PhoneNumber == "" {
		return models.NewValidationError("phone_number", "is required")
	}
	return validateItems(req.Items)
}
