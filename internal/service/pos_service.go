package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"retail-service/internal/ledger"
	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"go.uber.org/zap"
)

// POSService handles walk-in sales. Stock is debited as each line is created.
type POSService struct {
	repo      store.Repository
	ledger    *ledger.StockLedger
	cache     IdempotencyCache
	publisher EventPublisher
	keyTTL    time.Duration
	logger    *zap.Logger
}

// NewPOSService creates a new POS service. cache may be nil.
func NewPOSService(
	repo store.Repository,
	stockLedger *ledger.StockLedger,
	cache IdempotencyCache,
	publisher EventPublisher,
	keyTTL time.Duration,
) *POSService {
	return &POSService{
		repo:      repo,
		ledger:    stockLedger,
		cache:     cache,
		publisher: publisher,
		keyTTL:    keyTTL,
		logger:    util.GetLogger(),
	}
}

// CreatePOSSaleRequest represents a till checkout
type CreatePOSSaleRequest struct {
	ClientID       *int64               `json:"client_id,omitempty"`
	PaymentMethod  models.PaymentMethod `json:"payment_method"`
	ServedBy       string               `json:"served_by"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	Items          []LineItemRequest    `json:"items" binding:"required,min=1"`
}

// POSSaleDetail is a POS sale with its lines
type POSSaleDetail struct {
	*models.POSSale
	Items []models.POSLine `json:"items"`
	// Replayed is set when the sale was returned for a repeated idempotency key
	Replayed bool `json:"-"`
}

// CreatePOSSale persists the sale, its lines and their debits in one transaction.
// If any debit fails nothing is persisted.
func (s *POSService) CreatePOSSale(ctx context.Context, req *CreatePOSSaleRequest) (*POSSaleDetail, error) {
	ctx, span := util.StartSpan(ctx, "POSService.CreatePOSSale")
	defer span.End()

	if err := s.validate(req); err != nil {
		util.POSSalesFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findByKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		lockKey := "pos_sale:" + req.IdempotencyKey
		if s.cache != nil {
			acquired, err := s.cache.AcquireLock(ctx, lockKey, 30*time.Second)
			if err != nil {
				s.logger.Warn("Failed to acquire idempotency lock", zap.Error(err))
			} else if !acquired {
				return nil, ErrRequestInProgress
			} else {
				defer func() {
					if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
						s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
					}
				}()
			}
		}
	}

	sale := &models.POSSale{
		ClientID:      req.ClientID,
		Status:        models.SaleStatusCompleted,
		PaymentMethod: req.PaymentMethod,
		ServedBy:      req.ServedBy,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		sale.IdempotencyKey = &key
	}

	var lines []models.POSLine
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreatePOSSale(ctx, sale); err != nil {
			return err
		}

		ids := make([]int64, 0, len(req.Items))
		for _, item := range req.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := s.ledger.LockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		for _, item := range req.Items {
			product := products[item.ProductID]
			if !product.IsActive {
				return models.NewValidationError("product_id", fmt.Sprintf("product %d is not active", product.ID))
			}

			price := product.SellingPrice
			if item.UnitPrice != nil {
				price = *item.UnitPrice
			}

			line := models.NewPOSLine(sale.ID, item.ProductID, item.Quantity, price)
			if err := tx.CreatePOSLine(ctx, line); err != nil {
				return fmt.Errorf("failed to create pos line: %w", err)
			}

			if _, err := s.ledger.Debit(ctx, tx, ledger.Entry{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Kind:      models.MovementPOSLine,
				Reference: ledger.Reference(models.MovementPOSLine, line.ID),
			}); err != nil {
				return err
			}
		}

		lines, err = tx.ListPOSLines(ctx, sale.ID)
		if err != nil {
			return err
		}
		sale.TotalAmount = models.SumPOSLines(lines)
		return tx.UpdatePOSSaleTotal(ctx, sale.ID, sale.TotalAmount)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) && req.IdempotencyKey != "" {
			existing, lookupErr := s.findByKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		s.recordFailure(err)
		return nil, err
	}

	util.POSSalesCreatedTotal.Inc()
	s.logger.Info("POS sale created",
		zap.Int64("pos_sale_id", sale.ID),
		zap.String("total_amount", sale.TotalAmount.StringFixed(2)),
		zap.String("served_by", sale.ServedBy))

	if req.IdempotencyKey != "" && s.cache != nil {
		if err := s.cache.SetIdempotencyKey(ctx, "pos_sale:"+req.IdempotencyKey, sale.ID, s.keyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	event := &models.POSSaleCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypePOSSaleCreated),
		POSSaleID:   sale.ID,
		TotalAmount: sale.TotalAmount,
		Items:       posLineData(lines),
	}
	if err := s.publisher.PublishPOSSaleCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish POSSaleCreated event", zap.Error(err))
	}

	return &POSSaleDetail{POSSale: sale, Items: lines}, nil
}

// GetPOSSale retrieves a POS sale with its lines
func (s *POSService) GetPOSSale(ctx context.Context, id int64) (*POSSaleDetail, error) {
	sale, err := s.repo.GetPOSSale(ctx, id)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.ListPOSLines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get pos lines: %w", err)
	}

	return &POSSaleDetail{POSSale: sale, Items: lines}, nil
}

func (s *POSService) validate(req *CreatePOSSaleRequest) error {
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCash
	}
	if !req.PaymentMethod.Valid() {
		return models.NewValidationError("payment_method", "must be one of cash, card, mobile_money")
	}
	if req.ServedBy == "" {
		return models.NewValidationError("served_by", "is required")
	}
	if err := validateItems(req.Items); err != nil {
		return err
	}
	for _, item := range req.Items {
		if item.UnitPrice == nil {
			continue
		}
		if item.UnitPrice.IsNegative() {
			return models.NewValidationError("unit_price", "must not be negative")
		}
		if !models.IsMoneyAmount(*item.UnitPrice) {
			return models.NewValidationError("unit_price", "must have at most 2 decimal places")
		}
	}
	return nil
}

// findByKey returns the sale already created for key, checking the cache before the database
func (s *POSService) findByKey(ctx context.Context, key string) (*POSSaleDetail, error) {
	if s.cache != nil {
		value, ok, err := s.cache.GetIdempotencyValue(ctx, "pos_sale:"+key)
		if err != nil {
			s.logger.Warn("Failed to read idempotency cache", zap.Error(err))
		} else if ok {
			if id, err := strconv.ParseInt(value, 10, 64); err == nil {
				detail, err := s.GetPOSSale(ctx, id)
				if err == nil {
					s.logReplay(key, id)
					detail.Replayed = true
					return detail, nil
				}
				if !models.IsNotFound(err) {
					return nil, err
				}
			}
		}
	}

	existing, err := s.repo.GetPOSSaleByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}

	lines, err := s.repo.ListPOSLines(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pos lines: %w", err)
	}
	s.logReplay(key, existing.ID)
	return &POSSaleDetail{POSSale: existing, Items: lines, Replayed: true}, nil
}

func (s *POSService) logReplay(key string, id int64) {
	s.logger.Info("Duplicate POS sale request detected",
		zap.String("idempotency_key", key),
		zap.Int64("pos_sale_id", id))
}

func (s *POSService) recordFailure(err error) {
	var insufficient *models.InsufficientStockError
	var validation *models.ValidationError
	switch {
	case errors.As(err, &insufficient):
		util.POSSalesFailedTotal.WithLabelValues("insufficient_stock").Inc()
		s.logger.Warn("POS sale rejected",
			zap.Int64("product_id", insufficient.ProductID),
			zap.Int("requested", insufficient.Requested),
			zap.Int("available", insufficient.Available))
	case errors.As(err, &validation), models.IsNotFound(err):
		util.POSSalesFailedTotal.WithLabelValues("invalid_items").Inc()
	default:
		util.POSSalesFailedTotal.WithLabelValues("db_error").Inc()
		s.logger.Error("Failed to create POS sale", zap.Error(err))
	}
}

func posLineData(lines []models.POSLine) []models.LineItemData {
	data := make([]models.LineItemData, 0, len(lines))
	for _, l := range lines {
		data = append(data, models.LineItemData{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}
	return data
}
