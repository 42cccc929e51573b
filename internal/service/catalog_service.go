package service

import (
	"context"
	"fmt"

	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService manages products. It never writes stock; new products start empty.
type CatalogService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(repo store.Repository) *CatalogService {
	return &CatalogService{repo: repo, logger: util.GetLogger()}
}

// CreateProductRequest represents a new catalog entry
type CreateProductRequest struct {
	BrandName    string          `json:"brand_name" binding:"required"`
	ProductName  string          `json:"product_name" binding:"required"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	IsActive     *bool           `json:"is_active,omitempty"`
}

// StockView is a product's on-hand quantity and the movements that produced it
type StockView struct {
	ProductID int64                  `json:"product_id"`
	StockQty  int                    `json:"stock_qty"`
	Movements []models.StockMovement `json:"movements"`
}

// CreateProduct adds a product with zero stock
func (s *CatalogService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.Product, error) {
	if req.BrandName == "" {
		return nil, models.NewValidationError("brand_name", "is required")
	}
	if req.ProductName == "" {
		return nil, models.NewValidationError("product_name", "is required")
	}
	if err := validatePrice(req.SellingPrice); err != nil {
		return nil, err
	}

	product := &models.Product{
		BrandName:    req.BrandName,
		ProductName:  req.ProductName,
		SellingPrice: req.SellingPrice,
		IsActive:     true,
	}
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", product.ID))
	return product, nil
}

// GetProduct retrieves a product by ID
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// UpdateSellingPrice changes the price used by lines created from now on
func (s *CatalogService) UpdateSellingPrice(ctx context.Context, id int64, price decimal.Decimal) (*models.Product, error) {
	if err := validatePrice(price); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateProductPrice(ctx, id, price)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Selling price updated",
		zap.Int64("product_id", id),
		zap.String("selling_price", price.StringFixed(2)))
	return s.repo.GetProduct(ctx, id)
}

// DeleteProduct deletes a product. It fails with models.ErrProductReferenced
// while any line, delivery or stock movement refers to it.
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Product deleted", zap.Int64("product_id", id))
	return nil
}

// GetStock returns the product's stock with its movement history
func (s *CatalogService) GetStock(ctx context.Context, id int64) (*StockView, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	movements, err := s.repo.ListStockMovements(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock movements: %w", err)
	}

	return &StockView{ProductID: product.ID, StockQty: product.StockQty, Movements: movements}, nil
}

func validatePrice(price decimal.Decimal) error {
	if price.LessThan(models.MinSellingPrice) {
		return models.NewValidationError("selling_price", "must be at least 0.01")
	}
	if !models.IsMoneyAmount(price) {
		return models.NewValidationError("selling_price", "must have at most 2 decimal places")
	}
	return nil
}
