package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateProductInput são os dados para cadastrar um produto
type CreateProductInput struct {
	Name  string
	Price decimal.Decimal
	Stock int
}

// UpdateProductInput altera somente os campos informados
type UpdateProductInput struct {
	Name  *string
	Price *decimal.Decimal
	Stock *int
}

// ProductUseCase contém as operações de catálogo
type ProductUseCase struct {
	products ProductRepository
	logger   *zap.Logger
}

// NewProductUseCase cria uma nova instância de ProductUseCase
func NewProductUseCase(products ProductRepository, logger *zap.Logger) *ProductUseCase {
	return &ProductUseCase{
		products: products,
		logger:   logger,
	}
}

// CreateProduct valida e cadastra um novo produto
func (uc *ProductUseCase) CreateProduct(ctx context.Context, in CreateProductInput) (*Product, error) {
	if err := validateProduct(in.Name, in.Price, in.Stock); err != nil {
		return nil, err
	}

	product := NewProduct(strings.TrimSpace(in.Name), in.Price, in.Stock)
	if err := uc.products.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	uc.logger.Info("📦 [CATALOG] product created",
		zap.String("product_id", product.ID),
		zap.String("name", product.Name),
		zap.Int("stock", product.Stock),
	)
	return product, nil
}

// UpdateProduct aplica uma edição parcial de catálogo.
// Só os campos informados são gravados; o estoque decrementado por checkouts
// concorrentes nunca é sobrescrito por um valor lido antes.
func (uc *ProductUseCase) UpdateProduct(ctx context.Context, productID string, in UpdateProductInput) (*Product, error) {
	patch := ProductPatch{Price: in.Price, Stock: in.Stock}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidProduct)
		}
		patch.Name = &name
	}
	if in.Price != nil {
		if err := validatePrice(*in.Price); err != nil {
			return nil, err
		}
	}
	if in.Stock != nil {
		if err := validateStock(*in.Stock); err != nil {
			return nil, err
		}
	}

	if err := uc.products.UpdateProduct(ctx, productID, patch); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	uc.logger.Info("📦 [CATALOG] product updated", zap.String("product_id", productID))
	return uc.products.GetProduct(ctx, productID)
}

// GetProduct busca um produto pelo ID
func (uc *ProductUseCase) GetProduct(ctx context.Context, productID string) (*Product, error) {
	return uc.products.GetProduct(ctx, productID)
}

// ListProducts lista o catálogo ordenado pelo nome
func (uc *ProductUseCase) ListProducts(ctx context.Context) ([]*Product, error) {
	return uc.products.ListProducts(ctx)
}

func validateProduct(name string, price decimal.Decimal, stock int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if err := validatePrice(price); err != nil {
		return err
	}
	return validateStock(stock)
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	if !price.Equal(RoundMoney(price)) {
		return fmt.Errorf("%w: price must have at most %d decimal places", ErrInvalidProduct, moneyPlaces)
	}
	return nil
}

func validateStock(stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}
	return nil
}
