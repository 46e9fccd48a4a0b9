package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CartUseCase contém as operações de linha do carrinho e a visão com totais
type CartUseCase struct {
	carts    CartRepository
	products ProductRepository
	cache    CartCache
	group    singleflight.Group
	logger   *zap.Logger
}

// NewCartUseCase cria uma nova instância de CartUseCase
func NewCartUseCase(carts CartRepository, products ProductRepository, cache CartCache, logger *zap.Logger) *CartUseCase {
	if cache == nil {
		cache = noopCartCache{}
	}
	return &CartUseCase{
		carts:    carts,
		products: products,
		cache:    cache,
		logger:   logger,
	}
}

// AddItem adiciona o produto ao carrinho ou incrementa a linha existente.
// O carrinho é criado na primeira adição.
func (uc *CartUseCase) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	product, err := uc.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	// a soma é feita com o carrinho travado, então adições concorrentes não se perdem
	err = uc.carts.AddLineQuantity(ctx, userID, productID, quantity, func(total int) error {
		return checkLineStock(product, total)
	})
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}

	uc.invalidate(ctx, userID)
	return nil
}

// SetQuantity grava a quantidade absoluta de uma linha; quantity <= 0 remove a linha
func (uc *CartUseCase) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity <= 0 {
		return uc.RemoveItem(ctx, userID, productID)
	}

	cart, err := uc.carts.GetCartByUser(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return ErrCartLineNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := cart.Line(productID); !ok {
		return ErrCartLineNotFound
	}

	product, err := uc.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if err := checkLineStock(product, quantity); err != nil {
		return err
	}

	if err := uc.carts.SetLineQuantity(ctx, userID, productID, quantity); err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	uc.invalidate(ctx, userID)
	return nil
}

// RemoveItem remove a linha do produto do carrinho
func (uc *CartUseCase) RemoveItem(ctx context.Context, userID, productID string) error {
	if err := uc.carts.RemoveLine(ctx, userID, productID); err != nil {
		return err
	}

	uc.invalidate(ctx, userID)
	return nil
}

// GetCart devolve o carrinho com preços atuais e totais.
// Só as linhas passam pelo cache; nome e preço são lidos do catálogo a cada chamada.
func (uc *CartUseCase) GetCart(ctx context.Context, userID string) (*CartView, error) {
	cart, err := uc.loadCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.buildView(ctx, cart)
}

func (uc *CartUseCase) loadCart(ctx context.Context, userID string) (*Cart, error) {
	cart, err := uc.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		uc.logger.Warn("⚠️ [CART] cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	// várias leituras simultâneas do mesmo carrinho fazem uma única ida ao banco
	v, err, _ := uc.group.Do(userID, func() (any, error) {
		cart, err := uc.carts.GetCartByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := uc.cache.Set(ctx, userID, cart); err != nil {
			uc.logger.Warn("⚠️ [CART] cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cart), nil
}

func (uc *CartUseCase) buildView(ctx context.Context, cart *Cart) (*CartView, error) {
	view := &CartView{
		ID:     cart.ID,
		UserID: cart.UserID,
		Items:  make([]CartViewItem, 0, len(cart.Lines)),
	}
	for _, line := range cart.Lines {
		product, err := uc.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
		view.Items = append(view.Items, CartViewItem{
			ID:          line.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Price:       product.Price,
			Quantity:    line.Quantity,
			Subtotal:    LineSubtotal(product.Price, line.Quantity),
		})
	}

	subtotals := make([]decimal.Decimal, len(view.Items))
	for i, item := range view.Items {
		subtotals[i] = item.Subtotal
	}
	view.Total = OrderTotal(subtotals)

	return view, nil
}

func (uc *CartUseCase) invalidate(ctx context.Context, userID string) {
	if err := uc.cache.Delete(ctx, userID); err != nil {
		uc.logger.Warn("⚠️ [CART] cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func checkLineStock(product *Product, quantity int) error {
	if quantity > product.Stock {
		return &InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Stock,
			Requested:   quantity,
		}
	}
	return nil
}
