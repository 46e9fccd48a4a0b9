package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderUseCase contém a lógica de negócio do checkout e da consulta de pedidos
type OrderUseCase struct {
	repos     Repositories
	cartCache CartCache
	metrics   *CheckoutMetrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(
	repos Repositories,
	cartCache CartCache,
	metrics *CheckoutMetrics,
	tracer trace.Tracer,
	logger *zap.Logger,
) *OrderUseCase {
	if cartCache == nil {
		cartCache = noopCartCache{}
	}
	return &OrderUseCase{
		repos:     repos,
		cartCache: cartCache,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}
}

// Checkout converte o carrinho do usuário em um pedido.
// Pedido, itens, decremento de estoque, limpeza do carrinho e evento de outbox
// são gravados na mesma transação: ou tudo é confirmado ou nada é.
func (uc *OrderUseCase) Checkout(ctx context.Context, userID string) (*Order, error) {
	// checkout não é cancelável no meio do caminho
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	ctx, span := uc.tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	uc.logger.Info("🛒 [CHECKOUT] starting", zap.String("user_id", userID))

	order, err := uc.checkout(ctx, userID)
	uc.metrics.Record(ctx, checkoutOutcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		uc.logCheckoutFailure(userID, err)
		return nil, err
	}

	if err := uc.cartCache.Delete(ctx, userID); err != nil {
		uc.logger.Warn("⚠️ [CHECKOUT] failed to invalidate cart cache",
			zap.String("user_id", userID), zap.Error(err))
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.total", order.TotalPrice.StringFixed(moneyPlaces)),
	)
	uc.logger.Info("✅ [CHECKOUT] order created",
		zap.String("user_id", userID),
		zap.String("order_id", order.ID),
		zap.String("total", order.TotalPrice.StringFixed(moneyPlaces)),
		zap.Int("items", len(order.Items)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return order, nil
}

func (uc *OrderUseCase) checkout(ctx context.Context, userID string) (*Order, error) {
	tx, err := uc.repos.Tx.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cart, err := uc.repos.Carts.GetCartForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	// Revalida cada linha contra o estado atual do produto; nada é gravado antes disso
	items := make([]OrderItem, 0, len(cart.Lines))
	names := make(map[string]string, len(cart.Lines))
	for _, line := range cart.Lines {
		product, err := uc.repos.Products.GetProductInTx(ctx, tx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
		if product.Stock < line.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   line.Quantity,
			}
		}
		items = append(items, NewOrderItem(*product, line.Quantity))
		names[product.ID] = product.Name
	}

	order := NewOrder(userID, items)
	if err := uc.repos.Orders.CreateOrder(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// Decrementos sempre na mesma ordem de produto para não gerar deadlock entre checkouts
	lines := append([]CartLine(nil), cart.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	for _, line := range lines {
		err := uc.repos.Products.DecrementStock(ctx, tx, line.ProductID, line.Quantity)
		if err == nil {
			continue
		}
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			stockErr.ProductName = names[line.ProductID]
			return nil, stockErr
		}
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	if err := uc.repos.Carts.ClearCart(ctx, tx, cart.ID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	event, err := newOrderPlacedEvent(order)
	if err != nil {
		return nil, err
	}
	if err := uc.repos.Outbox.InsertEvent(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return uc.repos.Orders.GetOrder(ctx, order.ID)
}

func newOrderPlacedEvent(order *Order) (*OutboxEvent, error) {
	payload, err := json.Marshal(OrderPlacedEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Items:      order.Items,
		PlacedAt:   order.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", EventTypeOrderPlaced, err)
	}

	return &OutboxEvent{
		ID:        uuid.New().String(),
		Topic:     EventTypeOrderPlaced,
		Key:       order.ID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (uc *OrderUseCase) logCheckoutFailure(userID string, err error) {
	fields := []zap.Field{zap.String("user_id", userID), zap.Error(err)}

	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		fields = append(fields,
			zap.String("product_id", stockErr.ProductID),
			zap.Int("available", stockErr.Available),
			zap.Int("requested", stockErr.Requested),
			zap.Bool("conflict", stockErr.Conflict),
		)
		uc.logger.Info("❌ [CHECKOUT] insufficient stock", fields...)
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrNotFound), errors.Is(err, ErrConsistencyConflict):
		uc.logger.Info("❌ [CHECKOUT] rejected", fields...)
	default:
		uc.logger.Error("❌ [CHECKOUT] failed", fields...)
	}
}

func checkoutOutcome(err error) string {
	var stockErr *InsufficientStockError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &stockErr) && stockErr.Conflict:
		return OutcomeConflict
	case errors.Is(err, ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, ErrConsistencyConflict):
		return OutcomeConflict
	case errors.Is(err, ErrEmptyCart):
		return OutcomeEmptyCart
	case errors.Is(err, ErrCartNotFound):
		return OutcomeCartNotFound
	default:
		return OutcomeError
	}
}

// GetOrder busca um pedido finalizado
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return uc.repos.Orders.GetOrder(ctx, orderID)
}

// ListOrders lista os pedidos do usuário, ou todos quando userID é vazio
func (uc *OrderUseCase) ListOrders(ctx context.Context, userID string) ([]*Order, error) {
	if userID == "" {
		return uc.repos.Orders.ListOrders(ctx)
	}
	return uc.repos.Orders.ListOrdersByUser(ctx, userID)
}
