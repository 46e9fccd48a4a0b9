package main

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOrderRepository implementa OrderRepository usando PostgreSQL
type PostgresOrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository cria uma nova instância de PostgresOrderRepository
func NewOrderRepository(db *pgxpool.Pool) OrderRepository {
	return &PostgresOrderRepository{
		db: db,
	}
}

// CreateOrder insere o pedido e seus itens dentro da transação do checkout
func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return err
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO orders (id, user_id, total_price, created_at)
		VALUES ($1, $2, $3, $4)
	`, order.ID, order.UserID, order.TotalPrice, order.CreatedAt)
	if err != nil {
		return classifyPgError("create order", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		err := pgTx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, product_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, order.ID, item.ProductID, item.ProductName, item.ProductPrice, item.Quantity, item.Subtotal).Scan(&item.ID)
		if err != nil {
			return classifyPgError("create order item", err)
		}
	}

	return nil
}

// GetOrder busca um pedido pelo ID com os itens
func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, total_price, created_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.UserID, &order.TotalPrice, &order.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, storageError("get order", err)
	}

	orders := []*Order{&order}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser lista os pedidos do usuário, mais recentes primeiro
func (r *PostgresOrderRepository) ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error) {
	return r.listOrders(ctx, `
		SELECT id, user_id, total_price, created_at
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
}

// ListOrders lista todos os pedidos, mais recentes primeiro
func (r *PostgresOrderRepository) ListOrders(ctx context.Context) ([]*Order, error) {
	return r.listOrders(ctx, `
		SELECT id, user_id, total_price, created_at
		FROM orders
		ORDER BY created_at DESC, id
	`)
}

func (r *PostgresOrderRepository) listOrders(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list orders", err)
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalPrice, &o.CreatedAt); err != nil {
			return nil, storageError("scan order", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list orders", err)
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadItems carrega os itens de todos os pedidos em uma única consulta
func (r *PostgresOrderRepository) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		o.Items = []OrderItem{}
		byID[o.ID] = o
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, product_name, product_price, quantity, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return storageError("load order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductPrice, &item.Quantity, &item.Subtotal); err != nil {
			return storageError("scan order item", err)
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return storageError("load order items", err)
	}
	return nil
}
