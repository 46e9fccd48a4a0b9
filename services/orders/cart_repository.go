package main

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCartRepository implementa CartRepository usando PostgreSQL
type PostgresCartRepository struct {
	db *pgxpool.Pool
}

// NewCartRepository cria uma nova instância de PostgresCartRepository
func NewCartRepository(db *pgxpool.Pool) CartRepository {
	return &PostgresCartRepository{
		db: db,
	}
}

// querier cobre o que é comum entre o pool e uma pgx.Tx
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadCartLines(ctx context.Context, q querier, cart *Cart) error {
	// Ordem estável: identidade da linha
	rows, err := q.Query(ctx, `
		SELECT id, product_id, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY id
	`, cart.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	cart.Lines = []CartLine{}
	for rows.Next() {
		var line CartLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity); err != nil {
			return err
		}
		cart.Lines = append(cart.Lines, line)
	}
	return rows.Err()
}

// GetCartByUser busca o carrinho do usuário com todas as linhas
func (r *PostgresCartRepository) GetCartByUser(ctx context.Context, userID string) (*Cart, error) {
	var cart Cart
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, created_at FROM carts WHERE user_id = $1
	`, userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, storageError("get cart", err)
	}

	if err := loadCartLines(ctx, r.db, &cart); err != nil {
		return nil, storageError("get cart lines", err)
	}
	return &cart, nil
}

// lockCart trava a linha de carts do usuário (a mesma que o checkout trava)
func lockCart(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	var cartID string
	err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&cartID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCartNotFound
	}
	if err != nil {
		return "", classifyPgError("lock cart", err)
	}
	return cartID, nil
}

// editCart roda fn em uma transação com o carrinho travado
func (r *PostgresCartRepository) editCart(ctx context.Context, userID string, create bool, fn func(tx pgx.Tx, cartID string) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storageError("begin cart update", err)
	}
	defer tx.Rollback(context.Background())

	if create {
		_, err = tx.Exec(ctx, `
			INSERT INTO carts (id, user_id) VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, uuid.New().String(), userID)
		if err != nil {
			return storageError("create cart", err)
		}
	}

	cartID, err := lockCart(ctx, tx, userID)
	if err != nil {
		return err
	}
	if err := fn(tx, cartID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError("commit cart update", err)
	}
	return nil
}

// AddLineQuantity cria o carrinho de forma preguiçosa e incrementa a linha
func (r *PostgresCartRepository) AddLineQuantity(ctx context.Context, userID, productID string, quantity int, check func(total int) error) error {
	return r.editCart(ctx, userID, true, func(tx pgx.Tx, cartID string) error {
		current := 0
		err := tx.QueryRow(ctx, `
			SELECT quantity FROM cart_items WHERE cart_id = $1 AND product_id = $2
		`, cartID, productID).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return storageError("get cart line", err)
		}
		if check != nil {
			if err := check(current + quantity); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO cart_items (cart_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		`, cartID, productID, quantity)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
				return ErrProductNotFound
			}
			return storageError("upsert cart line", err)
		}
		return nil
	})
}

// SetLineQuantity altera a quantidade de uma linha que já existe
func (r *PostgresCartRepository) SetLineQuantity(ctx context.Context, userID, productID string, quantity int) error {
	err := r.editCart(ctx, userID, false, func(tx pgx.Tx, cartID string) error {
		tag, err := tx.Exec(ctx, `
			UPDATE cart_items SET quantity = $1 WHERE cart_id = $2 AND product_id = $3
		`, quantity, cartID, productID)
		if err != nil {
			return storageError("update cart line", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrCartLineNotFound
		}
		return nil
	})
	if errors.Is(err, ErrCartNotFound) {
		return ErrCartLineNotFound
	}
	return err
}

// RemoveLine remove a linha de um produto do carrinho
func (r *PostgresCartRepository) RemoveLine(ctx context.Context, userID, productID string) error {
	err := r.editCart(ctx, userID, false, func(tx pgx.Tx, cartID string) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2
		`, cartID, productID)
		if err != nil {
			return storageError("remove cart line", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrCartLineNotFound
		}
		return nil
	})
	if errors.Is(err, ErrCartNotFound) {
		return ErrCartLineNotFound
	}
	return err
}

// GetCartForUpdate obtém o carrinho com lock pessimista (FOR UPDATE).
// Dois checkouts do mesmo usuário ficam serializados aqui.
func (r *PostgresCartRepository) GetCartForUpdate(ctx context.Context, tx Tx, userID string) (*Cart, error) {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return nil, err
	}

	var cart Cart
	err = pgTx.QueryRow(ctx, `
		SELECT id, user_id, created_at
		FROM carts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, classifyPgError("get cart for update", err)
	}

	if err := loadCartLines(ctx, pgTx, &cart); err != nil {
		return nil, classifyPgError("get cart lines", err)
	}
	return &cart, nil
}

// ClearCart remove todas as linhas mas mantém o registro do carrinho
func (r *PostgresCartRepository) ClearCart(ctx context.Context, tx Tx, cartID string) error {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return err
	}

	if _, err := pgTx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return classifyPgError("clear cart", err)
	}
	return nil
}
