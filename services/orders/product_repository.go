package main

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProductRepository implementa ProductRepository usando PostgreSQL
type PostgresProductRepository struct {
	db *pgxpool.Pool
}

// NewProductRepository cria uma nova instância de PostgresProductRepository
func NewProductRepository(db *pgxpool.Pool) ProductRepository {
	return &PostgresProductRepository{
		db: db,
	}
}

const selectProduct = `
	SELECT id, name, price, stock, created_at, updated_at
	FROM products
`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProduct busca um produto pelo ID
func (r *PostgresProductRepository) GetProduct(ctx context.Context, productID string) (*Product, error) {
	product, err := scanProduct(r.db.QueryRow(ctx, selectProduct+` WHERE id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, storageError("get product", err)
	}
	return product, nil
}

// ListProducts lista todos os produtos ordenados pelo nome
func (r *PostgresProductRepository) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := r.db.Query(ctx, selectProduct+` ORDER BY name, id`)
	if err != nil {
		return nil, storageError("list products", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storageError("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list products", err)
	}

	return products, nil
}

// CreateProduct insere um novo produto
func (r *PostgresProductRepository) CreateProduct(ctx context.Context, product *Product) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO products (id, name, price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, product.ID, product.Name, product.Price, product.Stock, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return storageError("create product", err)
	}
	return nil
}

// UpdateProduct grava somente as colunas informadas no patch.
// O estoque nunca é regravado a partir de uma leitura anterior, senão um checkout
// confirmado no meio da edição teria seu decremento desfeito.
func (r *PostgresProductRepository) UpdateProduct(ctx context.Context, productID string, patch ProductPatch) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET name = COALESCE($1::text, name),
		    price = COALESCE($2::numeric, price),
		    stock = COALESCE($3::integer, stock),
		    updated_at = NOW()
		WHERE id = $4
	`, patch.Name, patch.Price, patch.Stock, productID)
	if err != nil {
		return classifyPgError("update product", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// GetProductInTx lê o produto dentro da transação do checkout
func (r *PostgresProductRepository) GetProductInTx(ctx context.Context, tx Tx, productID string) (*Product, error) {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return nil, err
	}

	product, err := scanProduct(pgTx.QueryRow(ctx, selectProduct+` WHERE id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, classifyPgError("get product in tx", err)
	}
	return product, nil
}

// DecrementStock faz o decremento condicional (stock >= amount) em um único UPDATE.
// O lock de linha fica com a transação até o Commit ou Rollback.
func (r *PostgresProductRepository) DecrementStock(ctx context.Context, tx Tx, productID string, amount int) error {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return err
	}

	var remaining int
	err = pgTx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $1,
		    updated_at = NOW()
		WHERE id = $2 AND stock >= $1
		RETURNING stock
	`, amount, productID).Scan(&remaining)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return classifyPgError("decrement stock", err)
	}

	// Nenhuma linha atualizada: ou o produto sumiu ou a guarda disparou
	var available int
	err = pgTx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProductNotFound
	}
	if err != nil {
		return classifyPgError("decrement stock", err)
	}
	return &InsufficientStockError{
		ProductID: productID,
		Available: available,
		Requested: amount,
		Conflict:  true,
	}
}
