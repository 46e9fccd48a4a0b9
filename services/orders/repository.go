package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// TxManager abre a unidade de trabalho compartilhada pelos repositórios
type TxManager interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// ProductRepository define a interface para operações de banco de dados de produtos
type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)
	CreateProduct(ctx context.Context, product *Product) error

	// UpdateProduct grava somente os campos informados no patch
	UpdateProduct(ctx context.Context, productID string, patch ProductPatch) error

	// GetProductInTx lê o estado atual do produto dentro da transação
	GetProductInTx(ctx context.Context, tx Tx, productID string) (*Product, error)

	// DecrementStock diminui o estoque somente se stock >= amount
	DecrementStock(ctx context.Context, tx Tx, productID string, amount int) error
}

// CartRepository define a interface para operações de banco de dados de carrinhos
type CartRepository interface {
	GetCartByUser(ctx context.Context, userID string) (*Cart, error)

	// Edições de linha travam o carrinho como o checkout, então nunca se intercalam com ele.

	// AddLineQuantity cria o carrinho se preciso e soma quantity à linha.
	// check recebe a quantidade resultante e pode recusar a edição.
	AddLineQuantity(ctx context.Context, userID, productID string, quantity int, check func(total int) error) error
	// SetLineQuantity grava a quantidade absoluta de uma linha existente
	SetLineQuantity(ctx context.Context, userID, productID string, quantity int) error
	RemoveLine(ctx context.Context, userID, productID string) error

	// GetCartForUpdate trava o carrinho do usuário até o fim da transação
	GetCartForUpdate(ctx context.Context, tx Tx, userID string) (*Cart, error)
	ClearCart(ctx context.Context, tx Tx, cartID string) error
}

// OrderRepository define a interface para operações de banco de dados de pedidos
type OrderRepository interface {
	CreateOrder(ctx context.Context, tx Tx, order *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error)
	ListOrders(ctx context.Context) ([]*Order, error)
}

// OutboxRepository define a interface da tabela de outbox
type OutboxRepository interface {
	InsertEvent(ctx context.Context, tx Tx, event *OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkSent(ctx context.Context, eventID string) error
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	if err := t.tx.Commit(context.Background()); err != nil {
		return classifyPgError("commit", err)
	}
	return nil
}

func (t *PostgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// PostgresTxManager implementa TxManager usando PostgreSQL
type PostgresTxManager struct {
	db *pgxpool.Pool
}

// NewPostgresTxManager cria uma nova instância de PostgresTxManager
func NewPostgresTxManager(db *pgxpool.Pool) *PostgresTxManager {
	return &PostgresTxManager{db: db}
}

// BeginTx inicia uma nova transação com isolamento read committed
func (m *PostgresTxManager) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, storageError("begin transaction", err)
	}
	return &PostgresTx{tx: tx}, nil
}

func pgTxFrom(tx Tx) (pgx.Tx, error) {
	pgTx, ok := tx.(*PostgresTx)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected transaction type %T", ErrStorage, tx)
	}
	return pgTx.tx, nil
}

// SQLSTATE codes tratados explicitamente
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
)

// classifyPgError converte erros do driver em erros de domínio ou de storage
func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgCheckViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConsistencyConflict, pgErr.Message)
		}
	}
	return storageError(op, err)
}

// Repositories agrupa os repositórios que participam da mesma unidade de trabalho
type Repositories struct {
	Tx       TxManager
	Products ProductRepository
	Carts    CartRepository
	Orders   OrderRepository
	Outbox   OutboxRepository
}

// NewPostgresRepositories cria todos os repositórios sobre o mesmo pool
func NewPostgresRepositories(db *pgxpool.Pool) Repositories {
	return Repositories{
		Tx:       NewPostgresTxManager(db),
		Products: NewProductRepository(db),
		Carts:    NewCartRepository(db),
		Orders:   NewOrderRepository(db),
		Outbox:   NewOutboxRepository(db),
	}
}
