package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errTxDone = errors.New("transaction already committed or rolled back")

// MemoryStore implementa todos os repositórios e o TxManager em memória.
// Decrementos são reservas: validadas contra stock - reserved, aplicadas no Commit
// e devolvidas no Rollback, então o estoque nunca fica negativo.
type MemoryStore struct {
	mu        sync.Mutex
	products  map[string]*Product
	reserved  map[string]int   // productID -> unidades reservadas por transações abertas
	carts     map[string]*Cart // userID -> cart
	cartLocks map[string]*cartLock
	orders    []*Order
	outbox    []*OutboxEvent
	lineSeq   int64
	itemSeq   int64
}

// NewMemoryStore cria um novo store em memória
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]*Product),
		reserved:  make(map[string]int),
		carts:     make(map[string]*Cart),
		cartLocks: make(map[string]*cartLock),
	}
}

// NewMemoryRepositories usa o mesmo MemoryStore para todos os repositórios
func NewMemoryRepositories(store *MemoryStore) Repositories {
	return Repositories{
		Tx:       store,
		Products: store,
		Carts:    store,
		Orders:   store,
		Outbox:   store,
	}
}

type memoryTx struct {
	store        *MemoryStore
	reservations map[string]int
	orders       []*Order
	clearCarts   []string
	events       []*OutboxEvent
	unlockCart   func()
	done         bool
}

// BeginTx inicia uma nova transação em memória
func (s *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("begin transaction", err)
	}
	return &memoryTx{store: s, reservations: make(map[string]int)}, nil
}

func memTxFrom(tx Tx) (*memoryTx, error) {
	mtx, ok := tx.(*memoryTx)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected transaction type %T", ErrStorage, tx)
	}
	if mtx.done {
		return nil, storageError("use transaction", errTxDone)
	}
	return mtx, nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return storageError("commit", errTxDone)
	}
	s := t.store

	s.mu.Lock()
	for productID, qty := range t.reservations {
		s.products[productID].Stock -= qty
		s.products[productID].UpdatedAt = time.Now()
		s.reserved[productID] -= qty
	}
	for _, cartID := range t.clearCarts {
		for _, cart := range s.carts {
			if cart.ID == cartID {
				cart.Lines = []CartLine{}
			}
		}
	}
	s.orders = append(s.orders, t.orders...)
	s.outbox = append(s.outbox, t.events...)
	s.mu.Unlock()

	t.finish()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	s := t.store

	s.mu.Lock()
	for productID, qty := range t.reservations {
		s.reserved[productID] -= qty
	}
	s.mu.Unlock()

	t.finish()
	return nil
}

func (t *memoryTx) finish() {
	t.done = true
	if t.unlockCart != nil {
		t.unlockCart()
		t.unlockCart = nil
	}
}

func copyProduct(p *Product) *Product {
	cp := *p
	return &cp
}

func copyCart(c *Cart) *Cart {
	cp := *c
	cp.Lines = append([]CartLine{}, c.Lines...)
	return &cp
}

func copyOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]OrderItem{}, o.Items...)
	return &cp
}

// GetProduct busca um produto pelo ID
func (s *MemoryStore) GetProduct(ctx context.Context, productID string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return copyProduct(p), nil
}

// ListProducts lista os produtos ordenados pelo nome
func (s *MemoryStore) ListProducts(ctx context.Context) ([]*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, copyProduct(p))
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

// CreateProduct insere um novo produto
func (s *MemoryStore) CreateProduct(ctx context.Context, product *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return storageError("create product", fmt.Errorf("duplicate id %s", product.ID))
	}
	s.products[product.ID] = copyProduct(product)
	return nil
}

// UpdateProduct aplica somente os campos informados no patch
func (s *MemoryStore) UpdateProduct(ctx context.Context, productID string, patch ProductPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if patch.Stock != nil && *patch.Stock < s.reserved[productID] {
		return fmt.Errorf("update product %s: %w", productID, ErrConsistencyConflict)
	}
	if patch.Name != nil {
		current.Name = *patch.Name
	}
	if patch.Price != nil {
		current.Price = *patch.Price
	}
	if patch.Stock != nil {
		current.Stock = *patch.Stock
	}
	current.UpdatedAt = time.Now()
	return nil
}

// GetProductInTx lê o estado confirmado do produto (read committed)
func (s *MemoryStore) GetProductInTx(ctx context.Context, tx Tx, productID string) (*Product, error) {
	if _, err := memTxFrom(tx); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, productID)
}

// DecrementStock reserva a quantidade se stock - reserved >= amount
func (s *MemoryStore) DecrementStock(ctx context.Context, tx Tx, productID string, amount int) error {
	mtx, err := memTxFrom(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if available := p.Stock - s.reserved[productID]; available < amount {
		return &InsufficientStockError{
			ProductID:   productID,
			ProductName: p.Name,
			Available:   available,
			Requested:   amount,
			Conflict:    true,
		}
	}
	s.reserved[productID] += amount
	mtx.reservations[productID] += amount
	return nil
}

// GetCartByUser busca o carrinho do usuário
func (s *MemoryStore) GetCartByUser(ctx context.Context, userID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return copyCart(cart), nil
}

// AddLineQuantity cria o carrinho se preciso e soma quantity à linha, com o carrinho travado
func (s *MemoryStore) AddLineQuantity(ctx context.Context, userID, productID string, quantity int, check func(total int) error) error {
	unlock, err := s.lockCart(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return ErrProductNotFound
	}

	cart, ok := s.carts[userID]
	current := 0
	if ok {
		if line, found := cart.Line(productID); found {
			current = line.Quantity
		}
	}
	if check != nil {
		if err := check(current + quantity); err != nil {
			return err
		}
	}

	if !ok {
		cart = &Cart{ID: uuid.New().String(), UserID: userID, Lines: []CartLine{}, CreatedAt: time.Now()}
		s.carts[userID] = cart
	}
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID {
			cart.Lines[i].Quantity += quantity
			return nil
		}
	}

	s.lineSeq++
	cart.Lines = append(cart.Lines, CartLine{ID: s.lineSeq, ProductID: productID, Quantity: quantity})
	return nil
}

// SetLineQuantity altera a quantidade de uma linha existente, com o carrinho travado
func (s *MemoryStore) SetLineQuantity(ctx context.Context, userID, productID string, quantity int) error {
	unlock, err := s.lockCart(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return ErrCartLineNotFound
	}
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID {
			cart.Lines[i].Quantity = quantity
			return nil
		}
	}
	return ErrCartLineNotFound
}

// RemoveLine remove a linha do produto, com o carrinho travado
func (s *MemoryStore) RemoveLine(ctx context.Context, userID, productID string) error {
	unlock, err := s.lockCart(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return ErrCartLineNotFound
	}
	for i, line := range cart.Lines {
		if line.ProductID == productID {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			return nil
		}
	}
	return ErrCartLineNotFound
}

// cartLock é o equivalente ao FOR UPDATE na linha de carts.
// refs conta donos e esperas; a entrada sai do mapa quando chega a zero.
type cartLock struct {
	ch   chan struct{}
	refs int
}

// lockCart espera o lock do carrinho do usuário e devolve a função que o libera
func (s *MemoryStore) lockCart(ctx context.Context, userID string) (func(), error) {
	s.mu.Lock()
	lock, ok := s.cartLocks[userID]
	if !ok {
		lock = &cartLock{ch: make(chan struct{}, 1)}
		s.cartLocks[userID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			s.dropCartLockRef(userID, lock)
		}, nil
	case <-ctx.Done():
		s.dropCartLockRef(userID, lock)
		return nil, storageError("lock cart", ctx.Err())
	}
}

func (s *MemoryStore) dropCartLockRef(userID string, lock *cartLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(s.cartLocks, userID)
	}
}

// GetCartForUpdate trava o carrinho do usuário até o fim da transação
func (s *MemoryStore) GetCartForUpdate(ctx context.Context, tx Tx, userID string) (*Cart, error) {
	mtx, err := memTxFrom(tx)
	if err != nil {
		return nil, err
	}

	if mtx.unlockCart == nil {
		unlock, err := s.lockCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		mtx.unlockCart = unlock
	}

	return s.GetCartByUser(ctx, userID)
}

// ClearCart agenda a limpeza das linhas para o Commit
func (s *MemoryStore) ClearCart(ctx context.Context, tx Tx, cartID string) error {
	mtx, err := memTxFrom(tx)
	if err != nil {
		return err
	}
	mtx.clearCarts = append(mtx.clearCarts, cartID)
	return nil
}

// CreateOrder agenda o pedido para o Commit, numerando os itens como uma sequence
func (s *MemoryStore) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	mtx, err := memTxFrom(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i := range order.Items {
		s.itemSeq++
		order.Items[i].ID = s.itemSeq
		order.Items[i].OrderID = order.ID
	}
	s.mu.Unlock()

	mtx.orders = append(mtx.orders, copyOrder(order))
	return nil
}

// GetOrder busca um pedido pelo ID
func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.ID == orderID {
			return copyOrder(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

// ListOrdersByUser lista os pedidos do usuário, mais recentes primeiro
func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error) {
	return s.listOrders(func(o *Order) bool { return o.UserID == userID }), nil
}

// ListOrders lista todos os pedidos, mais recentes primeiro
func (s *MemoryStore) ListOrders(ctx context.Context) ([]*Order, error) {
	return s.listOrders(func(*Order) bool { return true }), nil
}

func (s *MemoryStore) listOrders(match func(*Order) bool) []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []*Order{}
	// s.orders está em ordem de commit; percorrer de trás para frente mantém o desempate
	for i := len(s.orders) - 1; i >= 0; i-- {
		if match(s.orders[i]) {
			orders = append(orders, copyOrder(s.orders[i]))
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders
}

// InsertEvent agenda o evento para o Commit
func (s *MemoryStore) InsertEvent(ctx context.Context, tx Tx, event *OutboxEvent) error {
	mtx, err := memTxFrom(tx)
	if err != nil {
		return err
	}
	cp := *event
	mtx.events = append(mtx.events, &cp)
	return nil
}

// FetchPending busca eventos ainda não publicados
func (s *MemoryStore) FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*OutboxEvent
	for _, e := range s.outbox {
		if e.SentAt != nil {
			continue
		}
		cp := *e
		events = append(events, &cp)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

// MarkSent marca o evento como publicado
func (s *MemoryStore) MarkSent(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.ID == eventID && e.SentAt == nil {
			now := time.Now()
			e.SentAt = &now
		}
	}
	return nil
}
