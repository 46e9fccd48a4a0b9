package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// moneyPlaces é a quantidade de casas decimais de todos os valores monetários
const moneyPlaces = 2

// Product representa um produto do catálogo
type Product struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Stock     int             `json:"stock" db:"stock"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// NewProduct cria uma nova instância de Product
func NewProduct(name string, price decimal.Decimal, stock int) *Product {
	now := time.Now()
	return &Product{
		ID:        uuid.New().String(),
		Name:      name,
		Price:     RoundMoney(price),
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ProductPatch é uma edição parcial de catálogo: campos nil não são gravados
type ProductPatch struct {
	Name  *string
	Price *decimal.Decimal
	Stock *int
}

// Cart representa o carrinho de um usuário (um por usuário)
type Cart struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// CartLine referencia um produto pelo ID; o preço é sempre relido no checkout
type CartLine struct {
	ID        int64  `json:"id" db:"id"`
	ProductID string `json:"product_id" db:"product_id"`
	Quantity  int    `json:"quantity" db:"quantity"`
}

// IsEmpty indica se o carrinho não possui linhas
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Line busca a linha de um produto no carrinho
func (c *Cart) Line(productID string) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.ProductID == productID {
			return line, true
		}
	}
	return CartLine{}, false
}

// Order representa um pedido finalizado. Nunca é alterado depois de criado.
type Order struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	Items      []OrderItem     `json:"items"`
}

// OrderItem é uma cópia congelada do produto no momento da compra
type OrderItem struct {
	ID           int64           `json:"id" db:"id"`
	OrderID      string          `json:"order_id" db:"order_id"`
	ProductID    string          `json:"product_id" db:"product_id"`
	ProductName  string          `json:"product_name" db:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price" db:"product_price"`
	Quantity     int             `json:"quantity" db:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal" db:"subtotal"`
}

// NewOrderItem copia nome e preço do produto lido no checkout
func NewOrderItem(product Product, quantity int) OrderItem {
	return OrderItem{
		ProductID:    product.ID,
		ProductName:  product.Name,
		ProductPrice: product.Price,
		Quantity:     quantity,
		Subtotal:     LineSubtotal(product.Price, quantity),
	}
}

// NewOrder cria uma nova instância de Order a partir dos itens já calculados
func NewOrder(userID string, items []OrderItem) *Order {
	order := &Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Items:     make([]OrderItem, len(items)),
	}

	subtotals := make([]decimal.Decimal, len(items))
	for i, item := range items {
		item.OrderID = order.ID
		order.Items[i] = item
		subtotals[i] = item.Subtotal
	}
	order.TotalPrice = OrderTotal(subtotals)

	return order
}

// RoundMoney arredonda para 2 casas (meio para cima)
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// LineSubtotal calcula preço × quantidade arredondado para 2 casas
func LineSubtotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(price.Mul(decimal.NewFromInt(int64(quantity))))
}

// OrderTotal soma os subtotais já arredondados e arredonda a soma novamente
func OrderTotal(subtotals []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, s := range subtotals {
		total = total.Add(s)
	}
	return RoundMoney(total)
}

// CartView é a visão do carrinho com preços atuais e totais
type CartView struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Items  []CartViewItem  `json:"items"`
	Total  decimal.Decimal `json:"total"`
}

// CartViewItem é uma linha do carrinho enriquecida com os dados atuais do produto
type CartViewItem struct {
	ID          int64           `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OutboxEvent representa um evento pendente de publicação
type OutboxEvent struct {
	ID        string     `json:"id" db:"id"`
	Topic     string     `json:"topic" db:"topic"`
	Key       string     `json:"key" db:"key"`
	Payload   []byte     `json:"payload" db:"payload"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	SentAt    *time.Time `json:"sent_at" db:"sent_at"`
}

// OrderPlacedEvent é o payload publicado depois de um checkout
type OrderPlacedEvent struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Items      []OrderItem     `json:"items"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// Event topics
const (
	EventTypeOrderPlaced = "order.placed"
)
