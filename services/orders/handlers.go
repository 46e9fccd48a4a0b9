package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderUseCaseInterface define a interface do checkout e da consulta de pedidos
type OrderUseCaseInterface interface {
	Checkout(ctx context.Context, userID string) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrders(ctx context.Context, userID string) ([]*Order, error)
}

// ProductUseCaseInterface define a interface do catálogo
type ProductUseCaseInterface interface {
	CreateProduct(ctx context.Context, in CreateProductInput) (*Product, error)
	UpdateProduct(ctx context.Context, productID string, in UpdateProductInput) (*Product, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)
}

// CartUseCaseInterface define a interface das linhas do carrinho
type CartUseCaseInterface interface {
	AddItem(ctx context.Context, userID, productID string, quantity int) error
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID, productID string) error
	GetCart(ctx context.Context, userID string) (*CartView, error)
}

// CreateProductRequest representa a requisição para cadastrar um produto
type CreateProductRequest struct {
	Name  string          `json:"name" binding:"required"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" binding:"gte=0"`
}

// UpdateProductRequest representa uma edição parcial de produto
type UpdateProductRequest struct {
	Name  *string          `json:"name"`
	Price *decimal.Decimal `json:"price"`
	Stock *int             `json:"stock"`
}

// AddItemRequest representa a requisição para adicionar um produto ao carrinho
type AddItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// SetQuantityRequest representa a requisição para alterar a quantidade de uma linha
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// CheckoutRequest representa a requisição de checkout
type CheckoutRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// OrderResponse é o formato do pedido na API
type OrderResponse struct {
	ID         string              `json:"id"`
	UserID     string              `json:"userId"`
	TotalPrice json.Number         `json:"totalPrice"`
	CreatedAt  time.Time           `json:"createdAt"`
	Items      []OrderItemResponse `json:"items"`
}

// OrderItemResponse é o formato de um item do pedido na API
type OrderItemResponse struct {
	ID           int64       `json:"id"`
	ProductID    string      `json:"productId"`
	ProductName  string      `json:"productName"`
	ProductPrice json.Number `json:"productPrice"`
	Quantity     int         `json:"quantity"`
	Subtotal     json.Number `json:"subtotal"`
}

// ProductResponse é o formato do produto na API
type ProductResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	Stock     int         `json:"stock"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// CartResponse é o formato do carrinho na API
type CartResponse struct {
	ID     string             `json:"id"`
	UserID string             `json:"userId"`
	Items  []CartItemResponse `json:"items"`
	Total  json.Number        `json:"total"`
}

// CartItemResponse é o formato de uma linha do carrinho na API
type CartItemResponse struct {
	ID          int64       `json:"id"`
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Price       json.Number `json:"price"`
	Quantity    int         `json:"quantity"`
	Subtotal    json.Number `json:"subtotal"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(moneyPlaces))
}

func toOrderResponse(o *Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemResponse{
			ID:           it.ID,
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			ProductPrice: money(it.ProductPrice),
			Quantity:     it.Quantity,
			Subtotal:     money(it.Subtotal),
		}
	}
	return OrderResponse{
		ID:         o.ID,
		UserID:     o.UserID,
		TotalPrice: money(o.TotalPrice),
		CreatedAt:  o.CreatedAt,
		Items:      items,
	}
}

func toProductResponse(p *Product) ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     money(p.Price),
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toCartResponse(v *CartView) CartResponse {
	items := make([]CartItemResponse, len(v.Items))
	for i, it := range v.Items {
		items[i] = CartItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Price:       money(it.Price),
			Quantity:    it.Quantity,
			Subtotal:    money(it.Subtotal),
		}
	}
	return CartResponse{
		ID:     v.ID,
		UserID: v.UserID,
		Items:  items,
		Total:  money(v.Total),
	}
}

// Handler contém os handlers HTTP do serviço
type Handler struct {
	orders   OrderUseCaseInterface
	products ProductUseCaseInterface
	carts    CartUseCaseInterface
	logger   *zap.Logger
}

// NewHandler cria uma nova instância de Handler
func NewHandler(
	orders OrderUseCaseInterface,
	products ProductUseCaseInterface,
	carts CartUseCaseInterface,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orders:   orders,
		products: products,
		carts:    carts,
		logger:   logger,
	}
}

// RegisterRoutes registra as rotas da API
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")

	api.POST("/products", h.CreateProduct)
	api.GET("/products", h.ListProducts)
	api.GET("/products/:id", h.GetProduct)
	api.PATCH("/products/:id", h.UpdateProduct)

	api.GET("/carts/:userId", h.GetCart)
	api.POST("/carts/:userId/items", h.AddCartItem)
	api.PUT("/carts/:userId/items/:productId", h.SetCartItemQuantity)
	api.DELETE("/carts/:userId/items/:productId", h.RemoveCartItem)

	api.POST("/orders/checkout", h.Checkout)
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:id", h.GetOrder)
}

// Checkout converte o carrinho do usuário em um pedido
func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("user_id", req.UserID))

	order, err := h.orders.Checkout(c.Request.Context(), req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

// GetOrder busca um pedido pelo ID
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrders lista os pedidos, filtrando por ?userId= quando informado
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), strings.TrimSpace(c.Query("userId")))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]OrderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o)
	}
	c.JSON(http.StatusOK, resp)
}

// CreateProduct cadastra um produto
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.products.CreateProduct(c.Request.Context(), CreateProductInput{
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(product))
}

// UpdateProduct edita nome, preço ou estoque de um produto
func (h *Handler) UpdateProduct(c *gin.Context) {
	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.products.UpdateProduct(c.Request.Context(), c.Param("id"), UpdateProductInput{
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

// GetProduct busca um produto pelo ID
func (h *Handler) GetProduct(c *gin.Context) {
	product, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

// ListProducts lista o catálogo
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.products.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]ProductResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	c.JSON(http.StatusOK, resp)
}

// GetCart devolve o carrinho com totais
func (h *Handler) GetCart(c *gin.Context) {
	view, err := h.carts.GetCart(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(view))
}

// AddCartItem adiciona um produto ao carrinho
func (h *Handler) AddCartItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Param("userId")
	if err := h.carts.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	h.respondCart(c, userID, http.StatusCreated)
}

// SetCartItemQuantity altera a quantidade de uma linha
func (h *Handler) SetCartItemQuantity(c *gin.Context) {
	var req SetQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Param("userId")
	if err := h.carts.SetQuantity(c.Request.Context(), userID, c.Param("productId"), *req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	h.respondCart(c, userID, http.StatusOK)
}

// RemoveCartItem remove uma linha do carrinho
func (h *Handler) RemoveCartItem(c *gin.Context) {
	userID := c.Param("userId")
	if err := h.carts.RemoveItem(c.Request.Context(), userID, c.Param("productId")); err != nil {
		h.writeError(c, err)
		return
	}
	h.respondCart(c, userID, http.StatusOK)
}

func (h *Handler) respondCart(c *gin.Context, userID string, status int) {
	view, err := h.carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(status, toCartResponse(view))
}

// HealthCheck verifica se o serviço está saudável
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "orders",
	})
}

// writeError traduz erros de domínio para status HTTP
func (h *Handler) writeError(c *gin.Context, err error) {
	span := trace.SpanFromContext(c.Request.Context())
	span.RecordError(err)

	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":       stockErr.Error(),
			"productId":   stockErr.ProductID,
			"productName": stockErr.ProductName,
			"available":   stockErr.Available,
			"requested":   stockErr.Requested,
			"retryable":   stockErr.Conflict,
		})
	case errors.Is(err, ErrConsistencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, ErrEmptyCart):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("❌ request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrStorage.Error()})
	}
}
