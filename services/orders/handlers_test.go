package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *gin.Engine
	store  *MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	logger := zap.NewNop()
	handler := NewHandler(
		newTestOrderUseCase(NewMemoryRepositories(store), nil),
		NewProductUseCase(store, logger),
		NewCartUseCase(store, store, nil, logger),
		logger,
	)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *testServer) createProduct(t *testing.T, name string, price json.Number, stock int) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/products", map[string]any{"name": name, "price": price, "stock": stock})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody(t, w)["id"].(string)
}

func TestHandler_HealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"orders"}`, w.Body.String())
}

func TestHandler_CheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	productID := s.createProduct(t, "Keyboard", "10.00", 5)

	w := s.do(t, http.MethodPost, "/api/carts/user-1/items", map[string]any{"productId": productID, "quantity": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total":20.00`)

	w = s.do(t, http.MethodPost, "/api/orders/checkout", CheckoutRequest{UserID: "user-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// valores monetários sempre com duas casas
	assert.Contains(t, w.Body.String(), `"totalPrice":20.00`)
	assert.Contains(t, w.Body.String(), `"productPrice":10.00`)

	var order OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, "user-1", order.UserID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Keyboard", order.Items[0].ProductName)
	assert.Equal(t, 2, order.Items[0].Quantity)

	w = s.do(t, http.MethodGet, "/api/orders/"+order.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/products/"+productID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decodeBody(t, w)["stock"])

	w = s.do(t, http.MethodGet, "/api/orders?userId=user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)

	// carrinho vazio depois do checkout
	w = s.do(t, http.MethodPost, "/api/orders/checkout", CheckoutRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_CheckoutInsufficientStock(t *testing.T) {
	s := newTestServer(t)
	productID := s.createProduct(t, "Mouse", "5.00", 5)
	w := s.do(t, http.MethodPost, "/api/carts/user-1/items", map[string]any{"productId": productID, "quantity": 3})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPatch, "/api/products/"+productID, map[string]any{"stock": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/orders/checkout", CheckoutRequest{UserID: "user-1"})

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, productID, body["productId"])
	assert.Equal(t, "Mouse", body["productName"])
	assert.EqualValues(t, 2, body["available"])
	assert.EqualValues(t, 3, body["requested"])
	assert.Equal(t, false, body["retryable"])
	assert.Equal(t, `insufficient stock for "Mouse". Available: 2, Requested: 3`, body["error"])
}

func TestHandler_CheckoutErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/orders/checkout", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/orders/checkout", CheckoutRequest{UserID: "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ProductValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"price": "1.00", "stock": 1}},
		{"negative stock", map[string]any{"name": "x", "price": "1.00", "stock": -1}},
		{"three decimals", map[string]any{"name": "x", "price": "1.005", "stock": 1}},
		{"negative price", map[string]any{"name": "x", "price": "-1.00", "stock": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/products", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	w := s.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHandler_CartLines(t *testing.T) {
	s := newTestServer(t)
	productID := s.createProduct(t, "Cable", "3.33", 10)

	w := s.do(t, http.MethodPost, "/api/carts/user-1/items", map[string]any{"productId": productID, "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/carts/user-1/items", map[string]any{"productId": "missing", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/carts/user-1/items", map[string]any{"productId": productID, "quantity": 11})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/carts/user-1/items", map[string]any{"productId": productID, "quantity": 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPut, "/api/carts/user-1/items/"+productID, map[string]any{"quantity": 3})
	require.Equal(t, http.StatusOK, w.Code)
	var cart CartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cart))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, json.Number("9.99"), cart.Total)

	w = s.do(t, http.MethodPut, "/api/carts/user-1/items/"+productID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/api/carts/user-1/items/"+productID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0.00`)

	w = s.do(t, http.MethodDelete, "/api/carts/user-1/items/"+productID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/carts/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type failingOrderUseCase struct {
	err error
}

func (f failingOrderUseCase) Checkout(context.Context, string) (*Order, error) { return nil, f.err }
func (f failingOrderUseCase) GetOrder(context.Context, string) (*Order, error) { return nil, f.err }
func (f failingOrderUseCase) ListOrders(context.Context, string) ([]*Order, error) {
	return nil, f.err
}

func TestHandler_ErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"conflict", storageError("decrement stock", ErrConsistencyConflict), http.StatusConflict},
		{"guard conflict", &InsufficientStockError{ProductName: "A", Available: 0, Requested: 1, Conflict: true}, http.StatusConflict},
		{"empty cart", ErrEmptyCart, http.StatusUnprocessableEntity},
		{"not found", ErrCartNotFound, http.StatusNotFound},
		{"storage", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(failingOrderUseCase{err: tt.err}, nil, nil, zap.NewNop())
			router := gin.New()
			handler.RegisterRoutes(router)

			body, _ := json.Marshal(CheckoutRequest{UserID: "user-1"})
			req := httptest.NewRequest(http.MethodPost, "/api/orders/checkout", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandler_StorageFailureHidesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(failingOrderUseCase{err: errors.New("pq: password authentication failed")}, nil, nil, zap.NewNop())
	router := gin.New()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}
