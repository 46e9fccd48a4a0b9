package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type benchResult struct {
	Timestamp       string         `json:"timestamp"`
	BaseURL         string         `json:"base_url"`
	ProductID       string         `json:"product_id"`
	InitialStock    int            `json:"initial_stock"`
	FinalStock      int            `json:"final_stock"`
	ExpectedStock   int            `json:"expected_stock"`
	Users           int            `json:"users"`
	QuantityPerUser int            `json:"quantity_per_user"`
	Concurrency     int            `json:"concurrency"`
	Successful      int            `json:"successful"`
	Rejected        int            `json:"rejected"`
	Errors          int            `json:"errors"`
	DurationSeconds float64        `json:"duration_seconds"`
	AvgLatencyMs    float64        `json:"avg_latency_ms"`
	P50LatencyMs    float64        `json:"p50_latency_ms"`
	P90LatencyMs    float64        `json:"p90_latency_ms"`
	P95LatencyMs    float64        `json:"p95_latency_ms"`
	P99LatencyMs    float64        `json:"p99_latency_ms"`
	ThroughputRPS   float64        `json:"throughput_rps"`
	StatusCounts    map[string]int `json:"status_counts"`
	FirstError      string         `json:"first_error"`
	Consistent      bool           `json:"consistent"`
}

type productResponse struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	rejected     int
	errors       int
	latenciesMs  []float64
	statusCounts map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{statusCounts: make(map[string]int)}
}

func (m *metrics) record(status int, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statusCounts[strconv.Itoa(status)]++
	m.latenciesMs = append(m.latenciesMs, float64(latency.Microseconds())/1000)

	switch {
	case err != nil:
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
	case status == http.StatusCreated:
		m.success++
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		// estoque esgotado ou carrinho já consumido: rejeição de negócio, não erro
		m.rejected++
	default:
		m.errors++
		if m.firstError == "" {
			m.firstError = fmt.Sprintf("unexpected status %d", status)
		}
	}
}

func main() {
	baseURL := flag.String("base-url", getenv("ORDERS_BASE_URL", "http://localhost:8080"), "orders service base URL")
	users := flag.Int("users", 200, "number of users racing for the same product")
	stock := flag.Int("stock", 50, "initial stock of the contested product")
	quantity := flag.Int("quantity", 1, "quantity each user puts in the cart")
	concurrency := flag.Int("concurrency", 20, "number of concurrent checkout workers")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *quantity <= 0 || *stock < 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency and quantity must be > 0 and stock >= 0")
		os.Exit(1)
	}

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(*timeout).
		SetHeader("Content-Type", "application/json")

	product, err := seedProduct(client, *stock)
	if err != nil {
		fail("failed to seed product", err)
	}

	userIDs := make([]string, *users)
	for i := range userIDs {
		userIDs[i] = "bench-" + uuid.NewString()
		if err := fillCart(client, userIDs[i], product.ID, *quantity); err != nil {
			fail("failed to fill cart", err)
		}
	}

	tasks := make(chan string)
	var wg sync.WaitGroup
	m := newMetrics()

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range tasks {
				status, latency, err := checkout(client, userID)
				m.record(status, latency, err)
			}
		}()
	}
	for _, userID := range userIDs {
		tasks <- userID
	}
	close(tasks)
	wg.Wait()
	duration := time.Since(start)

	final, err := getProduct(client, product.ID)
	if err != nil {
		fail("failed to read final stock", err)
	}

	sold := m.success * *quantity
	expected := *stock - sold
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)
	result := benchResult{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		BaseURL:         *baseURL,
		ProductID:       product.ID,
		InitialStock:    *stock,
		FinalStock:      final.Stock,
		ExpectedStock:   expected,
		Users:           *users,
		QuantityPerUser: *quantity,
		Concurrency:     *concurrency,
		Successful:      m.success,
		Rejected:        m.rejected,
		Errors:          m.errors,
		DurationSeconds: duration.Seconds(),
		AvgLatencyMs:    average(m.latenciesMs),
		P50LatencyMs:    p50,
		P90LatencyMs:    p90,
		P95LatencyMs:    p95,
		P99LatencyMs:    p99,
		ThroughputRPS:   float64(len(m.latenciesMs)) / duration.Seconds(),
		StatusCounts:    m.statusCounts,
		FirstError:      m.firstError,
		Consistent:      final.Stock == expected && final.Stock >= 0,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fail("failed to encode result", err)
	}

	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fail("failed to write output", err)
		}
	}

	if !result.Consistent {
		fmt.Fprintf(os.Stderr, "stock mismatch: final=%d expected=%d\n", final.Stock, expected)
		os.Exit(2)
	}
}

func seedProduct(client *resty.Client, stock int) (*productResponse, error) {
	var product productResponse
	resp, err := client.R().
		SetBody(map[string]any{
			"name":  "bench-" + uuid.NewString()[:8],
			"price": "10.00",
			"stock": stock,
		}).
		SetResult(&product).
		Post("/api/products")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return &product, nil
}

func fillCart(client *resty.Client, userID, productID string, quantity int) error {
	resp, err := client.R().
		SetPathParam("userId", userID).
		SetBody(map[string]any{"productId": productID, "quantity": quantity}).
		Post("/api/carts/{userId}/items")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func checkout(client *resty.Client, userID string) (int, time.Duration, error) {
	start := time.Now()
	resp, err := client.R().
		SetBody(map[string]any{"userId": userID}).
		Post("/api/orders/checkout")
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	return resp.StatusCode(), latency, nil
}

func getProduct(client *resty.Client, productID string) (*productResponse, error) {
	var product productResponse
	resp, err := client.R().
		SetPathParam("id", productID).
		SetResult(&product).
		Get("/api/products/{id}")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return &product, nil
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentile(sorted, 50), percentile(sorted, 90), percentile(sorted, 95), percentile(sorted, 99)
}

// percentile usa nearest-rank sobre um slice já ordenado
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
