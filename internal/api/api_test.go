package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pesaguard/pesaguard/internal/bus"
	"github.com/pesaguard/pesaguard/internal/cache"
	"github.com/pesaguard/pesaguard/internal/domain"
	"github.com/pesaguard/pesaguard/internal/history"
	"github.com/pesaguard/pesaguard/internal/repository"
	"github.com/pesaguard/pesaguard/internal/scoring"
)

func newTestServer(t *testing.T) (*httptest.Server, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cfg := domain.DefaultScoringConfig()
	engine, err := scoring.NewEngine(cfg, scoring.LinearPredictor{})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	c, err := cache.New(domain.CacheConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	b := bus.NewChannelBus(domain.EventBusConfig{})
	t.Cleanup(func() { b.Close() })

	svc := scoring.NewService(repo, c, b, history.NewAggregator(repo, cfg), engine, nil)
	handler := NewHandler(repo, svc, b, nil, false)
	server := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, handler, nil, false)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return ts, repo
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func registerBusiness(t *testing.T, baseURL, shortCode string) string {
	t.Helper()

	resp := postJSON(t, baseURL+"/api/v1/businesses", map[string]string{
		"name":      "Test Merchant",
		"shortCode": shortCode,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("failed to register business: status %d", resp.StatusCode)
	}
	b := decode[domain.Business](t, resp)
	return b.ID
}

func callbackPayload(transID, shortCode, msisdn string, amount float64, transTime time.Time) map[string]any {
	return map[string]any{
		"TransactionType":   "Pay Bill",
		"TransID":           transID,
		"TransTime":         transTime.Format(transTimeLayout),
		"TransAmount":       fmt.Sprintf("%.2f", amount),
		"BusinessShortCode": shortCode,
		"BillRefNumber":     "INV001",
		"MSISDN":            msisdn,
		"FirstName":         "John",
	}
}

func TestCallbackIngestsAndAssesses(t *testing.T) {
	ts, repo := newTestServer(t)
	businessID := registerBusiness(t, ts.URL, "600100")

	resp := postJSON(t, ts.URL+"/api/v1/mpesa/callback",
		callbackPayload("RKT001", "600100", "254712345678", 1500, time.Now()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ack := decode[gatewayAck](t, resp)
	if ack.ResultCode != 0 {
		t.Errorf("expected ResultCode 0, got %d", ack.ResultCode)
	}

	// The transaction is stored and assessed before the ack.
	transactions, err := repo.ListTransactions(context.Background(), businessID, 10, 0)
	if err != nil || len(transactions) != 1 {
		t.Fatalf("expected 1 stored transaction, got %d (%v)", len(transactions), err)
	}
	if _, err := repo.GetAssessmentByTransaction(context.Background(), transactions[0].ID); err != nil {
		t.Errorf("expected assessment to exist: %v", err)
	}
}

func TestCallbackUnknownShortCode(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/mpesa/callback",
		callbackPayload("RKT002", "999999", "254712345678", 1500, time.Now()))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown short code, got %d", resp.StatusCode)
	}
}

func TestCallbackBadInput(t *testing.T) {
	ts, _ := newTestServer(t)
	registerBusiness(t, ts.URL, "600100")

	payload := callbackPayload("RKT003", "600100", "254712345678", 1500, time.Now())
	payload["TransTime"] = "not-a-time"

	resp := postJSON(t, ts.URL+"/api/v1/mpesa/callback", payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad TransTime, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/v1/mpesa/callback", map[string]any{"TransID": "RKT004"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", resp.StatusCode)
	}
}

func TestValidationAlwaysAccepts(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/mpesa/validation", map[string]any{
		"TransAmount": "999999",
	})
	ack := decode[gatewayAck](t, resp)
	if ack.ResultCode != 0 {
		t.Errorf("validation must accept, got ResultCode %d", ack.ResultCode)
	}
}

func TestGetTransactionWithAssessment(t *testing.T) {
	ts, repo := newTestServer(t)
	businessID := registerBusiness(t, ts.URL, "600100")

	resp := postJSON(t, ts.URL+"/api/v1/mpesa/callback",
		callbackPayload("RKT005", "600100", "254712345678", 2000, time.Now()))
	resp.Body.Close()

	transactions, _ := repo.ListTransactions(context.Background(), businessID, 1, 0)
	txID := transactions[0].ID

	httpResp, err := http.Get(ts.URL + "/api/v1/transactions/" + txID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decode[map[string]json.RawMessage](t, httpResp)
	if _, ok := body["transaction"]; !ok {
		t.Error("expected transaction in response")
	}
	if _, ok := body["assessment"]; !ok {
		t.Error("expected assessment in response")
	}

	httpResp, err = http.Get(ts.URL + "/api/v1/transactions/missing")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpResp.StatusCode)
	}
}

// seedNightPattern enables the unusual-time signal with enough weight
// to flag off-hours transactions.
func seedNightPattern(t *testing.T, ts *httptest.Server) {
	t.Helper()

	resp := postJSON(t, ts.URL+"/api/v1/patterns", map[string]any{
		"patternType": "unusual_time",
		"name":        "Unusual Time",
		"weight":      0.5,
		"active":      true,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("failed to save pattern: status %d", resp.StatusCode)
	}
}

func TestFlaggedReviewFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	businessID := registerBusiness(t, ts.URL, "600100")
	seedNightPattern(t, ts)

	night := time.Date(time.Now().Year(), 6, 10, 2, 0, 0, 0, time.Local)
	resp := postJSON(t, ts.URL+"/api/v1/mpesa/callback",
		callbackPayload("RKT006", "600100", "254712345678", 3000, night))
	resp.Body.Close()

	// Flagged feed contains the assessment.
	httpResp, err := http.Get(ts.URL + "/api/v1/fraud/flagged?businessId=" + businessID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	feed := decode[map[string][]domain.FlaggedTransaction](t, httpResp)
	if len(feed["flagged"]) != 1 {
		t.Fatalf("expected 1 flagged transaction, got %d", len(feed["flagged"]))
	}
	assessmentID := feed["flagged"][0].Assessment.ID

	// Review it.
	resp = postJSON(t, ts.URL+"/api/v1/fraud/review/"+assessmentID, map[string]string{
		"userId": "analyst-1",
		"notes":  "verified with customer",
	})
	reviewed := decode[domain.FraudAssessment](t, resp)
	if !reviewed.Reviewed || reviewed.ReviewedBy != "analyst-1" {
		t.Errorf("unexpected review state: %+v", reviewed.ReviewState)
	}

	// Re-review wins with the latest reviewer.
	resp = postJSON(t, ts.URL+"/api/v1/fraud/review/"+assessmentID, map[string]string{
		"userId": "analyst-2",
		"notes":  "escalated",
	})
	reviewed = decode[domain.FraudAssessment](t, resp)
	if reviewed.ReviewedBy != "analyst-2" || reviewed.Notes != "escalated" {
		t.Errorf("re-review did not take the latest write: %+v", reviewed.ReviewState)
	}

	// The pending feed is now empty.
	httpResp, err = http.Get(ts.URL + "/api/v1/fraud/flagged?businessId=" + businessID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	feed = decode[map[string][]domain.FlaggedTransaction](t, httpResp)
	if len(feed["flagged"]) != 0 {
		t.Errorf("expected empty pending feed after review, got %d", len(feed["flagged"]))
	}

	// Reviewing a missing assessment is a 404.
	resp = postJSON(t, ts.URL+"/api/v1/fraud/review/missing", map[string]string{"userId": "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestBatchEndpoint(t *testing.T) {
	ts, repo := newTestServer(t)
	businessID := registerBusiness(t, ts.URL, "600100")

	resp := postJSON(t, ts.URL+"/api/v1/mpesa/callback",
		callbackPayload("RKT007", "600100", "254712345678", 1000, time.Now()))
	resp.Body.Close()

	transactions, _ := repo.ListTransactions(context.Background(), businessID, 1, 0)
	txID := transactions[0].ID

	resp = postJSON(t, ts.URL+"/api/v1/fraud/batch", map[string]any{
		"transactionIds": []string{txID, "missing"},
	})
	body := decode[map[string][]batchItemResponse](t, resp)

	results := body["results"]
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Error != "" || results[0].Assessment == nil {
		t.Errorf("expected success for stored transaction, got %+v", results[0])
	}
	if results[1].Error == "" {
		t.Error("expected error for missing transaction")
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	registerBusiness(t, ts.URL, "600100")
	seedNightPattern(t, ts)

	night := time.Date(time.Now().Year(), 6, 10, 2, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/api/v1/mpesa/callback",
			callbackPayload(fmt.Sprintf("RKT10%d", i), "600100", "254712345678", 1000, night.Add(time.Duration(i)*time.Hour)))
		resp.Body.Close()
	}

	httpResp, err := http.Get(ts.URL + "/api/v1/fraud/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	stats := decode[domain.FraudStatistics](t, httpResp)
	if stats.TotalAssessed != 3 {
		t.Errorf("expected 3 assessed, got %d", stats.TotalAssessed)
	}
	if stats.FlaggedCount == 0 {
		t.Error("expected flagged transactions in stats")
	}
}

func TestPatternEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	// Rejects out-of-range weight.
	resp := postJSON(t, ts.URL+"/api/v1/patterns", map[string]any{
		"patternType": "unusual_time",
		"name":        "bad",
		"weight":      1.5,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for weight > 1, got %d", resp.StatusCode)
	}

	// Rejects a custom pattern that does not compile.
	resp = postJSON(t, ts.URL+"/api/v1/patterns", map[string]any{
		"patternType": "custom",
		"name":        "broken",
		"expression":  "amount >>>",
		"weight":      0.2,
		"active":      true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for bad expression, got %d", resp.StatusCode)
	}

	// Accepts a valid custom pattern.
	resp = postJSON(t, ts.URL+"/api/v1/patterns", map[string]any{
		"patternType": "custom",
		"name":        "high value off hours",
		"expression":  "amount > 10000.0 && is_off_hours",
		"weight":      0.3,
		"active":      true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}

	httpResp, err := http.Get(ts.URL + "/api/v1/patterns?active=true")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decode[map[string][]domain.FraudPattern](t, httpResp)
	if len(body["patterns"]) != 1 {
		t.Errorf("expected 1 active pattern, got %d", len(body["patterns"]))
	}

	resp = postJSON(t, ts.URL+"/api/v1/patterns/reload", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 on reload, got %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", resp.StatusCode)
	}
}
