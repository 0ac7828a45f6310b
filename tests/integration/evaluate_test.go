//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Harrier server.
//
// These tests verify the complete eligibility pipeline:
//
//	Inputs → Mandatory check → Enrichment → Ecards → Pcards → Caps → Response
//
// Run with:
//
//	SQLITE_PATH=/tmp/harrier-it.db go run ./cmd/harrier &
//	HARRIER_TEST_SQLITE_PATH=/tmp/harrier-it.db go test -tags=integration -v ./tests/integration/...
//
// The tests seed tenant configuration straight into the server's SQLite file,
// then ask the server to drop its cached snapshot before evaluating.
//
// SEEDED CONFIGURATION (tenant 9001):
//
// | Object        | Definition                                          |
// |---------------|-----------------------------------------------------|
// | Parameters    | Age (number), LoanNo (text, mandatory), Score       |
// | Factor 1      | Age >25                                             |
// | Rule master 1 | factor 1                                            |
// | Ecard 200     | rule master 1                                       |
// | PL01          | pcard "200", cap 20000 for Age 26-60, 10000 others  |
// | CC01          | no pcard                                            |
// | Caps          | PL01: score 0-49 → 25%, score 50-100 → 50%          |
// | API "bureau"  | returns data.score, aliased to Score                |
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/shopspring/decimal"
)

const testTenant int64 = 9001

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL    string
	SQLitePath string
	TenantID   string
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()
	baseURL := os.Getenv("HARRIER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	path := os.Getenv("HARRIER_TEST_SQLITE_PATH")
	if path == "" {
		t.Skip("HARRIER_TEST_SQLITE_PATH not set")
	}
	return TestConfig{BaseURL: baseURL, SQLitePath: path, TenantID: "9001"}
}

// EligibilityResponse mirrors the API contract.
type EligibilityResponse struct {
	RequestID           string   `json:"requestId"`
	CustomerScore       *float64 `json:"customerScore"`
	MandatoryParameters []string `json:"mandatoryParameters"`
	EligibleProducts    []struct {
		ProductCode    string  `json:"productCode"`
		EligibleAmount float64 `json:"eligibleAmount"`
	} `json:"eligibleProducts"`
	NonEligibleProducts []struct {
		ProductCode string `json:"productCode"`
		Message     string `json:"message"`
	} `json:"nonEligibleProducts"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

// seed writes the tenant configuration with a bureau stub and invalidates the cache.
func seed(t *testing.T, config TestConfig) {
	t.Helper()
	ctx := context.Background()

	bureau := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Query().Get("LoanNo"), "LOW") {
			w.Write([]byte(`{"data":{"score":20}}`))
			return
		}
		w.Write([]byte(`{"data":{"score":75}}`))
	}))
	t.Cleanup(bureau.Close)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: config.SQLitePath})
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	defer repo.Close()

	steps := []error{
		repo.SaveParameter(ctx, testTenant, &domain.Parameter{ID: 1, Name: "Age", DataType: domain.DataTypeNumber}),
		repo.SaveParameter(ctx, testTenant, &domain.Parameter{ID: 2, Name: "LoanNo", Mandatory: true, DataType: domain.DataTypeText}),
		repo.SaveParameter(ctx, testTenant, &domain.Parameter{ID: 3, Name: "Score", DataType: domain.DataTypeNumber}),
		repo.SaveFactor(ctx, testTenant, &domain.Factor{ID: 1, ParameterID: 1, AttributeName: "Age", Condition: ">25"}),
		repo.SaveRuleMaster(ctx, testTenant, &domain.RuleMaster{ID: 1, Name: "adult", Active: true}),
		repo.SaveRule(ctx, testTenant, &domain.Rule{ID: 1, MasterID: 1, Version: 1, Expression: "1"}),
		repo.SaveEcard(ctx, testTenant, &domain.Ecard{ID: 200, Name: "base", Expression: "1"}),
		repo.SaveProduct(ctx, testTenant, &domain.Product{ID: 1, Code: "PL01", Name: "Personal Loan"}),
		repo.SaveProduct(ctx, testTenant, &domain.Product{ID: 2, Code: "CC01", Name: "Credit Card"}),
		repo.SavePcard(ctx, testTenant, &domain.Pcard{ID: 1, ProductID: 1, Expression: "200"}),
		repo.SaveProductCapAmount(ctx, testTenant, &domain.ProductCapAmount{
			ID: 1, ProductID: 1, RowOrder: 1, Amount: decimal.NewFromInt(20000),
			Conditions: []domain.CapCondition{{ParameterName: "Age", Condition: "26-60"}},
		}),
		repo.SaveProductCapAmount(ctx, testTenant, &domain.ProductCapAmount{
			ID: 2, ProductID: 1, RowOrder: 2, Amount: decimal.NewFromInt(10000),
			Conditions: []domain.CapCondition{{ParameterName: "Age", Condition: "All"}},
		}),
		repo.SaveProductCap(ctx, testTenant, &domain.ProductCap{
			ID: 1, ProductID: 1, MinimumScore: decimal.Zero, MaximumScore: decimal.NewFromInt(49), Percentage: decimal.NewFromInt(25),
		}),
		repo.SaveProductCap(ctx, testTenant, &domain.ProductCap{
			ID: 2, ProductID: 1, MinimumScore: decimal.NewFromInt(50), MaximumScore: decimal.NewFromInt(100), Percentage: decimal.NewFromInt(50),
		}),
		repo.SaveExternalAPI(ctx, testTenant, &domain.ExternalAPI{
			ID: 1, Name: "bureau", Method: "GET", URL: bureau.URL,
			RequestParameters: []string{"LoanNo"}, ExecutionOrder: 1, Active: true, TimeoutMs: 2000,
		}),
		repo.SaveParameterAlias(ctx, testTenant, &domain.ParameterAlias{APIID: 1, ResponseField: "data.score", ParameterName: "Score"}),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("Seed step %d failed: %v", i, err)
		}
	}

	resp := post(t, config, "/config/invalidate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected invalidate to return 200, got %d", resp.StatusCode)
	}
}

func post(t *testing.T, config TestConfig, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	httpReq, err := http.NewRequest(http.MethodPost, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if config.TenantID != "" {
		httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func eligibility(t *testing.T, config TestConfig, requestID string, inputs map[string]string, wantStatus int) EligibilityResponse {
	t.Helper()

	resp := post(t, config, "/eligibility", map[string]any{"requestId": requestID, "inputs": inputs})
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected status %d, got %d: %s", wantStatus, resp.StatusCode, string(body))
	}

	var result EligibilityResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func uniqueID(prefix string) string {
	return prefix + "-" + time.Now().Format("150405.000000000")
}

// ============================================================================
// Scenarios
// ============================================================================

func TestEnrichedApplicant_Eligible(t *testing.T) {
	/*
	   SCENARIO: Age 30, bureau score 75

	   - factor Age >25 passes, so ecard 200 and pcard "200" pass
	   - cap row 1 (Age 26-60) → 20000
	   - score 75 falls in the 50-100 band → 50% → 10000
	   - CC01 has no pcard
	*/
	config := getTestConfig(t)
	seed(t, config)

	requestID := uniqueID("it-eligible")
	result := eligibility(t, config, requestID, map[string]string{"Age": "30", "LoanNo": "LN-1"}, http.StatusOK)

	if result.RequestID != requestID {
		t.Errorf("Expected requestId %s, got %s", requestID, result.RequestID)
	}
	if result.CustomerScore == nil || *result.CustomerScore != 75 {
		t.Errorf("Expected customerScore 75, got %v", result.CustomerScore)
	}
	if len(result.EligibleProducts) != 1 || result.EligibleProducts[0].ProductCode != "PL01" || result.EligibleProducts[0].EligibleAmount != 10000 {
		t.Errorf("Expected PL01 eligible for 10000, got %+v", result.EligibleProducts)
	}
	if len(result.NonEligibleProducts) != 1 || result.NonEligibleProducts[0].ProductCode != "CC01" {
		t.Errorf("Expected CC01 non-eligible, got %+v", result.NonEligibleProducts)
	}

	t.Logf("Eligible applicant: %+v", result.EligibleProducts)
}

func TestLowScore_LowerPercentage(t *testing.T) {
	config := getTestConfig(t)
	seed(t, config)

	result := eligibility(t, config, uniqueID("it-low"), map[string]string{"Age": "70", "LoanNo": "LOW-1"}, http.StatusOK)

	// Age 70 skips the 26-60 row → 10000; score 20 → 25% → 2500.
	if len(result.EligibleProducts) != 1 || result.EligibleProducts[0].EligibleAmount != 2500 {
		t.Errorf("Expected PL01 eligible for 2500, got %+v", result.EligibleProducts)
	}
}

func TestDirectScoreWins(t *testing.T) {
	config := getTestConfig(t)
	seed(t, config)

	result := eligibility(t, config, uniqueID("it-direct"), map[string]string{"Age": "30", "LoanNo": "LN-1", "Score": "10"}, http.StatusOK)

	if result.CustomerScore == nil || *result.CustomerScore != 10 {
		t.Errorf("Expected the supplied score to win, got %v", result.CustomerScore)
	}
}

func TestUnderage_NotEligible(t *testing.T) {
	config := getTestConfig(t)
	seed(t, config)

	result := eligibility(t, config, uniqueID("it-young"), map[string]string{"Age": "20", "LoanNo": "LN-1"}, http.StatusOK)

	if len(result.EligibleProducts) != 0 {
		t.Errorf("Expected no eligible products, got %+v", result.EligibleProducts)
	}
	if len(result.NonEligibleProducts) != 2 {
		t.Errorf("Expected both products non-eligible, got %+v", result.NonEligibleProducts)
	}
}

func TestMissingMandatory_Rejected(t *testing.T) {
	config := getTestConfig(t)
	seed(t, config)

	result := eligibility(t, config, uniqueID("it-missing"), map[string]string{"Age": "30"}, http.StatusUnprocessableEntity)

	if len(result.MandatoryParameters) != 1 || result.MandatoryParameters[0] != "LoanNo" {
		t.Errorf("Expected LoanNo reported missing, got %v", result.MandatoryParameters)
	}
}

func TestEvaluationIsRecorded(t *testing.T) {
	config := getTestConfig(t)
	seed(t, config)

	requestID := uniqueID("it-recorded")
	eligibility(t, config, requestID, map[string]string{"Age": "30", "LoanNo": "LN-1"}, http.StatusOK)

	httpReq, _ := http.NewRequest(http.MethodGet, config.BaseURL+"/evaluations/"+requestID, nil)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var detail struct {
		RequestID string `json:"requestId"`
		APICalls  []struct {
			APIName string `json:"apiName"`
			Success bool   `json:"success"`
		} `json:"apiCalls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("Failed to decode detail: %v", err)
	}
	if detail.RequestID != requestID {
		t.Errorf("Expected requestId %s, got %s", requestID, detail.RequestID)
	}
	if len(detail.APICalls) != 1 || !detail.APICalls[0].Success {
		t.Errorf("Expected one successful bureau call, got %+v", detail.APICalls)
	}
}

func TestMissingTenantHeader_Error(t *testing.T) {
	config := getTestConfig(t)
	config.TenantID = ""

	resp := post(t, config, "/eligibility", map[string]any{"inputs": map[string]string{"Age": "30"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing tenant, got %d", resp.StatusCode)
	}
}
