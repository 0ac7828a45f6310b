package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/eligibility"
	"github.com/opensource-finance/harrier/internal/enrichment"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/shopspring/decimal"
)

const tenant = "7"

type testEnv struct {
	server  *Server
	repo    *repository.SQLRepository
	bus     *bus.ChannelBus
	metrics *metrics.Metrics
}

// newTestEnv wires the real stack on a temporary SQLite database with an
// external score API served by httptest.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	bureau := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"score":80}}`))
	}))
	t.Cleanup(bureau.Close)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(repo.SaveParameter(ctx, 7, &domain.Parameter{ID: 1, Name: "Age", DataType: domain.DataTypeNumber}))
	must(repo.SaveParameter(ctx, 7, &domain.Parameter{ID: 2, Name: "LoanNo", Mandatory: true, DataType: domain.DataTypeText}))
	must(repo.SaveParameter(ctx, 7, &domain.Parameter{ID: 3, Name: "Score", DataType: domain.DataTypeNumber}))
	must(repo.SaveFactor(ctx, 7, &domain.Factor{ID: 1, ParameterID: 1, AttributeName: "Age", Condition: ">25"}))
	must(repo.SaveRuleMaster(ctx, 7, &domain.RuleMaster{ID: 1, Name: "adult", Active: true}))
	must(repo.SaveRule(ctx, 7, &domain.Rule{ID: 1, MasterID: 1, Version: 1, Expression: "1"}))
	must(repo.SaveEcard(ctx, 7, &domain.Ecard{ID: 200, Name: "base", Expression: "1"}))
	must(repo.SaveProduct(ctx, 7, &domain.Product{ID: 1, Code: "PL01", Name: "Personal Loan"}))
	must(repo.SaveProduct(ctx, 7, &domain.Product{ID: 2, Code: "CC01", Name: "Credit Card"}))
	must(repo.SavePcard(ctx, 7, &domain.Pcard{ID: 1, ProductID: 1, Expression: "200"}))
	must(repo.SaveProductCapAmount(ctx, 7, &domain.ProductCapAmount{
		ID: 1, ProductID: 1, RowOrder: 1, Amount: decimal.NewFromInt(10000),
		Conditions: []domain.CapCondition{{ParameterName: "Age", Condition: "All"}},
	}))
	must(repo.SaveProductCap(ctx, 7, &domain.ProductCap{
		ID: 1, ProductID: 1, MinimumScore: decimal.Zero, MaximumScore: decimal.NewFromInt(100), Percentage: decimal.NewFromInt(50),
	}))
	must(repo.SaveExternalAPI(ctx, 7, &domain.ExternalAPI{
		ID: 1, Name: "bureau", Method: "GET", URL: bureau.URL, RequestParameters: []string{"LoanNo"},
		ExecutionOrder: 1, Active: true,
	}))
	must(repo.SaveParameterAlias(ctx, 7, &domain.ParameterAlias{APIID: 1, ResponseField: "data.score", ParameterName: "Score"}))

	engine, err := eligibility.NewEngine(domain.EligibilityConfig{ScoreParameter: "Score"}, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	m := metrics.New()
	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })
	reader := cache.NewSnapshotReader(repo, cache.NewLRUCache(10), time.Minute)
	pipeline := enrichment.NewPipeline(reader, engine, repo,
		domain.EnrichmentConfig{CallTimeout: time.Second},
		enrichment.WithMetrics(m), enrichment.WithBus(eventBus))

	srv := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080}, Deps{
		Pipeline:    pipeline,
		Engine:      engine,
		Reader:      reader,
		Results:     repo,
		Invalidator: reader,
		Bus:         eventBus,
		Metrics:     m,
		Checks:      map[string]Pinger{"repository": repo, "bus": eventBus},
	}, "test-v1")

	return &testEnv{server: srv, repo: repo, bus: eventBus, metrics: m}
}

func (e *testEnv) do(method, path, tenantID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestEligibilityEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Eligible", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/eligibility", tenant, EligibilityRequest{
			RequestID: "req-100",
			Inputs:    map[string]string{"Age": "30", "LoanNo": "LN-1"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[domain.EligibilityResponse](t, rr)
		if resp.RequestID != "req-100" {
			t.Errorf("expected request id echoed, got %q", resp.RequestID)
		}
		if resp.CustomerScore == nil || *resp.CustomerScore != 80 {
			t.Errorf("expected enriched score 80, got %v", resp.CustomerScore)
		}
		if len(resp.EligibleProducts) != 1 || !resp.EligibleProducts[0].EligibleAmount.Equal(decimal.NewFromInt(5000)) {
			t.Errorf("unexpected eligible products: %+v", resp.EligibleProducts)
		}
		if len(resp.NonEligibleProducts) != 1 || resp.NonEligibleProducts[0].Message != eligibility.MsgNoProductCard {
			t.Errorf("unexpected non-eligible products: %+v", resp.NonEligibleProducts)
		}
		if !strings.Contains(rr.Body.String(), `"eligibleAmount":5000`) {
			t.Errorf("expected numeric amount in %s", rr.Body.String())
		}
	})

	t.Run("MissingMandatory", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/eligibility", tenant, EligibilityRequest{
			RequestID: "req-101",
			Inputs:    map[string]string{"Age": "30"},
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[domain.EligibilityResponse](t, rr)
		if len(resp.MandatoryParameters) != 1 || resp.MandatoryParameters[0] != "LoanNo" {
			t.Errorf("expected LoanNo missing, got %v", resp.MandatoryParameters)
		}
		if len(resp.EligibleProducts)+len(resp.NonEligibleProducts) != 0 {
			t.Error("no products should be evaluated")
		}
	})

	t.Run("GeneratedRequestID", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/eligibility", tenant, EligibilityRequest{
			Inputs: map[string]string{"Age": "30", "LoanNo": "LN-1"},
		})
		resp := decode[domain.EligibilityResponse](t, rr)
		if resp.RequestID == "" || resp.RequestID != rr.Header().Get(RequestIDHeader) {
			t.Errorf("expected request id %q, got %q", rr.Header().Get(RequestIDHeader), resp.RequestID)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/eligibility", strings.NewReader("{"))
		req.Header.Set(TenantIDHeader, tenant)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestTenantHeader(t *testing.T) {
	env := newTestEnv(t)
	for _, h := range []string{"", "abc", "0", "-1"} {
		rr := env.do(http.MethodPost, "/eligibility", h, EligibilityRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("tenant %q: expected 400, got %d", h, rr.Code)
		}
	}
}

func TestEvaluateOnlyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/eligibility/evaluate", tenant, EligibilityRequest{
		RequestID: "dry-1",
		Inputs:    map[string]string{"Age": "30", "Score": "100"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[domain.EligibilityResponse](t, rr)
	if len(resp.EligibleProducts) != 1 || !resp.EligibleProducts[0].EligibleAmount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("unexpected eligible products: %+v", resp.EligibleProducts)
	}

	if _, err := env.repo.GetEvaluationRun(context.Background(), 7, "dry-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("evaluate-only must not persist, got %v", err)
	}
}

func TestGetEvaluationEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/eligibility", tenant, EligibilityRequest{
		RequestID: "req-200",
		Inputs:    map[string]string{"Age": "30", "LoanNo": "LN-1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("evaluate failed: %d %s", rr.Code, rr.Body.String())
	}

	t.Run("Found", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/evaluations/req-200", tenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		detail := decode[struct {
			RequestID        string                   `json:"requestId"`
			EvaluationID     string                   `json:"evaluationId"`
			Inputs           map[string]string        `json:"inputs"`
			EligibleProducts []domain.EligibleProduct `json:"eligibleProducts"`
			APICalls         []domain.APICallLog      `json:"apiCalls"`
		}](t, rr)
		if detail.RequestID != "req-200" || detail.EvaluationID == "" {
			t.Errorf("unexpected detail: %+v", detail)
		}
		if detail.Inputs["Score"] != "80" {
			t.Errorf("expected enriched inputs to be stored, got %v", detail.Inputs)
		}
		if len(detail.APICalls) != 1 || !detail.APICalls[0].Success {
			t.Errorf("expected one successful api call, got %+v", detail.APICalls)
		}
	})

	t.Run("OtherTenant", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/evaluations/req-200", "8", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 across tenants, got %d", rr.Code)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if rr := env.do(http.MethodGet, "/evaluations/nope", tenant, nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("ReusedRequestID", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/eligibility", tenant, EligibilityRequest{
			RequestID: "req-200",
			Inputs:    map[string]string{"Age": "40", "LoanNo": "LN-2"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("re-evaluate failed: %d %s", rr.Code, rr.Body.String())
		}

		detail := decode[struct {
			EvaluationID string              `json:"evaluationId"`
			Inputs       map[string]string   `json:"inputs"`
			APICalls     []domain.APICallLog `json:"apiCalls"`
		}](t, env.do(http.MethodGet, "/evaluations/req-200", tenant, nil))
		if detail.Inputs["Age"] != "40" {
			t.Errorf("expected the latest run, got inputs %v", detail.Inputs)
		}
		if len(detail.APICalls) != 1 || detail.APICalls[0].RunID != detail.EvaluationID {
			t.Errorf("expected only the latest run's api call, got %+v", detail.APICalls)
		}
	})
}

func TestInvalidateConfigEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	changed := make(chan struct{}, 1)
	env.bus.Subscribe(ctx, tenant, domain.TopicConfigChanged, func(ctx context.Context, msg *domain.Message) error {
		changed <- struct{}{}
		return nil
	})

	// Warm the cache, then change configuration behind it.
	env.do(http.MethodPost, "/eligibility/evaluate", tenant, EligibilityRequest{Inputs: map[string]string{"Age": "30"}})
	if err := env.repo.SavePcard(ctx, 7, &domain.Pcard{ID: 2, ProductID: 2, Expression: "200"}); err != nil {
		t.Fatal(err)
	}

	rr := env.do(http.MethodPost, "/config/invalidate", tenant, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected a config change broadcast")
	}

	rr = env.do(http.MethodPost, "/eligibility/evaluate", tenant, EligibilityRequest{Inputs: map[string]string{"Age": "30"}})
	resp := decode[domain.EligibilityResponse](t, rr)
	for _, p := range resp.NonEligibleProducts {
		if p.ProductCode == "CC01" && p.Message == eligibility.MsgNoProductCard {
			t.Error("stale snapshot served after invalidation")
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	health := decode[map[string]any](t, rr)
	if health["status"] != "healthy" || health["version"] != "test-v1" {
		t.Errorf("unexpected health: %v", health)
	}

	if rr := env.do(http.MethodGet, "/ready", "", nil); rr.Code != http.StatusOK {
		t.Errorf("expected ready, got %d", rr.Code)
	}

	env.bus.Close()
	if rr := env.do(http.MethodGet, "/ready", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with the bus closed, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/eligibility", tenant, EligibilityRequest{
		Inputs: map[string]string{"Age": "30", "LoanNo": "LN-1"},
	})

	rr := env.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`harrier_evaluations_total{outcome="evaluated"} 1`,
		`harrier_enrichment_calls_total{api="bureau",result="ok"} 1`,
		`harrier_http_requests_total{method="POST",route="/eligibility",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/eligibility", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("unexpected allow-origin %q", got)
	}
}
