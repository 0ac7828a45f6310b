// Package enrichment runs the full eligibility pipeline: mandatory input
// validation, external API enrichment, evaluation and persistence.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/eligibility"
	"github.com/opensource-finance/harrier/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("harrier-enrichment")

// Pipeline is the business rule engine entry point.
type Pipeline struct {
	reader  domain.ConfigReader
	engine  *eligibility.Engine
	sink    domain.ResultSink
	caller  Caller
	bus     domain.EventBus
	metrics *metrics.Metrics
	cfg     domain.EnrichmentConfig
	now     func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithBus publishes every decision to TopicEligibilityDecided.
func WithBus(bus domain.EventBus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCaller replaces the HTTP caller.
func WithCaller(c Caller) Option {
	return func(p *Pipeline) { p.caller = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires a pipeline. The sink may be nil to skip persistence.
func NewPipeline(reader domain.ConfigReader, engine *eligibility.Engine, sink domain.ResultSink, cfg domain.EnrichmentConfig, opts ...Option) *Pipeline {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	p := &Pipeline{
		reader: reader,
		engine: engine,
		sink:   sink,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.caller == nil {
		p.caller = NewHTTPCaller(nil)
	}
	return p
}

// Run evaluates one request end to end. The only error returned is a
// failure to load the tenant configuration.
func (p *Pipeline) Run(ctx context.Context, req *domain.EligibilityRequest) (*domain.EligibilityResponse, error) {
	start := p.now()
	ctx, span := tracer.Start(ctx, "enrichment.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("tenant.id", req.TenantID),
		attribute.String("request.id", req.RequestID),
	)

	snap, err := p.reader.LoadSnapshot(ctx, req.TenantID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.metrics.RecordEvaluation("failed", 0, 0, time.Since(start))
		return nil, fmt.Errorf("load configuration for tenant %d: %w", req.TenantID, err)
	}

	if missing := missingMandatory(snap, req.Inputs); len(missing) > 0 {
		slog.Info("request rejected",
			"tenant_id", req.TenantID,
			"request_id", req.RequestID,
			"missing", missing,
		)
		p.metrics.RecordEvaluation("rejected", 0, 0, time.Since(start))
		return &domain.EligibilityResponse{
			RequestID:           req.RequestID,
			MandatoryParameters: missing,
			EligibleProducts:    []domain.EligibleProduct{},
			NonEligibleProducts: []domain.NonEligibleProduct{},
		}, nil
	}

	runID := uuid.New().String()
	enriched, logs := p.enrich(ctx, snap, runID, req)
	merged := Merge(req.Inputs, enriched)

	decision := p.engine.Evaluate(ctx, snap, req.RequestID, merged)
	resp := decision.Response
	elapsed := time.Since(start)

	run := &domain.EvaluationRun{
		ID:                  runID,
		TenantID:            req.TenantID,
		RequestID:           req.RequestID,
		CustomerScore:       resp.CustomerScore,
		Inputs:              merged,
		EligibleProducts:    resp.EligibleProducts,
		NonEligibleProducts: resp.NonEligibleProducts,
		DurationMs:          elapsed.Milliseconds(),
		CreatedAt:           start.UTC(),
	}
	p.persist(ctx, run, logs)
	p.publish(ctx, run)

	p.metrics.RecordEvaluation("evaluated", len(resp.EligibleProducts), len(resp.NonEligibleProducts), elapsed)
	slog.Info("eligibility evaluated",
		"tenant_id", req.TenantID,
		"request_id", req.RequestID,
		"eligible", len(resp.EligibleProducts),
		"non_eligible", len(resp.NonEligibleProducts),
		"api_calls", len(logs),
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// missingMandatory lists mandatory parameters that are absent or blank,
// in configuration order.
func missingMandatory(snap *domain.Snapshot, inputs map[string]string) []string {
	var missing []string
	for _, name := range snap.MandatoryParameters() {
		if strings.TrimSpace(inputs[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// callSlot holds one API call's outcome until all calls finish.
type callSlot struct {
	values map[string]string
	log    domain.APICallLog
}

// enrich calls every active API and returns the merged enriched values
// and one log per call. Later execution order wins on conflicts.
func (p *Pipeline) enrich(ctx context.Context, snap *domain.Snapshot, runID string, req *domain.EligibilityRequest) (map[string]string, []domain.APICallLog) {
	apis := activeAPIs(snap.ExternalAPIs)
	if len(apis) == 0 {
		return nil, nil
	}

	slots := make([]callSlot, len(apis))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i := range apis {
		api := apis[i]
		g.Go(func() error {
			slots[i] = p.call(ctx, snap, runID, api, req)
			return nil
		})
	}
	_ = g.Wait()

	enriched := make(map[string]string)
	logs := make([]domain.APICallLog, 0, len(slots))
	for _, s := range slots {
		for k, v := range s.values {
			enriched[k] = v
		}
		logs = append(logs, s.log)
	}
	return enriched, logs
}

func (p *Pipeline) call(ctx context.Context, snap *domain.Snapshot, runID string, api domain.ExternalAPI, req *domain.EligibilityRequest) callSlot {
	callCtx, cancel := context.WithTimeout(ctx, api.Timeout(p.cfg.CallTimeout))
	defer cancel()

	calledAt := p.now()
	res := p.caller.Call(callCtx, api, req.Inputs)
	d := time.Since(calledAt)

	log := domain.APICallLog{
		ID:           uuid.New().String(),
		RunID:        runID,
		TenantID:     req.TenantID,
		RequestID:    req.RequestID,
		APIID:        api.ID,
		APIName:      api.Name,
		Success:      res.Err == nil,
		StatusCode:   res.StatusCode,
		RequestBody:  res.RequestBody,
		ResponseBody: res.ResponseBody,
		DurationMs:   d.Milliseconds(),
		CalledAt:     calledAt.UTC(),
	}

	result := "ok"
	if res.Err != nil {
		log.Error = res.Err.Error()
		result = string(CategoryOf(res.Err))
		slog.Warn("external api call failed",
			"tenant_id", req.TenantID,
			"request_id", req.RequestID,
			"api_id", api.ID,
			"api_name", api.Name,
			"category", result,
			"error", res.Err,
		)
	}
	p.metrics.RecordEnrichmentCall(api.Name, result, d)

	slot := callSlot{log: log}
	if res.Err == nil {
		slot.values = mapFields(res.Fields, snap.AliasesFor(api.ID))
	}
	return slot
}

// activeAPIs returns the active APIs in execution order, ties broken by id.
func activeAPIs(all []domain.ExternalAPI) []domain.ExternalAPI {
	apis := make([]domain.ExternalAPI, 0, len(all))
	for _, a := range all {
		if a.Active {
			apis = append(apis, a)
		}
	}
	sort.SliceStable(apis, func(i, j int) bool {
		if apis[i].ExecutionOrder != apis[j].ExecutionOrder {
			return apis[i].ExecutionOrder < apis[j].ExecutionOrder
		}
		return apis[i].ID < apis[j].ID
	})
	return apis
}

// Merge combines direct and enriched inputs. A non-blank direct input
// always wins; a blank one may be filled by enrichment.
func Merge(direct, enriched map[string]string) map[string]string {
	out := make(map[string]string, len(direct)+len(enriched))
	for k, v := range enriched {
		out[k] = v
	}
	for k, v := range direct {
		if strings.TrimSpace(v) == "" {
			if _, ok := out[k]; ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// persist only logs failures; sink.Multi counts them per sink.
func (p *Pipeline) persist(ctx context.Context, run *domain.EvaluationRun, logs []domain.APICallLog) {
	if p.sink == nil {
		return
	}
	if err := p.sink.SaveEvaluationRun(ctx, run, logs); err != nil {
		slog.Error("failed to persist evaluation run",
			"tenant_id", run.TenantID,
			"request_id", run.RequestID,
			"error", err,
		)
	}
}

func (p *Pipeline) publish(ctx context.Context, run *domain.EvaluationRun) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.TenantKey(run.TenantID), domain.TopicEligibilityDecided, payload); err != nil {
		slog.Warn("failed to publish decision",
			"tenant_id", run.TenantID,
			"request_id", run.RequestID,
			"error", err,
		)
	}
}
