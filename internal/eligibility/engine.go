// Package eligibility decides which products a customer qualifies for and
// at what amount.
package eligibility

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// MsgNoProductCard is reported for products without a Pcard.
const MsgNoProductCard = "Product does not have any Product CARD."

var tracer = otel.Tracer("harrier-eligibility")

// Engine walks a tenant's products through the rule and card hierarchy.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	rules *rules.RuleResolver
	cards *rules.CardResolver
	caps  *CapResolver
}

// NewEngine creates an eligibility engine. A nil clock uses time.Now.
func NewEngine(cfg domain.EligibilityConfig, now func() time.Time) (*Engine, error) {
	eval, err := rules.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		rules: rules.NewRuleResolver(eval, now),
		cards: rules.NewCardResolver(eval),
		caps:  NewCapResolver(cfg.ScoreParameter),
	}, nil
}

// Decision is an eligibility response plus the intermediate results behind it.
type Decision struct {
	Response *domain.EligibilityResponse
	Rules    map[int64]rules.RuleResult
	Ecards   map[int64]rules.CardResult
	Pcards   []rules.PcardResult
}

// verdict is one product's outcome before deduplication.
type verdict struct {
	productID int64
	code      string
	eligible  bool
	amount    decimal.Decimal
	message   string
}

// Evaluate decides every product of the snapshot for the given raw inputs.
// It never fails: configuration problems degrade single products to non-eligible.
func (e *Engine) Evaluate(ctx context.Context, snap *domain.Snapshot, requestID string, raw map[string]string) *Decision {
	_, span := tracer.Start(ctx, "eligibility.Evaluate")
	defer span.End()

	cat := rules.NewCatalog(snap)
	in := rules.BindInputs(snap, raw)

	ruleResults := e.rules.Resolve(cat, in)
	ecards := e.cards.ResolveEcards(cat, ruleResults)

	d := &Decision{Rules: ruleResults, Ecards: ecards}

	verdicts := make([]verdict, 0, len(snap.Products))
	for i := range snap.Products {
		p := &snap.Products[i]
		v := verdict{productID: p.ID, code: p.Code}

		if _, ok := cat.PcardsByProd[p.ID]; !ok {
			v.message = MsgNoProductCard
			verdicts = append(verdicts, v)
			continue
		}

		pr := e.cards.ResolvePcard(cat, p.ID, ecards)
		d.Pcards = append(d.Pcards, pr)
		if !pr.Eligible {
			v.message = pr.Diagnostic.Message()
			slog.Debug("product not eligible",
				"tenant_id", snap.TenantID,
				"request_id", requestID,
				"product_code", p.Code,
				"diagnostic", pr.Diagnostic.String(),
				"detail", pr.Detail,
			)
			verdicts = append(verdicts, v)
			continue
		}

		cr := e.caps.Resolve(p, snap.ProductCaps, snap.ProductCapAmounts, in)
		v.eligible = cr.Eligible
		v.amount = cr.Amount
		v.message = cr.Message
		verdicts = append(verdicts, v)
	}

	resp := assemble(requestID, dedupe(verdicts))
	if score, ok := e.caps.Score(in); ok {
		f := score.InexactFloat64()
		resp.CustomerScore = &f
	}
	d.Response = resp

	span.SetAttributes(
		attribute.Int64("tenant.id", snap.TenantID),
		attribute.Int("products.eligible", len(resp.EligibleProducts)),
		attribute.Int("products.non_eligible", len(resp.NonEligibleProducts)),
	)
	return d
}

// dedupe keeps one verdict per product id. An eligible verdict supersedes
// a non-eligible one; otherwise the first verdict stays.
func dedupe(vs []verdict) []verdict {
	index := make(map[int64]int, len(vs))
	out := make([]verdict, 0, len(vs))
	for _, v := range vs {
		i, seen := index[v.productID]
		if !seen {
			index[v.productID] = len(out)
			out = append(out, v)
			continue
		}
		if v.eligible && !out[i].eligible {
			out[i] = v
		}
	}
	return out
}

func assemble(requestID string, vs []verdict) *domain.EligibilityResponse {
	sort.SliceStable(vs, func(a, b int) bool { return vs[a].code < vs[b].code })

	resp := &domain.EligibilityResponse{
		RequestID:           requestID,
		EligibleProducts:    []domain.EligibleProduct{},
		NonEligibleProducts: []domain.NonEligibleProduct{},
	}
	for _, v := range vs {
		if v.eligible {
			resp.EligibleProducts = append(resp.EligibleProducts, domain.EligibleProduct{
				ProductCode:    v.code,
				EligibleAmount: v.amount,
			})
			continue
		}
		resp.NonEligibleProducts = append(resp.NonEligibleProducts, domain.NonEligibleProduct{
			ProductCode: v.code,
			Message:     v.message,
		})
	}
	return resp
}
