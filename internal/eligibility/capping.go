package eligibility

import (
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/shopspring/decimal"
)

// Cap failure messages. At most one is reported per product.
const (
	MsgAmountCriteria = "does not meet eligible amount criteria"
	MsgScoreCriteria  = "does not meet eligible Score criteria"
)

var hundred = decimal.NewFromInt(100)

// CapResult is the outcome of amount capping for one product.
type CapResult struct {
	Amount   decimal.Decimal
	Eligible bool
	Message  string
}

// CapResolver computes the eligible amount of a product.
type CapResolver struct {
	scoreParameter string
}

// NewCapResolver creates a cap resolver reading the score from scoreParameter.
func NewCapResolver(scoreParameter string) *CapResolver {
	if scoreParameter == "" {
		scoreParameter = "Score"
	}
	return &CapResolver{scoreParameter: scoreParameter}
}

// Resolve runs the amount-row match and the score-bucket match for product.
// The score check is made even when no amount row matched, and its failure
// takes precedence.
func (c *CapResolver) Resolve(product *domain.Product, caps []domain.ProductCap, capAmounts []domain.ProductCapAmount, in rules.Inputs) CapResult {
	base, baseOK := c.baseAmount(product.ID, capAmounts, in)
	pct, pctOK := c.percentage(product.ID, caps, in)

	switch {
	case !pctOK:
		return CapResult{Message: MsgScoreCriteria}
	case !baseOK:
		return CapResult{Message: MsgAmountCriteria}
	}

	amount := base.Mul(pct).Div(hundred)
	if product.MaxAmount.IsPositive() && amount.GreaterThan(product.MaxAmount) {
		amount = product.MaxAmount
	}
	return CapResult{Amount: amount, Eligible: true}
}

// Score returns the parsed customer score, if present.
func (c *CapResolver) Score(in rules.Inputs) (decimal.Decimal, bool) {
	v, ok := in[c.scoreParameter]
	if !ok || v.Blank() {
		return decimal.Zero, false
	}
	if v.Kind == rules.KindNumber {
		return v.Number, true
	}
	n, err := decimal.NewFromString(strings.TrimSpace(v.Raw))
	if err != nil {
		return decimal.Zero, false
	}
	return n, true
}

func (c *CapResolver) baseAmount(productID int64, rows []domain.ProductCapAmount, in rules.Inputs) (decimal.Decimal, bool) {
	var mine []domain.ProductCapAmount
	for _, r := range rows {
		if r.ProductID == productID {
			mine = append(mine, r)
		}
	}
	sort.SliceStable(mine, func(a, b int) bool { return mine[a].RowOrder < mine[b].RowOrder })

	for _, row := range mine {
		if rowMatches(row, in) {
			return row.Amount, true
		}
	}
	return decimal.Zero, false
}

// rowMatches requires every populated, non-wildcard condition to match.
func rowMatches(row domain.ProductCapAmount, in rules.Inputs) bool {
	for _, cond := range row.Conditions {
		pc := rules.ParseCondition(cond.Condition)
		if pc.Kind == rules.CondBlank || pc.Kind == rules.CondAll {
			continue
		}
		v, ok := in[cond.ParameterName]
		if !ok || !pc.Match(v) {
			return false
		}
	}
	return true
}

func (c *CapResolver) percentage(productID int64, caps []domain.ProductCap, in rules.Inputs) (decimal.Decimal, bool) {
	score, ok := c.Score(in)
	if !ok {
		return decimal.Zero, false
	}
	for _, cp := range caps {
		if cp.ProductID != productID {
			continue
		}
		if score.GreaterThanOrEqual(cp.MinimumScore) && score.LessThanOrEqual(cp.MaximumScore) {
			return cp.Percentage, true
		}
	}
	return decimal.Zero, false
}
