package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Diagnostic classifies why a Pcard did not make its product eligible.
type Diagnostic int

const (
	DiagNone Diagnostic = iota
	DiagNoPcardResult
	DiagNoValidCardIDs
	DiagNoCardsFound
	DiagNoRuleResults
	DiagRuleMismatch
)

func (d Diagnostic) String() string {
	return [...]string{"none", "no_pcard_result", "no_valid_card_ids", "no_cards_found", "no_rule_results", "rule_mismatch"}[d]
}

// Message is the customer-facing text for a diagnostic.
func (d Diagnostic) Message() string {
	switch d {
	case DiagNoPcardResult:
		return "No PCard results found."
	case DiagNoValidCardIDs:
		return "Product CARD has no valid card ids."
	case DiagNoCardsFound:
		return "No cards found for the Product CARD."
	case DiagNoRuleResults:
		return "No rule results provided."
	case DiagRuleMismatch:
		return "Customer does not satisfy the product rules."
	default:
		return ""
	}
}

// CardResult is the outcome of one Ecard.
type CardResult struct {
	CardID  int64   `json:"cardId"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// PcardResult is the outcome of one product card.
type PcardResult struct {
	PcardID    int64      `json:"pcardId"`
	ProductID  int64      `json:"productId"`
	Eligible   bool       `json:"eligible"`
	Diagnostic Diagnostic `json:"diagnostic"`
	Detail     string     `json:"detail,omitempty"`
}

// CardResolver evaluates Ecards over rule results and Pcards over Ecards.
type CardResolver struct {
	eval *Evaluator
}

// NewCardResolver creates a card resolver.
func NewCardResolver(eval *Evaluator) *CardResolver {
	return &CardResolver{eval: eval}
}

// ResolveEcards evaluates every Ecard. An Ecard is NoResult when its
// expression does not parse or none of the rules it references produced an outcome.
func (c *CardResolver) ResolveEcards(cat *Catalog, rules map[int64]RuleResult) map[int64]CardResult {
	ids := make([]int64, 0, len(cat.Ecards))
	for id := range cat.Ecards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	out := make(map[int64]CardResult, len(ids))
	for _, id := range ids {
		card := cat.Ecards[id]
		res := CardResult{CardID: id, Outcome: NoResult}

		x, err := c.eval.Compile(card.Expression)
		if err != nil {
			res.Reason = fmt.Sprintf("invalid expression: %v", err)
			out[id] = res
			continue
		}

		truth := make(map[int64]bool, len(x.Atoms))
		produced := false
		for _, rid := range x.Atoms {
			rr, ok := rules[rid]
			if !ok || rr.Outcome == NoResult {
				continue
			}
			produced = true
			truth[rid] = rr.Outcome == Pass
		}
		if !produced {
			res.Reason = "no rule results"
			out[id] = res
			continue
		}

		ok, err := x.Eval(truth)
		if err != nil {
			res.Reason = err.Error()
		} else if ok {
			res.Outcome = Pass
		} else {
			res.Outcome = Fail
		}
		out[id] = res
	}
	return out
}

// ResolvePcard evaluates a product card over Ecard results. Diagnostics
// are checked from the shallowest stage to the deepest.
func (c *CardResolver) ResolvePcard(cat *Catalog, productID int64, ecards map[int64]CardResult) PcardResult {
	pcard, ok := cat.PcardsByProd[productID]
	if !ok {
		return PcardResult{ProductID: productID, Diagnostic: DiagNoPcardResult}
	}
	res := PcardResult{PcardID: pcard.ID, ProductID: productID}

	if strings.TrimSpace(pcard.Expression) == "" {
		res.Diagnostic = DiagNoValidCardIDs
		return res
	}

	x, err := c.eval.Compile(pcard.Expression)
	if err != nil {
		res.Diagnostic = DiagNoPcardResult
		res.Detail = err.Error()
		return res
	}

	var missing []string
	for _, eid := range x.Atoms {
		if _, ok := cat.Ecards[eid]; !ok {
			missing = append(missing, fmt.Sprint(eid))
		}
	}
	if len(missing) > 0 {
		res.Diagnostic = DiagNoCardsFound
		res.Detail = "missing ecards " + strings.Join(missing, ",")
		return res
	}

	truth := make(map[int64]bool, len(x.Atoms))
	produced := false
	for _, eid := range x.Atoms {
		er := ecards[eid]
		if er.Outcome == NoResult {
			continue
		}
		produced = true
		truth[eid] = er.Outcome == Pass
	}
	if !produced {
		res.Diagnostic = DiagNoRuleResults
		return res
	}

	ok, err = x.Eval(truth)
	switch {
	case err != nil:
		res.Diagnostic = DiagNoPcardResult
		res.Detail = err.Error()
	case ok:
		res.Eligible = true
	default:
		res.Diagnostic = DiagRuleMismatch
	}
	return res
}
