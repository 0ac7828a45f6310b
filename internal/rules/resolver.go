package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Outcome is the three-valued result of a rule or card.
type Outcome int

const (
	NoResult Outcome = iota
	Pass
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "no_result"
	}
}

// MarshalText renders the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// RuleResult is the outcome of the current version of one RuleMaster.
type RuleResult struct {
	MasterID int64   `json:"masterId"`
	RuleID   int64   `json:"ruleId,omitempty"`
	Version  int     `json:"version,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
}

// RuleResolver selects and evaluates the current rule version per master.
type RuleResolver struct {
	eval *Evaluator
	now  func() time.Time
}

// NewRuleResolver creates a resolver. A nil clock uses time.Now.
func NewRuleResolver(eval *Evaluator, now func() time.Time) *RuleResolver {
	if now == nil {
		now = time.Now
	}
	return &RuleResolver{eval: eval, now: now}
}

// Current returns the version in effect for a master at t, or nil.
func (r *RuleResolver) Current(cat *Catalog, masterID int64, t time.Time) *domain.Rule {
	m, ok := cat.Masters[masterID]
	if !ok || !m.Active {
		return nil
	}
	for _, v := range cat.Versions[masterID] {
		if v.ValidAt(t) {
			return v
		}
	}
	return nil
}

// Resolve evaluates every RuleMaster that has at least one version.
func (r *RuleResolver) Resolve(cat *Catalog, in Inputs) map[int64]RuleResult {
	now := r.now()

	masters := make([]int64, 0, len(cat.Versions))
	for id := range cat.Versions {
		masters = append(masters, id)
	}
	sort.Slice(masters, func(a, b int) bool { return masters[a] < masters[b] })

	results := make(map[int64]RuleResult, len(masters))
	for _, id := range masters {
		rule := r.Current(cat, id, now)
		if rule == nil {
			results[id] = RuleResult{MasterID: id, Outcome: NoResult, Reason: "no current version"}
			continue
		}
		res := r.evaluate(cat, rule, in)
		res.MasterID = id
		results[id] = res
	}
	return results
}

func (r *RuleResolver) evaluate(cat *Catalog, rule *domain.Rule, in Inputs) RuleResult {
	res := RuleResult{RuleID: rule.ID, Version: rule.Version, Outcome: NoResult}

	x, err := r.eval.Compile(rule.Expression)
	if err != nil {
		res.Reason = fmt.Sprintf("invalid expression: %v", err)
		return res
	}

	truth := make(map[int64]bool, len(x.Atoms))
	for _, fid := range x.Atoms {
		f, ok := cat.Factors[fid]
		if !ok {
			res.Reason = fmt.Sprintf("factor %d not found", fid)
			return res
		}
		p, ok := cat.Parameters[f.ParameterID]
		if !ok {
			res.Reason = fmt.Sprintf("parameter %d not found", f.ParameterID)
			return res
		}
		v, ok := in[p.Name]
		if !ok {
			res.Reason = fmt.Sprintf("parameter %s missing", p.Name)
			return res
		}
		truth[fid] = Match(f.Condition, v)
	}

	ok, err := x.Eval(truth)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if ok {
		res.Outcome = Pass
	} else {
		res.Outcome = Fail
	}
	return res
}
