package rules

import (
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Catalog indexes a snapshot by id for one evaluation.
type Catalog struct {
	Snapshot     *domain.Snapshot
	Parameters   map[int64]*domain.Parameter
	Factors      map[int64]*domain.Factor
	Masters      map[int64]*domain.RuleMaster
	Versions     map[int64][]*domain.Rule
	Ecards       map[int64]*domain.Ecard
	PcardsByProd map[int64]*domain.Pcard
}

// NewCatalog builds the lookup tables for snap. Rule versions are sorted
// highest first. When a product has several Pcards the first one wins.
func NewCatalog(snap *domain.Snapshot) *Catalog {
	c := &Catalog{
		Snapshot:     snap,
		Parameters:   make(map[int64]*domain.Parameter, len(snap.Parameters)),
		Factors:      make(map[int64]*domain.Factor, len(snap.Factors)),
		Masters:      make(map[int64]*domain.RuleMaster, len(snap.RuleMasters)),
		Versions:     make(map[int64][]*domain.Rule),
		Ecards:       make(map[int64]*domain.Ecard, len(snap.Ecards)),
		PcardsByProd: make(map[int64]*domain.Pcard, len(snap.Pcards)),
	}

	for i := range snap.Parameters {
		c.Parameters[snap.Parameters[i].ID] = &snap.Parameters[i]
	}
	for i := range snap.Factors {
		c.Factors[snap.Factors[i].ID] = &snap.Factors[i]
	}
	for i := range snap.RuleMasters {
		c.Masters[snap.RuleMasters[i].ID] = &snap.RuleMasters[i]
	}
	for i := range snap.Rules {
		r := &snap.Rules[i]
		c.Versions[r.MasterID] = append(c.Versions[r.MasterID], r)
	}
	for _, vs := range c.Versions {
		sort.SliceStable(vs, func(a, b int) bool { return vs[a].Version > vs[b].Version })
	}
	for i := range snap.Ecards {
		c.Ecards[snap.Ecards[i].ID] = &snap.Ecards[i]
	}
	for i := range snap.Pcards {
		p := &snap.Pcards[i]
		if _, ok := c.PcardsByProd[p.ProductID]; !ok {
			c.PcardsByProd[p.ProductID] = p
		}
	}
	return c
}
