package domain

import "time"

// Snapshot is the read-only configuration of one tenant, loaded once per evaluation.
type Snapshot struct {
	TenantID          int64              `json:"tenantId"`
	Parameters        []Parameter        `json:"parameters"`
	Factors           []Factor           `json:"factors"`
	RuleMasters       []RuleMaster       `json:"ruleMasters"`
	Rules             []Rule             `json:"rules"`
	Ecards            []Ecard            `json:"ecards"`
	Pcards            []Pcard            `json:"pcards"`
	Products          []Product          `json:"products"`
	ProductCapAmounts []ProductCapAmount `json:"productCapAmounts"`
	ProductCaps       []ProductCap       `json:"productCaps"`
	ExternalAPIs      []ExternalAPI      `json:"externalApis"`
	ParameterAliases  []ParameterAlias   `json:"parameterAliases"`
	LoadedAt          time.Time          `json:"loadedAt"`
}

// MandatoryParameters returns the names of the tenant's mandatory parameters.
func (s *Snapshot) MandatoryParameters() []string {
	var names []string
	for _, p := range s.Parameters {
		if p.Mandatory {
			names = append(names, p.Name)
		}
	}
	return names
}

// ParameterByName looks up a parameter by exact name.
func (s *Snapshot) ParameterByName(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// AliasesFor returns the aliases configured for one API.
func (s *Snapshot) AliasesFor(apiID int64) []ParameterAlias {
	var out []ParameterAlias
	for _, a := range s.ParameterAliases {
		if a.APIID == apiID {
			out = append(out, a)
		}
	}
	return out
}
