package domain

import "time"

// ExternalAPI is a tenant-configured enrichment source.
type ExternalAPI struct {
	ID                int64             `json:"id"`
	TenantID          int64             `json:"tenantId"`
	Name              string            `json:"name"`
	Method            string            `json:"method"`
	URL               string            `json:"url"`
	Headers           map[string]string `json:"headers,omitempty"`
	RequestParameters []string          `json:"requestParameters,omitempty"`
	ExecutionOrder    int               `json:"executionOrder"`
	Active            bool              `json:"active"`
	TimeoutMs         int               `json:"timeoutMs,omitempty"`
}

// Timeout returns the configured per-call timeout, or fallback when unset.
func (a *ExternalAPI) Timeout(fallback time.Duration) time.Duration {
	if a.TimeoutMs > 0 {
		return time.Duration(a.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// ParameterAlias maps a dotted response field of an ExternalAPI onto a Parameter name.
type ParameterAlias struct {
	APIID         int64  `json:"apiId"`
	ResponseField string `json:"responseField"`
	ParameterName string `json:"parameterName"`
}
