package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EligibilityRequest is the input to one evaluation.
type EligibilityRequest struct {
	TenantID  int64             `json:"tenantId"`
	RequestID string            `json:"requestId"`
	Inputs    map[string]string `json:"inputs"`
}

// EligibleProduct is a product the customer qualifies for.
type EligibleProduct struct {
	ProductCode    string          `json:"productCode"`
	EligibleAmount decimal.Decimal `json:"eligibleAmount"`
}

// MarshalJSON renders the amount as a JSON number.
func (p EligibleProduct) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ProductCode    string          `json:"productCode"`
		EligibleAmount json.RawMessage `json:"eligibleAmount"`
	}{
		ProductCode:    p.ProductCode,
		EligibleAmount: json.RawMessage(p.EligibleAmount.String()),
	})
}

// NonEligibleProduct is a product the customer does not qualify for, with the reason.
type NonEligibleProduct struct {
	ProductCode string `json:"productCode"`
	Message     string `json:"message"`
}

// EligibilityResponse is the outcome of one evaluation.
// MandatoryParameters is set only when the request was rejected before evaluation.
type EligibilityResponse struct {
	RequestID           string               `json:"requestId"`
	CustomerScore       *float64             `json:"customerScore"`
	MandatoryParameters []string             `json:"mandatoryParameters,omitempty"`
	EligibleProducts    []EligibleProduct    `json:"eligibleProducts"`
	NonEligibleProducts []NonEligibleProduct `json:"nonEligibleProducts"`
}

// Rejected reports whether the request failed mandatory-parameter validation.
func (r *EligibilityResponse) Rejected() bool {
	return len(r.MandatoryParameters) > 0
}

// EvaluationRun is the persisted record of one completed evaluation.
type EvaluationRun struct {
	ID                  string               `json:"id"`
	TenantID            int64                `json:"tenantId"`
	RequestID           string               `json:"requestId"`
	CustomerScore       *float64             `json:"customerScore"`
	Inputs              map[string]string    `json:"inputs"`
	EligibleProducts    []EligibleProduct    `json:"eligibleProducts"`
	NonEligibleProducts []NonEligibleProduct `json:"nonEligibleProducts"`
	DurationMs          int64                `json:"durationMs"`
	CreatedAt           time.Time            `json:"createdAt"`
}

// ToResponse converts a stored run back to the API response shape.
func (e *EvaluationRun) ToResponse() *EligibilityResponse {
	return &EligibilityResponse{
		RequestID:           e.RequestID,
		CustomerScore:       e.CustomerScore,
		EligibleProducts:    e.EligibleProducts,
		NonEligibleProducts: e.NonEligibleProducts,
	}
}

// APICallLog records one external API invocation.
type APICallLog struct {
	ID           string    `json:"id"`
	RunID        string    `json:"runId"`
	TenantID     int64     `json:"tenantId"`
	RequestID    string    `json:"requestId"`
	APIID        int64     `json:"apiId"`
	APIName      string    `json:"apiName"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"statusCode"`
	RequestBody  string    `json:"requestBody"`
	ResponseBody string    `json:"responseBody"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"durationMs"`
	CalledAt     time.Time `json:"calledAt"`
}
