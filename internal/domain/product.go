package domain

import "github.com/shopspring/decimal"

// Product is an offerable financial product.
// A zero MaxAmount means the product has no ceiling.
type Product struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	MaxAmount decimal.Decimal `json:"maxAmount"`
}

// CapCondition is one parameter condition of a ProductCapAmount row.
type CapCondition struct {
	ParameterName string `json:"parameterName"`
	Condition     string `json:"condition"`
}

// ProductCapAmount is a base-amount row. Rows are tried in RowOrder; the first match wins.
type ProductCapAmount struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"productId"`
	RowOrder   int             `json:"rowOrder"`
	Conditions []CapCondition  `json:"conditions"`
	Amount     decimal.Decimal `json:"amount"`
}

// ProductCap maps an inclusive score bucket to a percentage of the base amount.
type ProductCap struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"productId"`
	MinimumScore decimal.Decimal `json:"minimumScore"`
	MaximumScore decimal.Decimal `json:"maximumScore"`
	Percentage   decimal.Decimal `json:"percentage"`
}
