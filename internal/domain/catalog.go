// Package domain defines the core interfaces and types for Harrier.
package domain

import "time"

// DataType is the declared type of a Parameter's values.
type DataType string

const (
	DataTypeNumber DataType = "number"
	DataTypeDate   DataType = "date"
	DataTypeText   DataType = "text"
)

// Parameter is a tenant-scoped named input slot.
type Parameter struct {
	ID        int64    `json:"id"`
	TenantID  int64    `json:"tenantId"`
	Name      string   `json:"name"`
	Mandatory bool     `json:"mandatory"`
	DataType  DataType `json:"dataType"`
}

// Factor binds a Parameter to one attribute condition, e.g. ">25", "18-25" or "All".
type Factor struct {
	ID            int64  `json:"id"`
	ParameterID   int64  `json:"parameterId"`
	AttributeName string `json:"attributeName"`
	Condition     string `json:"condition"`
}

// RuleMaster groups the versions of one logical rule.
type RuleMaster struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Rule is one version of a RuleMaster. Expression references Factor ids.
// The validity window is half-open: [ValidFrom, ValidTo).
type Rule struct {
	ID         int64      `json:"id"`
	MasterID   int64      `json:"masterId"`
	Version    int        `json:"version"`
	Expression string     `json:"expression"`
	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidTo    *time.Time `json:"validTo,omitempty"`
}

// ValidAt reports whether t falls inside the rule's validity window.
func (r *Rule) ValidAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && !t.Before(*r.ValidTo) {
		return false
	}
	return true
}

// Ecard is an eligibility card. Expression references RuleMaster ids.
type Ecard struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// Pcard is a product card. Expression references Ecard ids.
type Pcard struct {
	ID         int64  `json:"id"`
	ProductID  int64  `json:"productId"`
	Expression string `json:"expression"`
}
