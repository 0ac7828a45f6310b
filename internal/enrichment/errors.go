package enrichment

import (
	"errors"
	"fmt"
)

// Category normalizes why an external call failed.
type Category string

const (
	CategoryTimeout   Category = "timeout"
	CategoryTransport Category = "transport"
	CategoryStatus    Category = "status"
	CategoryBadData   Category = "bad_data"
	CategoryInternal  Category = "internal"
)

// CallError describes a failed external API call.
type CallError struct {
	Category   Category
	APIID      int64
	StatusCode int
	Message    string
	Underlying error
}

func (e *CallError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("api %d [%s]: %s: %v", e.APIID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("api %d [%s]: %s", e.APIID, e.Category, e.Message)
}

func (e *CallError) Unwrap() error { return e.Underlying }

// CategoryOf extracts the category of err; unknown errors are internal.
func CategoryOf(err error) Category {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryInternal
}
