package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes bounds how much of a response body is read and logged.
const maxResponseBytes = 1 << 20

// CallResult is the outcome of one external API call.
type CallResult struct {
	StatusCode   int
	RequestBody  string
	ResponseBody string
	// Fields is the decoded JSON body; nil when the call failed.
	Fields map[string]any
	Err    error
}

// Caller invokes one external API with the caller-supplied inputs.
type Caller interface {
	Call(ctx context.Context, api domain.ExternalAPI, inputs map[string]string) CallResult
}

// HTTPCaller calls external APIs over HTTP with traced transport.
type HTTPCaller struct {
	client *http.Client
}

// NewHTTPCaller creates a caller. A nil client gets an otelhttp-instrumented default.
func NewHTTPCaller(client *http.Client) *HTTPCaller {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPCaller{client: client}
}

// Call sends the API's request parameters as a query string for GET and
// as a JSON object otherwise. Any non-2xx status or non-JSON body is a failure.
func (c *HTTPCaller) Call(ctx context.Context, api domain.ExternalAPI, inputs map[string]string) CallResult {
	params := make(map[string]string, len(api.RequestParameters))
	for _, name := range api.RequestParameters {
		if v, ok := inputs[name]; ok {
			params[name] = v
		}
	}

	req, body, err := buildRequest(ctx, api, params)
	res := CallResult{RequestBody: body}
	if err != nil {
		res.Err = &CallError{Category: CategoryInternal, APIID: api.ID, Message: "build request", Underlying: err}
		return res
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cat := CategoryTransport
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			cat = CategoryTimeout
		}
		res.Err = &CallError{Category: cat, APIID: api.ID, Message: "request failed", Underlying: err}
		return res
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	res.StatusCode = resp.StatusCode
	res.ResponseBody = string(raw)
	if err != nil {
		res.Err = &CallError{Category: CategoryTransport, APIID: api.ID, StatusCode: resp.StatusCode, Message: "read body", Underlying: err}
		return res
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = &CallError{Category: CategoryStatus, APIID: api.ID, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
		return res
	}

	fields, err := decodeFields(raw)
	if err != nil {
		res.Err = &CallError{Category: CategoryBadData, APIID: api.ID, StatusCode: resp.StatusCode,
			Message: "decode response", Underlying: err}
		return res
	}
	res.Fields = fields
	return res
}

func buildRequest(ctx context.Context, api domain.ExternalAPI, params map[string]string) (*http.Request, string, error) {
	method := strings.ToUpper(strings.TrimSpace(api.Method))
	if method == "" {
		method = http.MethodPost
	}

	var req *http.Request
	var body string
	var err error

	if method == http.MethodGet {
		u, perr := url.Parse(api.URL)
		if perr != nil {
			return nil, "", perr
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		body = u.RawQuery
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		b, merr := json.Marshal(params)
		if merr != nil {
			return nil, "", merr
		}
		body = string(b)
		req, err = http.NewRequestWithContext(ctx, method, api.URL, bytes.NewReader(b))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, body, err
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}
	return req, body, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
