package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// HTTPProvider resolves orders from a commerce backend over its JSON
// API. It maps transport failures and non-2xx statuses to errors and a
// 404 reference lookup to "no match"; the orchestration core never sees
// HTTP details.
type HTTPProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPProviderOption configures an HTTPProvider.
type HTTPProviderOption func(*HTTPProvider)

// WithHTTPClient replaces the underlying client, e.g. for tests.
func WithHTTPClient(c *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithAuthToken sets the bearer token sent on every request.
func WithAuthToken(token string) HTTPProviderOption {
	return func(p *HTTPProvider) { p.token = token }
}

// NewHTTPProvider creates a provider against baseURL, e.g.
// "https://commerce.internal/api/v1".
func NewHTTPProvider(baseURL string, opts ...HTTPProviderOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ OrderLookupProvider = (*HTTPProvider)(nil)

// LookupOrders fetches the customer's recent orders, newest first.
func (p *HTTPProvider) LookupOrders(ctx context.Context, customer conversation.CustomerInfo) ([]Order, error) {
	q := url.Values{}
	if customer.CustomerID != "" {
		q.Set("customer_id", customer.CustomerID)
	} else {
		q.Set("email", customer.Email)
	}

	var body struct {
		Orders []Order `json:"orders"`
	}
	if err := p.get(ctx, "/orders?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	return body.Orders, nil
}

// LookupOrderByReference resolves one order from a customer-supplied
// reference. A 404 means the reference matched nothing.
func (p *HTTPProvider) LookupOrderByReference(ctx context.Context, reference string) (*Order, error) {
	var order Order
	err := p.get(ctx, "/orders/"+url.PathEscape(reference), &order)
	if err != nil {
		if he, ok := err.(*httpStatusError); ok && he.status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tools: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("tools: commerce request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode, path: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tools: decode commerce response: %w", err)
	}
	return nil
}

type httpStatusError struct {
	status int
	path   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("tools: commerce backend returned %d for %s", e.status, e.path)
}
