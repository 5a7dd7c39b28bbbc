package v1

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Paths of the ordering API consumed by this core. The endpoints themselves
// are owned by the server side of the suite.
const (
	OrdersPath   = "/api/v1/orders"
	PaymentsPath = "/api/v1/payments/process"
	MenuPath     = "/api/v1/menu"
	TablesPath   = "/api/v1/tables"
	SettingsPath = "/api/v1/settings"
)

// TokenSource returns the current session token. It is consulted on every
// call; the transport never caches tokens.
type TokenSource func() string

type Response struct {
	StatusCode int
	Data       []byte
}

// APIError is a non-2xx response from the server, kept distinct from
// transport failures so callers can tell a rejected request from an
// unreachable server.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, string(e.Body))
}

// Retryable reports whether retrying the same payload can ever succeed.
// Validation and conflict responses are final; everything else is assumed
// to be a server hiccup.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return false
	}
	return true
}

// Transport handles low-level HTTP, authentication and tenant scoping.
type Transport struct {
	BaseURL    string
	Tenant     string
	Token      TokenSource
	HTTPClient *http.Client
}

// NewTransport creates a transport bound to one tenant.
func NewTransport(baseURL, tenant string, token TokenSource) *Transport {
	return &Transport{
		BaseURL:    baseURL,
		Tenant:     tenant,
		Token:      token,
		HTTPClient: &http.Client{},
	}
}

// Do sends one JSON request. A nil error means a 2xx response; non-2xx
// responses come back as *APIError.
func (t *Transport) Do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Subdomain", t.Tenant)
	if t.Token != nil {
		if token := t.Token(); token != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		}
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: data}
	}

	return &Response{StatusCode: resp.StatusCode, Data: data}, nil
}

// Get sends a GET request.
func (t *Transport) Get(ctx context.Context, path string) (*Response, error) {
	return t.Do(ctx, http.MethodGet, path, nil)
}

// Post sends a POST request with a JSON body.
func (t *Transport) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return t.Do(ctx, http.MethodPost, path, body)
}
