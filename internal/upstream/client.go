// Package upstream talks to the wrapped third-party REST API on a
// tenant's behalf. It is the only place a decrypted credential is
// used, and it never retains or logs one.
package upstream

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
	"time"
)

var (
	// ErrAuthFailed means the downstream service rejected the
	// credential (revoked or invalid).
	ErrAuthFailed = errors.New("upstream: authentication failed")

	// ErrUnavailable means the downstream service could not be
	// reached or answered with a server error. Retryable.
	ErrUnavailable = errors.New("upstream: service unavailable")
)

// maxRequestBody bounds outgoing JSON bodies.
const maxRequestBody = 10 * 1024

// maxResponseBody bounds how much of a downstream response is read.
const maxResponseBody = 10 * 1024 * 1024

// Client is the narrow interface the gateway consumes. Resource paths
// are opaque strings supplied by the operation registry.
type Client interface {
	// VerifyCredential performs one authenticated probe call and
	// returns the downstream identity record on success.
	VerifyCredential(ctx context.Context, credential, endpoint string) (json.RawMessage, error)

	// Invoke executes a single resource operation with the tenant's
	// credential and returns the raw JSON result.
	Invoke(ctx context.Context, credential, endpoint, path, method string, query url.Values, body any) (json.RawMessage, error)
}

// HTTPClient is the production Client backed by net/http.
type HTTPClient struct {
	httpClient    *http.Client
	verifyTimeout time.Duration
	invokeTimeout time.Duration
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(verifyTimeout, invokeTimeout time.Duration) *HTTPClient {
	if verifyTimeout <= 0 {
		verifyTimeout = 10 * time.Second
	}
	if invokeTimeout <= 0 {
		invokeTimeout = 30 * time.Second
	}
	return &HTTPClient{
		httpClient:    &http.Client{},
		verifyTimeout: verifyTimeout,
		invokeTimeout: invokeTimeout,
	}
}

func (c *HTTPClient) VerifyCredential(ctx context.Context, credential, endpoint string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()
	return c.do(ctx, credential, endpoint, "/users/self", http.MethodGet, nil, nil)
}

func (c *HTTPClient) Invoke(ctx context.Context, credential, endpoint, path, method string, query url.Values, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()
	return c.do(ctx, credential, endpoint, path, method, query, body)
}

func (c *HTTPClient) do(ctx context.Context, credential, endpoint, path, method string, query url.Values, body any) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("upstream: failed to serialize request body: %w", err)
		}
		if len(jsonBody) > maxRequestBody {
			return nil, fmt.Errorf("upstream: request body too large (%d bytes)", len(jsonBody))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	reqURL := strings.TrimRight(endpoint, "/") + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status=%d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("upstream: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if !json.Valid(respBody) {
		return nil, fmt.Errorf("upstream: non-JSON response, status=%d", resp.StatusCode)
	}
	return json.RawMessage(respBody), nil
}
