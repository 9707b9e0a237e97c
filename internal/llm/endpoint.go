package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultCallTimeout = 60 * time.Second
	maxResponseBytes   = 10 << 20
)

// errorDecoder pulls the provider's error type, code and message out of a
// non-2xx body. ok is false when the body is not in the provider's format.
type errorDecoder func(body []byte) (typ, code, msg string, ok bool)

// endpoint posts JSON to a single provider URL.
type endpoint struct {
	provider  string
	url       string
	client    *http.Client
	header    http.Header
	decodeErr errorDecoder
}

func newProviderHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// post sends in and decodes the 200 body into out. Transport failures become
// an *APIError with status 0 unless ctx itself ended, HTTP errors become an
// *APIError with the decoded detail and undecodable bodies an *OutputError.
func (e *endpoint) post(ctx context.Context, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", e.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", e.provider, err)
	}
	req.Header = e.header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: request aborted: %w", e.provider, ctx.Err())
		}
		return e.networkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return e.networkError(err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: e.provider, StatusCode: resp.StatusCode, Message: string(body)}
		if e.decodeErr != nil {
			if typ, code, msg, ok := e.decodeErr(body); ok {
				apiErr.Type, apiErr.Code, apiErr.Message = typ, code, msg
			}
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &OutputError{Provider: e.provider, Reason: "malformed response body", Cause: err}
	}
	return nil
}

func (e *endpoint) networkError(err error) *APIError {
	return &APIError{Provider: e.provider, Type: "network_error", Message: err.Error()}
}
