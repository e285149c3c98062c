package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every upstream call when the config leaves it unset.
const DefaultTimeout = 60 * time.Second

// NewHTTPClient 创建带超时的 HTTP 客户端。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Request describes one upstream call.
type Request struct {
	Provider string
	Method   string
	URL      string
	Headers  map[string]string
	Body     io.Reader
}

// Do 执行请求并返回响应体；非 2xx 返回 *APIError。
func Do(ctx context.Context, client *http.Client, r Request) ([]byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, r.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", r.Provider, err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", r.Provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", r.Provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Provider: r.Provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// PostJSON marshals payload, posts it and decodes the JSON answer into out (when out is non-nil).
// The raw body is returned so callers that expect binary audio can use it directly.
func PostJSON(ctx context.Context, client *http.Client, providerName, url string, headers map[string]string, payload, out any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", providerName, err)
	}

	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}

	body, err := Do(ctx, client, Request{
		Provider: providerName,
		Method:   http.MethodPost,
		URL:      url,
		Headers:  h,
		Body:     bytes.NewReader(data),
	})
	if err != nil {
		return nil, err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", providerName, err)
		}
	}
	return body, nil
}

// GetJSON issues a GET and decodes the answer into out (when out is non-nil).
func GetJSON(ctx context.Context, client *http.Client, providerName, url string, headers map[string]string, out any) error {
	body, err := Do(ctx, client, Request{
		Provider: providerName,
		Method:   http.MethodGet,
		URL:      url,
		Headers:  headers,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", providerName, err)
	}
	return nil
}
