package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredential 表示调用方需要先配置 API Key。
	ErrMissingCredential = errors.New("missing credential")
	// ErrEmptyPayload 表示上游返回 200 但缺少预期字段。
	ErrEmptyPayload = errors.New("upstream response missing payload")
)

// CredentialError names the provider and the environment variable that must be set.
type CredentialError struct {
	Provider string
	EnvKey   string
}

func (e *CredentialError) Error() string {
	if e.EnvKey == "" {
		return fmt.Sprintf("no %s API key found", e.Provider)
	}
	return fmt.Sprintf("no %s API key found. Please set %s in .env file", e.Provider, e.EnvKey)
}

// Is lets errors.Is(err, ErrMissingCredential) match.
func (e *CredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

// APIError 上游返回非 2xx 时的错误，保留状态码和响应体。
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error: %d - %s", e.Provider, e.StatusCode, truncate(strings.TrimSpace(e.Body), 512))
}

// AsAPIError unwraps an APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// RequireKey returns the first non-blank key, or a CredentialError when none is set.
func RequireKey(provider, envKey string, keys ...string) (string, error) {
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			return k, nil
		}
	}
	return "", &CredentialError{Provider: provider, EnvKey: envKey}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
