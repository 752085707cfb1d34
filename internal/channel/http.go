package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxErrorBody bounds how much of a provider's error response is kept.
const maxErrorBody = 512

// basicAuth is an optional username/password pair for a provider request.
type basicAuth struct {
	user, pass string
}

// providerResponse is the raw outcome of a provider call.
type providerResponse struct {
	status int
	body   []byte
}

func (r providerResponse) ok() bool { return r.status >= 200 && r.status < 300 }

// postJSON posts body as JSON and reads the whole response.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body any) (providerResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return providerResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return providerResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req)
}

// postForm posts url-encoded form values, as Twilio expects.
func postForm(ctx context.Context, client *http.Client, endpoint string, auth *basicAuth, form url.Values) (providerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return providerResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		req.SetBasicAuth(auth.user, auth.pass)
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) (providerResponse, error) {
	resp, err := client.Do(req)
	if err != nil {
		return providerResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return providerResponse{status: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}
	return providerResponse{status: resp.StatusCode, body: body}, nil
}

// rejection builds an error detail for a non-2xx response, preferring the
// provider's own "message" field when the body is JSON.
func rejection(resp providerResponse) string {
	var decoded struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(resp.body, &decoded) == nil {
		if decoded.Message != "" {
			return fmt.Sprintf("provider status %d: %s", resp.status, decoded.Message)
		}
		if s, ok := decoded.Error.(string); ok && s != "" {
			return fmt.Sprintf("provider status %d: %s", resp.status, s)
		}
	}
	snippet := strings.TrimSpace(string(resp.body))
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	if snippet == "" {
		return fmt.Sprintf("provider status %d", resp.status)
	}
	return fmt.Sprintf("provider status %d: %s", resp.status, snippet)
}
