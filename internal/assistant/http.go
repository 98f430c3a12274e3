package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPAssistant posts the request JSON to a single endpoint and expects a JSON
// object back.
type HTTPAssistant struct {
	client   *resty.Client
	endpoint string
}

// NewHTTP creates an HTTP backend. token is sent as a bearer token when set.
func NewHTTP(endpoint, token string, timeout time.Duration) *HTTPAssistant {
	c := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HTTPAssistant{client: c, endpoint: endpoint}
}

func (a *HTTPAssistant) Name() string { return "http" }

func (a *HTTPAssistant) Invoke(ctx context.Context, req Request) (Response, error) {
	if a.endpoint == "" {
		return nil, &Error{Kind: KindConfig, Err: ErrNotConfigured}
	}

	resp, err := a.client.R().SetContext(ctx).SetBody(req).Post(a.endpoint)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	if resp.IsError() {
		slog.Debug("assistant.http_error", "status", resp.StatusCode(), "body", truncate(resp.String(), 256))
		return nil, &Error{
			Kind:   kindForStatus(resp.StatusCode()),
			Status: resp.StatusCode(),
			Err:    fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &Error{Kind: KindMalformed, Status: resp.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out == nil {
		return nil, &Error{Kind: KindMalformed, Status: resp.StatusCode(), Err: errors.New("empty response body")}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
