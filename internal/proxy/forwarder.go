// Package proxy performs outbound HTTP requests on behalf of the protected
// application. Every request is offered to the agent as an http.request
// operation before it leaves the process.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dagbolade/rasp-agent/internal/hook"
)

// maxBody bounds how much of an upstream response is read.
const maxBody = 1 << 20

// Interceptor sees the operation before the request is sent. A non-nil
// error stops the request and is returned unchanged.
type Interceptor func(ctx context.Context, op *hook.Operation) error

type Forwarder struct {
	client    *http.Client
	intercept Interceptor
}

func NewForwarder(timeout time.Duration, intercept Interceptor) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Timeout: timeout,
		},
		intercept: intercept,
	}
}

// Forward fetches target with GET and returns the body.
func (f *Forwarder) Forward(ctx context.Context, target string) ([]byte, error) {
	if f.intercept != nil {
		err := f.intercept(ctx, &hook.Operation{
			Point:    hook.PointHTTP,
			Operands: map[string]any{"url": target, "function": "curl_exec"},
		})
		if err != nil {
			return nil, err
		}
	}

	httpReq, err := f.buildRequest(ctx, target)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	return f.readResponse(resp.Body)
}

func (f *Forwarder) buildRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "rasp-agent")
	return req, nil
}

func (f *Forwarder) readResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return data, nil
}
