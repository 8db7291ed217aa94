// Package httpsse implements transport.Transport over plain net/http,
// framing the AG-UI event stream as newline-delimited "data: {json}\n\n"
// SSE records read with a bufio.Scanner — the same scan-a-line-then-decode
// discipline as the teacher's sidecarProcess.recv (internal/ai/sidecar_process.go),
// applied to an HTTP response body instead of a subprocess pipe.
package httpsse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aguicore/runtime/internal/events"
	"github.com/aguicore/runtime/internal/transport"
)

type Transport struct {
	baseURL    string
	bearer     string
	httpClient *http.Client
}

func New(baseURL, bearerToken string, client *http.Client) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{baseURL: strings.TrimRight(baseURL, "/"), bearer: bearerToken, httpClient: client}
}

func (t *Transport) url(endpoint string) string {
	return t.baseURL + "/api/v1/" + strings.TrimLeft(endpoint, "/")
}

func (t *Transport) Post(ctx context.Context, endpoint string, body any, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("httpsse: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(endpoint), &buf)
	if err != nil {
		return fmt.Errorf("httpsse: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearer)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return classifyNetworkErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyStatusErr(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpsse: decode response: %w", err)
	}
	return nil
}

func (t *Transport) RunAgent(ctx context.Context, endpoint string, input transport.RunInput) (transport.EventStream, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]any{
		"threadId": input.ThreadID,
		"runId":    input.RunID,
		"messages": input.Messages,
		"state":    input.State,
	}); err != nil {
		return nil, fmt.Errorf("httpsse: encode run input: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, t.url(endpoint), &buf)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("httpsse: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if t.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearer)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, classifyNetworkErr(streamCtx, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		cancel()
		return nil, classifyStatusErr(resp)
	}

	return &stream{body: resp.Body, scanner: bufio.NewScanner(resp.Body), cancel: cancel}, nil
}

type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	closed  bool
}

// Recv reads one SSE "data:" line and decodes it. Lines without a data:
// prefix (event: names, blank keepalive lines) are skipped. A malformed
// JSON payload surfaces as events.TypeUnknown, never a returned error, per
// spec §6.1.
func (s *stream) Recv() (events.Event, error) {
	for {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return events.Event{}, err
			}
			return events.Event{}, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		ev, err := events.DecodeJSON([]byte(payload))
		if err != nil {
			return events.Event{Type: events.TypeUnknown, RawType: "", RawJSON: []byte(payload)}, nil
		}
		return ev, nil
	}
}

func (s *stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	_ = s.body.Close()
}

func classifyNetworkErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &transport.Error{Kind: transport.ErrCancelled, Message: err.Error()}
	}
	return &transport.Error{Kind: transport.ErrNetworkFailure, Message: err.Error()}
}

func classifyStatusErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &transport.Error{Kind: transport.ErrAuthFailure, StatusCode: resp.StatusCode, Message: string(body)}
	case http.StatusNotFound:
		return &transport.Error{Kind: transport.ErrNotFound, StatusCode: resp.StatusCode, Message: string(body)}
	default:
		return &transport.Error{Kind: transport.ErrAPIError, StatusCode: resp.StatusCode, Message: string(body)}
	}
}
