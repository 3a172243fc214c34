package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"concourse/internal/protocol"
)

// HTTPClient talks to the agent service over HTTP. Run events arrive as
// newline-delimited JSON on a streaming response body. The target may be
// swapped at runtime when the backend registry is edited; streams already
// open keep their original connection.
type HTTPClient struct {
	mu      sync.RWMutex
	baseURL string
	apiKey  string

	http *http.Client
}

// NewHTTPClient builds a client for the given base address. Non-streaming
// requests share a bounded timeout; run streams live as long as their
// context.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

const requestTimeout = 15 * time.Second

// SetTarget points subsequent requests at a different backend.
func (c *HTTPClient) SetTarget(baseURL, apiKey string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.apiKey = apiKey
	c.mu.Unlock()
}

func (c *HTTPClient) target() (baseURL, apiKey string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL, c.apiKey
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	baseURL, apiKey := c.target()
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("backend returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) FetchHistory(ctx context.Context, threadID string) ([]protocol.Message, error) {
	var payload struct {
		Messages []protocol.Message `json:"messages"`
	}
	path := "/v1/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

func (c *HTTPClient) StartRun(ctx context.Context, runReq RunRequest) (EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/runs", runReq)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("backend returned %s", resp.Status)
	}

	stream := &httpEventStream{
		body:   resp.Body,
		events: make(chan protocol.RunEvent, 16),
	}
	go stream.pump(ctx)
	return stream, nil
}

func (c *HTTPClient) ListConstitutions(ctx context.Context) ([]ConstitutionRef, error) {
	var payload struct {
		Constitutions []ConstitutionRef `json:"constitutions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/constitutions", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Constitutions, nil
}

func (c *HTTPClient) FetchConstitution(ctx context.Context, moduleID string) (string, error) {
	var payload struct {
		Text string `json:"text"`
	}
	path := "/v1/constitutions/" + url.PathEscape(moduleID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return "", err
	}
	return payload.Text, nil
}

func (c *HTTPClient) SubmitConstitution(ctx context.Context, text, visibility string) (SubmitResult, error) {
	body := map[string]string{"text": text, "visibility": visibility}
	var result SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/constitutions", body, &result); err != nil {
		return SubmitResult{}, err
	}
	return result, nil
}

type httpEventStream struct {
	body   io.ReadCloser
	events chan protocol.RunEvent
}

func (s *httpEventStream) Events() <-chan protocol.RunEvent { return s.events }

func (s *httpEventStream) Close() error { return s.body.Close() }

// pump reads line-delimited events off the response body until the terminal
// event, EOF, or context cancellation, then closes the events channel. A
// transport error mid-stream surfaces as a failed terminal event; callers
// distinguish cancellation from failure through their own context.
func (s *httpEventStream) pump(ctx context.Context) {
	defer close(s.events)
	defer s.body.Close()

	go func() {
		<-ctx.Done()
		s.body.Close()
	}()

	scanner := bufio.NewScanner(s.body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := protocol.DecodeRunEvent(line)
		if err != nil {
			s.send(ctx, protocol.FailedEvent{Reason: err.Error()})
			return
		}
		if !s.send(ctx, ev) {
			return
		}
		switch ev.(type) {
		case protocol.DoneEvent, protocol.FailedEvent:
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.send(ctx, protocol.FailedEvent{Reason: err.Error()})
	}
}

func (s *httpEventStream) send(ctx context.Context, ev protocol.RunEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
