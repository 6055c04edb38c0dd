package voiceagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Gateway is the provider-agnostic surface the dialer depends on. No provider
// SDK calls outside this package; the voice-AI backend (twilio or vapi) sits
// behind the orchestration server.
type Gateway interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResponse, error)
	EndCall(ctx context.Context, callID string) error
	FetchActiveCall(ctx context.Context) (*ActiveCall, error)
}

// TokenSource supplies the bearer credential attached to every request.
// Token acquisition and refresh are owned elsewhere.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed credential.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrUnauthenticated
	}
	return string(t), nil
}

var (
	// ErrUnauthenticated tags missing-token and 401 failures. The dialer does
	// not attempt recovery; it propagates upward.
	ErrUnauthenticated = errors.New("voiceagent: unauthenticated")
)

// APIError is a non-2xx response from the voice-AI server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voiceagent: server returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the voice-AI HTTP surface. Place-call is not idempotent on
// the server side, so the client never retries.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResponse, error) {
	if req.PhoneNumber == "" {
		return PlaceCallResponse{}, errors.New("voiceagent: phone number is required")
	}

	var out PlaceCallResponse
	if err := c.do(ctx, http.MethodPost, "/place-call", req, &out); err != nil {
		return PlaceCallResponse{}, err
	}
	if out.CallID == "" {
		return PlaceCallResponse{}, errors.New("voiceagent: place-call response missing call_id")
	}
	return out, nil
}

func (c *Client) EndCall(ctx context.Context, callID string) error {
	if callID == "" {
		return errors.New("voiceagent: call id is required")
	}
	return c.do(ctx, http.MethodDelete, "/end-call/"+callID, nil, nil)
}

// FetchActiveCall returns the server's current active call for this user, or
// nil when there is none.
func (c *Client) FetchActiveCall(ctx context.Context) (*ActiveCall, error) {
	var out *ActiveCall
	if err := c.do(ctx, http.MethodGet, "/active-call", nil, &out); err != nil {
		return nil, err
	}
	if out != nil && out.CallID == "" {
		// Some server versions answer {} instead of null.
		return nil, nil
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("voiceagent: encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("voiceagent: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("voiceagent: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("voiceagent: read response: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 || string(bytes.TrimSpace(b)) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("voiceagent: decode response: %w", err)
	}
	return nil
}
