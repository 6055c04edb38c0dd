// Package calllist talks to the per-user call-list HTTP surface: the ordered
// queue of project ids the power dialer walks.
package calllist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"roofline/internal/voiceagent"
)

// Item is one queued project. Lists are ordered by Position ascending and a
// ProjectID appears at most once per user.
type Item struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Position      int       `json:"position"`
	CallCompleted bool      `json:"call_completed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AddError reports the ids the server rejected in a multi-id add. The server
// is expected to have applied the valid ids regardless.
type AddError struct {
	Failed map[string]string // project id -> reason
}

func (e *AddError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("calllist: add failed for %s", strings.Join(ids, ", "))
}

// Client is an HTTP client over the call-list surface with a session-local
// cache. Any failed mutation invalidates the cache so the next List refetches.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  voiceagent.TokenSource

	mu     sync.Mutex
	cached []Item
	valid  bool
}

func NewClient(baseURL string, httpClient *http.Client, tokens voiceagent.TokenSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

// List returns the ordered call list, served from cache when warm.
func (c *Client) List(ctx context.Context) ([]Item, error) {
	c.mu.Lock()
	if c.valid {
		out := append([]Item(nil), c.cached...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var items []Item
	if err := c.do(ctx, http.MethodGet, "", nil, &items); err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })

	c.mu.Lock()
	c.cached = items
	c.valid = true
	out := append([]Item(nil), c.cached...)
	c.mu.Unlock()
	return out, nil
}

// Invalidate drops the cache; the next List refetches from the server.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.cached = nil
	c.mu.Unlock()
}

type addRequest struct {
	ProjectIDs []string `json:"project_ids"`
}

type addResponse struct {
	Added  []Item `json:"added"`
	Failed []struct {
		ProjectID string `json:"project_id"`
		Error     string `json:"error"`
	} `json:"failed,omitempty"`
}

// Add queues projects. Idempotent per project id: ids already queued are
// accepted silently. Partial failures come back as an *AddError while the
// valid ids remain applied server-side.
func (c *Client) Add(ctx context.Context, projectIDs []string) error {
	if len(projectIDs) == 0 {
		return errors.New("calllist: no project ids")
	}
	defer c.Invalidate()

	var resp addResponse
	if err := c.do(ctx, http.MethodPost, "/add", addRequest{ProjectIDs: projectIDs}, &resp); err != nil {
		return err
	}
	if len(resp.Failed) > 0 {
		failed := make(map[string]string, len(resp.Failed))
		for _, f := range resp.Failed {
			failed[f.ProjectID] = f.Error
		}
		return &AddError{Failed: failed}
	}
	return nil
}

// Remove deletes one project from the list.
func (c *Client) Remove(ctx context.Context, projectID string) error {
	if projectID == "" {
		return errors.New("calllist: project id is required")
	}
	defer c.Invalidate()
	return c.do(ctx, http.MethodDelete, "/"+url.PathEscape(projectID), nil, nil)
}

// Clear empties the list.
func (c *Client) Clear(ctx context.Context) error {
	defer c.Invalidate()
	return c.do(ctx, http.MethodDelete, "", nil, nil)
}

type completedRequest struct {
	Completed bool `json:"completed"`
}

// MarkCompleted flips the completion flag on one item.
func (c *Client) MarkCompleted(ctx context.Context, projectID string, completed bool) error {
	if projectID == "" {
		return errors.New("calllist: project id is required")
	}
	defer c.Invalidate()
	return c.do(ctx, http.MethodPatch, "/"+url.PathEscape(projectID)+"/completed", completedRequest{Completed: completed}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", voiceagent.ErrUnauthenticated, err)
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("calllist: encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("calllist: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calllist: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return voiceagent.ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("calllist: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("calllist: decode response: %w", err)
	}
	return nil
}
