// Package projects reads customer/project records from the CRM surface.
// The dialer only reads; CRM writes happen server-side after each call.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"roofline/internal/voiceagent"
)

// Project is the slice of a CRM record the dialer needs: display fields plus
// whatever is required to build the place-call request.
type Project struct {
	ID               string `json:"id"`
	Status           string `json:"status,omitempty"`
	CustomerName     string `json:"customer_name,omitempty"`
	AddressLine1     string `json:"address_line1,omitempty"`
	AddressLine2     string `json:"address_line2,omitempty"`
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
	Zip              string `json:"zip,omitempty"`
	AdjusterName     string `json:"adjuster_name,omitempty"`
	AdjusterPhone    string `json:"adjuster_phone,omitempty"`
	ClaimNumber      string `json:"claim_number,omitempty"`
	DateOfLoss       string `json:"date_of_loss,omitempty"`
	InsuranceCompany string `json:"insurance_company,omitempty"`

	// ProviderData is the raw CRM payload, kept opaque.
	ProviderData json.RawMessage `json:"provider_data,omitempty"`
}

// Address renders the single-line customer address passed to the voice agent.
func (p *Project) Address() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.AddressLine1, p.AddressLine2, p.City, p.State} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	addr := strings.Join(parts, ", ")
	if p.Zip != "" {
		addr = strings.TrimSpace(addr + " " + p.Zip)
	}
	return addr
}

type page struct {
	Items      []Project `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// Client reads the paginated projects surface through a session cache.
// Invalidate / InvalidateAll implement the coordinator's cache-invalidation
// contract: after a placed call or call end the affected records refetch.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   voiceagent.TokenSource
	pageSize int

	mu       sync.Mutex
	byID     map[string]Project
	listWarm bool
}

func NewClient(baseURL string, httpClient *http.Client, tokens voiceagent.TokenSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		tokens:   tokens,
		pageSize: 100,
		byID:     make(map[string]Project),
	}
}

// List returns every project visible to the user, walking pagination.
func (c *Client) List(ctx context.Context) ([]Project, error) {
	c.mu.Lock()
	if c.listWarm {
		out := make([]Project, 0, len(c.byID))
		for _, p := range c.byID {
			out = append(out, p)
		}
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var all []Project
	cursor := ""
	for {
		var pg page
		path := "/projects?limit=" + strconv.Itoa(c.pageSize)
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		if err := c.do(ctx, path, &pg); err != nil {
			return nil, err
		}
		all = append(all, pg.Items...)
		if pg.NextCursor == "" {
			break
		}
		cursor = pg.NextCursor
	}

	c.mu.Lock()
	c.byID = make(map[string]Project, len(all))
	for _, p := range all {
		c.byID[p.ID] = p
	}
	c.listWarm = true
	c.mu.Unlock()
	return all, nil
}

// Get returns one project, from cache when warm.
func (c *Client) Get(ctx context.Context, id string) (*Project, error) {
	if id == "" {
		return nil, fmt.Errorf("projects: id is required")
	}

	c.mu.Lock()
	if p, ok := c.byID[id]; ok {
		c.mu.Unlock()
		return &p, nil
	}
	c.mu.Unlock()

	var p Project
	if err := c.do(ctx, "/projects/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byID[p.ID] = p
	c.mu.Unlock()
	return &p, nil
}

// Invalidate evicts one project so the next Get refetches it.
func (c *Client) Invalidate(id string) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}

// InvalidateAll drops the whole cache, including the list.
func (c *Client) InvalidateAll() {
	c.mu.Lock()
	c.byID = make(map[string]Project)
	c.listWarm = false
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, path string, out any) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", voiceagent.ErrUnauthenticated, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("projects: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("projects: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return voiceagent.ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("projects: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("projects: decode response: %w", err)
	}
	return nil
}
