package jgrants

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/aoki/jgrants-sync/internal/models"
)

// DefaultBaseURL is the public, keyless J-Grants search API.
const DefaultBaseURL = "https://api.jgrants-portal.go.jp/exp/v1/public"

// Client talks to the grant source API. Requests are paced with a
// client-side limiter so batch syncs stay polite to the upstream.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient builds a client for baseURL. rps bounds outbound request
// rate; values <= 0 fall back to one request per second.
func NewClient(baseURL string, timeout time.Duration, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rps <= 0 {
		rps = 1.0
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:     time.Now,
	}
}

// Search runs a keyword search and returns normalized grants. The
// keyword must be at least 2 characters; shorter input is rejected
// before any network work.
func (c *Client) Search(ctx context.Context, q Query) ([]models.Grant, error) {
	if utf8.RuneCountInString(strings.TrimSpace(q.Keyword)) < 2 {
		return nil, fmt.Errorf("%w: keyword must be at least 2 characters", models.ErrValidation)
	}

	params := url.Values{}
	params.Set("keyword", strings.TrimSpace(q.Keyword))
	params.Set("sort", defaultStr(q.Sort, "created_date"))
	params.Set("order", defaultStr(q.Order, "DESC"))
	params.Set("acceptance", defaultStr(q.Acceptance, "0"))
	setIfPresent(params, "use_purpose", q.UsePurpose)
	setIfPresent(params, "industry", q.Industry)
	setIfPresent(params, "target_area_search", q.TargetArea)
	setIfPresent(params, "target_number_of_employees", q.TargetEmployees)

	var env envelope
	if err := c.getJSON(ctx, "/subsidies?"+params.Encode(), &env); err != nil {
		return nil, err
	}

	records := env.records()
	grants := make([]models.Grant, 0, len(records))
	for _, rec := range records {
		g, err := NormalizeGrant(rec, c.now())
		if err != nil {
			log.Printf("[JGrants] skipping malformed record: %v", err)
			continue
		}
		grants = append(grants, g)
	}
	log.Printf("[JGrants] search keyword=%q returned %d grants", q.Keyword, len(grants))
	return grants, nil
}

// GetByID fetches a single grant by its source identifier.
func (c *Client) GetByID(ctx context.Context, id string) (models.Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Grant{}, fmt.Errorf("%w: empty grant id", models.ErrValidation)
	}

	var env envelope
	if err := c.getJSON(ctx, "/subsidies/id/"+url.PathEscape(id), &env); err != nil {
		return models.Grant{}, err
	}
	records := env.records()
	if len(records) == 0 {
		return models.Grant{}, fmt.Errorf("grant %s: %w", id, models.ErrNotFound)
	}
	return NormalizeGrant(records[0], c.now())
}

// TestConnection probes the source with a minimal search. The public
// API exposes no status endpoint, so a tiny real query stands in.
func (c *Client) TestConnection(ctx context.Context) (HealthInfo, error) {
	grants, err := c.Search(ctx, Query{Keyword: "補助金", Acceptance: "1"})
	if err != nil {
		return HealthInfo{OK: false, Message: err.Error()}, err
	}
	return HealthInfo{
		OK:          true,
		Message:     "connection ok",
		ResultCount: len(grants),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", models.ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", models.ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrSourceUnavailable, err)
	}
	return nil
}

func defaultStr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func setIfPresent(params url.Values, key, v string) {
	if strings.TrimSpace(v) != "" {
		params.Set(key, v)
	}
}
