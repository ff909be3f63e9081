package timetable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the timetable web API root
const DefaultBaseURL = "https://bmtcmobileapi.karnataka.gov.in/WebAPI/"

const (
	timetablePath = "GetTimetableByStation_v4"
	routeListPath = "GetAllRouteList"
	portalOrigin  = "https://bmtcwebportal.amnex.com"
)

// Client calls the timetable API
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client with the given per-request timeout.
// requestsPerSecond <= 0 disables client-side rate limiting.
func NewClient(baseURL string, timeout time.Duration, requestsPerSecond float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	c := &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
	if requestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return c
}

// Query sends one timetable query and returns the raw response body.
// Any transport error or non-2xx status is returned as an error.
func (c *Client) Query(ctx context.Context, q Query) ([]byte, error) {
	payload, err := q.Payload()
	if err != nil {
		return nil, err
	}
	return c.post(ctx, timetablePath, payload)
}

// RouteList fetches every route the operator publishes, keyed by route id
func (c *Client) RouteList(ctx context.Context) (map[string]RouteInfo, error) {
	body, err := c.post(ctx, routeListPath, []byte("{}"))
	if err != nil {
		return nil, err
	}
	return DecodeRouteList(body)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setPortalHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	return body, nil
}

// setPortalHeaders mirrors the headers the public web portal sends; the API rejects requests without them
func setPortalHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("lan", "en")
	req.Header.Set("deviceType", "WEB")
	req.Header.Set("Origin", portalOrigin)
	req.Header.Set("Referer", portalOrigin+"/")
}
