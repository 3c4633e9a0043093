// Package fetch provides the HTTP transport to the breach search service.
// It issues one request per call and reports failures as *Error values that
// carry the HTTP status, leaving retry decisions to callers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonathan/breachcase/internal/records"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "breachcase/1.0"

// DefaultEndpoint is the search endpoint used when none is configured.
const DefaultEndpoint = "https://api.dehashed.com/search"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 64 << 20

// Credentials authenticate against the search service. They are sent as
// HTTP basic auth and never included in errors or logs.
type Credentials struct {
	User string
	Key  string
}

// Empty reports whether either half of the credential pair is missing.
func (c Credentials) Empty() bool {
	return c.User == "" || c.Key == ""
}

// String hides the secret.
func (c Credentials) String() string {
	return "Credentials{redacted}"
}

// Error represents a failed search request.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
	// Transport is set when no complete response was received.
	Transport bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("search error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("search error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the client.
type Options struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// DefaultOptions returns sensible defaults for searching.
func DefaultOptions() *Options {
	return &Options{
		Endpoint:  DefaultEndpoint,
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// SearchRequest selects one page of results for a domain.
type SearchRequest struct {
	Domain string
	Page   int
	Size   int
	Expand bool
}

// SearchResponse is the decoded search payload.
type SearchResponse struct {
	Entries []map[string]any `json:"entries"`
	Total   int              `json:"total"`
	Balance int              `json:"balance"`
	Success bool             `json:"success"`
	// Raw is the undecoded body.
	Raw []byte `json:"-"`
}

// Client talks to the search service.
type Client struct {
	opts  *Options
	creds Credentials
	http  *http.Client
}

// NewClient builds a client. A nil opts uses DefaultOptions.
func NewClient(creds Credentials, opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{opts: opts, creds: creds, http: httpClient}
}

// SearchURL renders the request URL for req.
func (c *Client) SearchURL(req SearchRequest) (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &Error{URL: c.opts.Endpoint, Message: "invalid endpoint URL", Cause: err}
	}
	q := u.Query()
	q.Set("query", "domain:"+req.Domain)
	q.Set("size", strconv.Itoa(req.Size))
	q.Set("page", strconv.Itoa(req.Page))
	if req.Expand {
		q.Set("expand", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Search issues exactly one request. A non-2xx status yields an *Error with
// StatusCode set; network and body-read failures set Transport.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	urlStr, err := c.SearchURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	for key, value := range c.opts.Headers {
		httpReq.Header.Set(key, value)
	}
	httpReq.SetBasicAuth(c.creds.User, c.creds.Key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Cause: err, Transport: true}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{URL: urlStr, StatusCode: resp.StatusCode, Message: "failed to read response body", Cause: err, Transport: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}

	var out SearchResponse
	if err := records.Unmarshal(body, &out); err != nil {
		return nil, &Error{URL: urlStr, StatusCode: resp.StatusCode, Message: "failed to decode response", Cause: err}
	}
	out.Raw = body
	return &out, nil
}
