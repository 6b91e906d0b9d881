package profiles

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/platform/config"
	"finitefield.org/usermapping/internal/platform/textutil"
	"finitefield.org/usermapping/internal/services"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultMaxPages = 100
	userFieldsPath  = "/api/v2/user_fields.json"
	maxBodyBytes    = 8 << 20
)

var (
	// ErrNotConfigured is returned when the endpoint lacks a URL or credentials.
	ErrNotConfigured = errors.New("profiles: endpoint not configured")
	// ErrTooManyPages is returned when the listing keeps paginating past the page budget.
	ErrTooManyPages = errors.New("profiles: page limit exceeded")
)

// StatusError reports a non-2xx response from the remote listing.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("profiles: user fields status %d: %s", e.StatusCode, e.Body)
}

// Unauthorized reports whether the remote rejected the credentials.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client reads the user field catalogue of one remote profile system.
type Client struct {
	side     domain.Side
	baseURL  string
	email    string
	token    string
	http     *http.Client
	maxPages int
	policy   *bluemonday.Policy
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithMaxPages bounds how many next_page links are followed.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 && c.http != nil {
			c.http.Timeout = d
		}
	}
}

// NewClient constructs a client for side using the configured endpoint.
func NewClient(side domain.Side, endpoint config.ProfileEndpoint, opts ...Option) (*Client, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("profiles: invalid side %q", side)
	}
	if !endpoint.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, side)
	}
	base := strings.TrimRight(strings.TrimSpace(endpoint.URL), "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("profiles: parse %s url: %w", side, err)
	}
	c := &Client{
		side:     side,
		baseURL:  base,
		email:    strings.TrimSpace(endpoint.Email),
		token:    strings.TrimSpace(endpoint.Token),
		http:     &http.Client{Timeout: defaultTimeout},
		maxPages: defaultMaxPages,
		policy:   bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Side reports which registry the client feeds.
func (c *Client) Side() domain.Side {
	return c.side
}

// ListUserFields follows next_page links and converts every remote field and option into
// registry records for the client's side.
func (c *Client) ListUserFields(ctx context.Context) (services.ProfileListing, error) {
	var listing services.ProfileListing
	next := c.baseURL + userFieldsPath
	seen := make(map[string]struct{})

	for next != "" {
		if listing.Pages >= c.maxPages {
			return listing, fmt.Errorf("%w: %s after %d pages", ErrTooManyPages, c.side, listing.Pages)
		}
		if _, dup := seen[next]; dup {
			break
		}
		seen[next] = struct{}{}

		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return listing, err
		}
		listing.Pages++
		for _, field := range page.UserFields {
			record, options := c.convert(field)
			if record.Key == "" {
				continue
			}
			listing.Fields = append(listing.Fields, record)
			listing.Options = append(listing.Options, options...)
		}
		next = strings.TrimSpace(page.NextPage)
	}
	return listing, nil
}

func (c *Client) fetchPage(ctx context.Context, endpoint string) (userFieldsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return userFieldsPage{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+basicCredentials(c.email, c.token))

	resp, err := c.http.Do(req)
	if err != nil {
		return userFieldsPage{}, fmt.Errorf("profiles: fetch %s user fields: %w", c.side, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return userFieldsPage{}, &StatusError{StatusCode: resp.StatusCode, Body: drainError(resp.Body)}
	}

	var page userFieldsPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&page); err != nil {
		return userFieldsPage{}, fmt.Errorf("profiles: decode %s user fields: %w", c.side, err)
	}
	return page, nil
}

func (c *Client) convert(field userFieldPayload) (domain.Field, []domain.FieldOption) {
	key := strings.TrimSpace(field.Key)
	kind := domain.FieldKindCustom
	if field.System {
		kind = domain.FieldKindSystem
	}
	record := domain.Field{
		Side:     c.side,
		Name:     textutil.CollapseSpace(c.policy.Sanitize(field.Title)),
		Key:      key,
		DataType: strings.TrimSpace(field.Type),
		Kind:     kind,
	}

	// Custom options win whenever the payload carries the list, even an empty one.
	source := field.SystemFieldOptions
	if field.CustomFieldOptions != nil {
		source = field.CustomFieldOptions
	}
	options := make([]domain.FieldOption, 0, len(source))
	for _, opt := range source {
		value := strings.TrimSpace(opt.Value)
		if value == "" {
			continue
		}
		options = append(options, domain.FieldOption{
			Side:      c.side,
			Label:     textutil.CollapseSpace(c.policy.Sanitize(opt.Name)),
			Key:       value,
			ParentKey: key,
		})
	}
	return record, options
}

func basicCredentials(email, token string) string {
	return base64.StdEncoding.EncodeToString([]byte(email + "/token:" + token))
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

type userFieldsPage struct {
	UserFields []userFieldPayload `json:"user_fields"`
	NextPage   string             `json:"next_page"`
}

type userFieldPayload struct {
	Title              string          `json:"title"`
	Key                string          `json:"key"`
	Type               string          `json:"type"`
	System             bool            `json:"system"`
	CustomFieldOptions []optionPayload `json:"custom_field_options"`
	SystemFieldOptions []optionPayload `json:"system_field_options"`
}

type optionPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
