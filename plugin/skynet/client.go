package skynet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/hrygo/constellation/internal/errors"
	"github.com/hrygo/constellation/internal/profile"
)

// maxPages bounds cursor pagination against a provider that never
// terminates its cursor chain.
const maxPages = 500

// pageSize is the per-page limit requested from the provider.
const pageSize = 100

// Account is a provider-side profile.
type Account struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"displayName,omitempty"`
	FollowersCount int64  `json:"followersCount"`
	FollowingCount int64  `json:"followingCount"`
	PostsCount     int64  `json:"postsCount"`
}

type listResponse struct {
	Accounts []Account `json:"accounts"`
	Cursor   string    `json:"cursor,omitempty"`
}

// Client speaks the provider HTTP API. Every request goes through the
// shared gateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	gateway    *Gateway
}

// NewClient creates a provider client from the profile.
func NewClient(profile *profile.Profile, gateway *Gateway) *Client {
	return &Client{
		baseURL:    strings.TrimRight(profile.ProviderBaseURL, "/"),
		token:      profile.ProviderToken,
		httpClient: &http.Client{Timeout: profile.ProviderTimeout},
		gateway:    gateway,
	}
}

// GetProfile fetches a single account by handle.
func (c *Client) GetProfile(ctx context.Context, handle string) (*Account, error) {
	if handle == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidArgument, "handle is required")
	}
	account := &Account{}
	params := url.Values{"handle": {handle}}
	if err := c.get(ctx, "/v1/profile", params, account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetFollowers fetches one page of the accounts following handle.
// An empty returned cursor means the last page.
func (c *Client) GetFollowers(ctx context.Context, handle, cursor string) ([]Account, string, error) {
	return c.getPage(ctx, "/v1/followers", handle, cursor)
}

// GetFollowing fetches one page of the accounts handle follows.
func (c *Client) GetFollowing(ctx context.Context, handle, cursor string) ([]Account, string, error) {
	return c.getPage(ctx, "/v1/following", handle, cursor)
}

// ListAllFollowers loops the follower cursor chain to exhaustion.
func (c *Client) ListAllFollowers(ctx context.Context, handle string) ([]Account, error) {
	return c.listAll(ctx, handle, c.GetFollowers)
}

// ListAllFollowing loops the following cursor chain to exhaustion.
func (c *Client) ListAllFollowing(ctx context.Context, handle string) ([]Account, error) {
	return c.listAll(ctx, handle, c.GetFollowing)
}

func (c *Client) listAll(ctx context.Context, handle string, page func(context.Context, string, string) ([]Account, string, error)) ([]Account, error) {
	accounts := []Account{}
	cursor := ""
	for i := 0; i < maxPages; i++ {
		batch, next, err := page(ctx, handle, cursor)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, batch...)
		if next == "" {
			return accounts, nil
		}
		cursor = next
	}
	return nil, apperrors.Newf(apperrors.ErrCodeTransport, "provider cursor chain exceeded %d pages for %s", maxPages, handle)
}

func (c *Client) getPage(ctx context.Context, path, handle, cursor string) ([]Account, string, error) {
	if handle == "" {
		return nil, "", apperrors.New(apperrors.ErrCodeInvalidArgument, "handle is required")
	}
	params := url.Values{
		"handle": {handle},
		"limit":  {strconv.Itoa(pageSize)},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	resp := &listResponse{}
	if err := c.get(ctx, path, params, resp); err != nil {
		return nil, "", err
	}
	return resp.Accounts, resp.Cursor, nil
}

// get performs one gateway-throttled GET and decodes the JSON body.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.gateway.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeTransport, "failed to build provider request")
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.Transport(err, "provider request failed")
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.Unauthorized("provider rejected credentials")
		case http.StatusTooManyRequests:
			return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		default:
			return apperrors.Newf(apperrors.ErrCodeTransport, "unexpected provider status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeTransport, "failed to decode provider response")
		}
		return nil
	})
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
