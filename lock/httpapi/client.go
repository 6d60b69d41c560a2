package httpapi

import (
	"context"
	"net/url"
	"time"

	"github.com/enverbisevac/distlock/httputil"
)

// Client calls a lock HTTP API. Failures are *errors.Status values, so
// errors.IsConflict, errors.IsTimeout and friends classify them.
type Client struct {
	http *httputil.Client
}

// NewClient returns a client for the API served at baseURL.
func NewClient(baseURL string, options ...httputil.ClientOption) *Client {
	return &Client{http: httputil.NewClient(baseURL, options...)}
}

func lockPath(key string) string {
	return "locks/" + url.PathEscape(key)
}

// Acquire takes key for ttl. A zero ttl uses the server default. A
// positive timeout makes the server retry until it elapses; otherwise a
// held lock fails immediately with a conflict.
func (c *Client) Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (*Lease, error) {
	query := url.Values{}
	if ttl > 0 {
		query.Set("ttl", ttl.String())
	}
	if timeout > 0 {
		query.Set("timeout", timeout.String())
	}

	var lease Lease
	if err := c.http.Post(ctx, lockPath(key), nil, &lease, httputil.WithQuery(query)); err != nil {
		return nil, err
	}
	return &lease, nil
}

// Renew extends the lease on key if it still holds value.
func (c *Client) Renew(ctx context.Context, key, value string, ttl time.Duration) (*Lease, error) {
	query := url.Values{"value": {value}}
	if ttl > 0 {
		query.Set("ttl", ttl.String())
	}

	var lease Lease
	if err := c.http.Put(ctx, lockPath(key), nil, &lease, httputil.WithQuery(query)); err != nil {
		return nil, err
	}
	return &lease, nil
}

// Release deletes key if it still holds value.
func (c *Client) Release(ctx context.Context, key, value string) error {
	return c.http.Delete(ctx, lockPath(key), httputil.WithQuery(url.Values{"value": {value}}))
}

// Status reports whether key is locked.
func (c *Client) Status(ctx context.Context, key string) (*Status, error) {
	var status Status
	if err := c.http.Get(ctx, lockPath(key), &status); err != nil {
		return nil, err
	}
	return &status, nil
}
