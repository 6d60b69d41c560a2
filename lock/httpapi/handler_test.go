package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/enverbisevac/distlock/errors"
	"github.com/enverbisevac/distlock/lock"
	"github.com/enverbisevac/distlock/lock/httpapi"
	"github.com/enverbisevac/distlock/lock/inmem"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newServer(t *testing.T, options ...lock.Option) (*httpapi.Client, *lock.Manager, *httptest.Server) {
	t.Helper()

	options = append([]lock.Option{lock.WithRetryInterval(5 * time.Millisecond)}, options...)
	m, err := lock.New(inmem.New(), options...)
	require.NoError(t, err)

	router, err := httpapi.NewRouter(m, logr.Discard())
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return httpapi.NewClient(srv.URL), m, srv
}

func TestAcquireRelease(t *testing.T) {
	c, m, _ := newServer(t)
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "jobs/42", 10*time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, "jobs/42", lease.Key)
	assert.NotEmpty(t, lease.Value)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), lease.ExpiresAt, 2*time.Second)
	assert.True(t, m.Exists(ctx, "jobs/42"))

	status, err := c.Status(ctx, "jobs/42")
	require.NoError(t, err)
	assert.True(t, status.Held)
	assert.Greater(t, time.Duration(status.TTL), 5*time.Second)

	require.NoError(t, c.Release(ctx, "jobs/42", lease.Value))

	status, err = c.Status(ctx, "jobs/42")
	require.NoError(t, err)
	assert.False(t, status.Held)

	err = c.Release(ctx, "jobs/42", lease.Value)
	assert.True(t, errors.IsConflict(err), "second release must conflict, got %v", err)
}

func TestAcquireHeld(t *testing.T) {
	c, _, _ := newServer(t)
	ctx := context.Background()

	_, err := c.Acquire(ctx, "k", time.Minute, 0)
	require.NoError(t, err)

	_, err = c.Acquire(ctx, "k", time.Minute, 0)
	assert.True(t, errors.IsConflict(err), "got %v", err)

	start := time.Now()
	_, err = c.Acquire(ctx, "k", time.Minute, 50*time.Millisecond)
	assert.True(t, errors.IsTimeout(err), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	c, _, _ := newServer(t)
	ctx := context.Background()

	first, err := c.Acquire(ctx, "k", time.Minute, 0)
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(30 * time.Millisecond)
		return c.Release(ctx, "k", first.Value)
	})

	second, err := c.Acquire(ctx, "k", time.Minute, 2*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, second.Value)
	require.NoError(t, g.Wait())
}

func TestRenew(t *testing.T) {
	c, m, _ := newServer(t)
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "k", time.Second, 0)
	require.NoError(t, err)

	renewed, err := c.Renew(ctx, "k", lease.Value, time.Hour)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(lease.ExpiresAt))

	ttl, ok := m.RemainingTTL(ctx, "k")
	require.True(t, ok)
	assert.Greater(t, ttl, 30*time.Minute)

	_, err = c.Renew(ctx, "k", "someone-else", time.Hour)
	assert.True(t, errors.IsConflict(err), "got %v", err)
}

func TestDisabled(t *testing.T) {
	c, _, _ := newServer(t, lock.WithEnabled(false))

	_, err := c.Acquire(context.Background(), "k", time.Second, 0)
	assert.True(t, errors.IsUnavailable(err), "got %v", err)
}

func TestInvalidRequests(t *testing.T) {
	_, _, srv := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "bad ttl", method: http.MethodPost, path: "/locks/k?ttl=soon"},
		{name: "negative timeout", method: http.MethodPost, path: "/locks/k?timeout=-1s"},
		{name: "renew without value", method: http.MethodPut, path: "/locks/k?ttl=1s"},
		{name: "release without value", method: http.MethodDelete, path: "/locks/k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body errors.HttpResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, errors.CodeInvalidArgument, body.Code)
		})
	}
}

func TestStatusNotCached(t *testing.T) {
	_, _, srv := newServer(t)

	resp, err := http.Get(srv.URL + "/locks/k")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-cache")
}

func TestOpenAPIDocument(t *testing.T) {
	_, _, srv := newServer(t)

	resp, err := http.Get(srv.URL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Paths map[string]map[string]struct {
			OperationID string `json:"operationId"`
		} `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))

	ops := doc.Paths["/locks/{key}"]
	assert.Equal(t, "acquireLock", ops["post"].OperationID)
	assert.Equal(t, "renewLock", ops["put"].OperationID)
	assert.Equal(t, "releaseLock", ops["delete"].OperationID)
	assert.Equal(t, "lockStatus", ops["get"].OperationID)
}

func TestDurationText(t *testing.T) {
	var d httpapi.Duration
	require.NoError(t, d.UnmarshalText([]byte("1500")))
	assert.Equal(t, 1500*time.Millisecond, time.Duration(d))

	b, err := json.Marshal(httpapi.Status{Key: "k", Held: true, TTL: httpapi.Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"k","held":true,"ttl":"1m30s"}`, string(b))
}
