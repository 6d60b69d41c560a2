package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/enverbisevac/distlock/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query"`
	Token  string `json:"token"`
	Body   string `json:"body,omitempty"`
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/conflict":
			_ = errors.JSONResponse(w, errors.Conflict("lock %q is held", "job"))
			return
		case "/api/plain":
			http.Error(w, "gateway exploded", http.StatusServiceUnavailable)
			return
		case "/api/empty":
			w.WriteHeader(http.StatusNoContent)
			return
		}

		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echo{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Token:  r.Header.Get("Authorization"),
			Body:   in["name"],
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRequests(t *testing.T) {
	srv := newEchoServer(t)
	c := NewClient(srv.URL+"/api", WithDefaultHeader("Authorization", "Bearer t"))
	ctx := context.Background()

	var out echo
	require.NoError(t, c.Get(ctx, "locks/"+url.PathEscape("jobs/42"), &out,
		WithQuery(url.Values{"ttl": {"5s"}})))
	assert.Equal(t, http.MethodGet, out.Method)
	assert.Equal(t, "/api/locks/jobs%2F42", out.Path)
	assert.Equal(t, "ttl=5s", out.Query)
	assert.Equal(t, "Bearer t", out.Token)

	require.NoError(t, c.Put(ctx, "locks/a", map[string]string{"name": "x"}, &out))
	assert.Equal(t, http.MethodPut, out.Method)
	assert.Equal(t, "x", out.Body)

	require.NoError(t, c.Delete(ctx, "empty"))
}

func TestClientErrors(t *testing.T) {
	srv := newEchoServer(t)
	c := NewClient(srv.URL + "/api")
	ctx := context.Background()

	err := c.Post(ctx, "conflict", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, `lock "job" is held`, errors.Message(err))

	err = c.Get(ctx, "plain", nil)
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err))
}
