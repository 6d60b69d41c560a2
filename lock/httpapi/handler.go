// Package httpapi exposes a lock.Manager over HTTP and provides a client
// for it. The server keeps no handles: the lock value returned on
// acquisition is the only proof of ownership, so clients renew and
// release by value.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/enverbisevac/distlock/errors"
	"github.com/enverbisevac/distlock/lock"
	"github.com/enverbisevac/distlock/openapi"
	"github.com/enverbisevac/distlock/validator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
)

const tag = "locks"

// Handler serves lock operations backed by a Manager.
type Handler struct {
	manager *lock.Manager
}

// NewHandler returns a Handler for manager. The manager must not auto-renew:
// handles acquired over HTTP are never released by the server.
func NewHandler(manager *lock.Manager) *Handler {
	return &Handler{manager: manager}
}

// Register mounts the lock routes on api.
func (h *Handler) Register(api *openapi.API) error {
	ops := []struct {
		method  string
		pattern string
		op      *openapi.Operation
	}{
		{http.MethodPost, "/locks/{key}", openapi.NewOperation(
			openapi.HandlerFunc[AcquireRequest, Lease, openapi.Created](h.acquire),
			openapi.WithID("acquireLock"),
			openapi.WithSummary("Acquire a lock"),
			openapi.WithDescription("Makes a single attempt, or retries until timeout when one is given."),
			openapi.WithTags(tag),
			openapi.WithErrors(http.StatusBadRequest, http.StatusConflict,
				http.StatusRequestTimeout, http.StatusServiceUnavailable),
		)},
		{http.MethodPut, "/locks/{key}", openapi.NewOperation(
			openapi.HandlerFunc[RenewRequest, Lease, openapi.OK](h.renew),
			openapi.WithID("renewLock"),
			openapi.WithSummary("Renew a held lock"),
			openapi.WithTags(tag),
			openapi.WithErrors(http.StatusBadRequest, http.StatusConflict),
		)},
		{http.MethodDelete, "/locks/{key}", openapi.NewOperation(
			openapi.HandlerFunc[ReleaseRequest, struct{}, openapi.NoContent](h.release),
			openapi.WithID("releaseLock"),
			openapi.WithSummary("Release a held lock"),
			openapi.WithTags(tag),
			openapi.WithErrors(http.StatusBadRequest, http.StatusConflict),
		)},
		{http.MethodGet, "/locks/{key}", openapi.NewOperation(
			openapi.HandlerFunc[StatusRequest, Status, openapi.OK](h.status),
			openapi.WithID("lockStatus"),
			openapi.WithSummary("Report whether a key is locked"),
			openapi.WithTags(tag),
			openapi.WithHandlers(middleware.NoCache),
			openapi.WithErrors(http.StatusBadRequest),
		)},
	}
	for _, o := range ops {
		if err := api.Operation(o.method, o.pattern, o.op); err != nil {
			return err
		}
	}
	return nil
}

// NewRouter returns a router serving the lock API and its OpenAPI document
// at /openapi.json and /openapi.yaml. Requests carry log, tagged with the
// request id, in their context.
func NewRouter(manager *lock.Manager, log logr.Logger) (chi.Router, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	api := openapi.NewAPI(r, "distlock", "1.0.0")
	if err := NewHandler(manager).Register(api); err != nil {
		return nil, err
	}
	r.Get("/openapi.json", api.SpecHandler().ServeHTTP)
	r.Get("/openapi.yaml", api.SpecHandler().ServeHTTP)
	return r, nil
}

func requestLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := log.WithValues("request_id", middleware.GetReqID(r.Context()))
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logr.NewContext(r.Context(), l)))

			l.V(1).Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"elapsed", time.Since(start),
			)
		})
	}
}

func (h *Handler) acquire(ctx context.Context, in *AcquireRequest) (*Lease, error) {
	v := new(validator.Validator)
	v.Check(validator.NotBlank(in.Key), errors.New("key must not be blank"))
	v.Check(validator.AtLeast(in.TTL, 0), errors.New("ttl must not be negative"))
	v.Check(validator.AtLeast(in.Timeout, 0), errors.New("timeout must not be negative"))
	if err := v.Err("invalid acquire request"); err != nil {
		return nil, err
	}
	if !h.manager.Config().Enabled {
		return nil, errors.Unavailable("locking is disabled")
	}

	ttl := time.Duration(in.TTL)
	var handle *lock.Handle
	if in.Timeout > 0 {
		var err error
		handle, err = h.manager.Acquire(ctx, in.Key, ttl, time.Duration(in.Timeout))
		if lock.IsTimeout(err) {
			return nil, errors.Timeout("lock %q not acquired within %s", in.Key, time.Duration(in.Timeout)).Source(err)
		}
		if err != nil {
			return nil, errors.Aborted("acquire %q: %v", in.Key, err).Source(err)
		}
	} else if handle = h.manager.TryAcquire(ctx, in.Key, ttl); handle == nil {
		return nil, errors.Conflict("lock %q is held", in.Key)
	}

	return &Lease{
		Key:       handle.Key(),
		Value:     handle.Value(),
		ExpiresAt: handle.ExpiresAt(),
	}, nil
}

func (h *Handler) renew(ctx context.Context, in *RenewRequest) (*Lease, error) {
	v := new(validator.Validator)
	v.Check(validator.NotBlank(in.Key), errors.New("key must not be blank"))
	v.Check(validator.NotBlank(in.Value), errors.New("value must not be blank"))
	v.Check(validator.AtLeast(in.TTL, 0), errors.New("ttl must not be negative"))
	if err := v.Err("invalid renew request"); err != nil {
		return nil, err
	}

	ttl := time.Duration(in.TTL)
	if ttl <= 0 {
		ttl = h.manager.Config().DefaultExpiration
	}
	start := time.Now()
	if !h.manager.Renew(ctx, in.Key, in.Value, ttl) {
		return nil, errors.Conflict("lock %q is not held with this value", in.Key)
	}
	return &Lease{
		Key:       in.Key,
		Value:     in.Value,
		ExpiresAt: start.Add(ttl),
	}, nil
}

func (h *Handler) release(ctx context.Context, in *ReleaseRequest) (*struct{}, error) {
	v := new(validator.Validator)
	v.Check(validator.NotBlank(in.Key), errors.New("key must not be blank"))
	v.Check(validator.NotBlank(in.Value), errors.New("value must not be blank"))
	if err := v.Err("invalid release request"); err != nil {
		return nil, err
	}

	if !h.manager.Release(ctx, in.Key, in.Value) {
		return nil, errors.Conflict("lock %q is not held with this value", in.Key)
	}
	return nil, nil
}

func (h *Handler) status(ctx context.Context, in *StatusRequest) (*Status, error) {
	v := new(validator.Validator)
	v.Check(validator.NotBlank(in.Key), errors.New("key must not be blank"))
	if err := v.Err("invalid status request"); err != nil {
		return nil, err
	}

	ttl, held := h.manager.RemainingTTL(ctx, in.Key)
	return &Status{
		Key:  in.Key,
		Held: held,
		TTL:  Duration(ttl),
	}, nil
}
