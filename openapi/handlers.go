package openapi

import (
	"context"
	"net/http"

	"github.com/enverbisevac/distlock/errors"
	"github.com/go-logr/logr"
)

// HandlerFunc is a typed HTTP handler. In is decoded from the request
// path, query, headers and body; the returned Out is encoded with the
// status of S. A nil Out writes no body.
type HandlerFunc[In, Out any, S Success] func(ctx context.Context, in *In) (*Out, error)

func (f HandlerFunc[In, Out, S]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	encoder, decoder := GetEncDec(w, r)

	var in In
	if err := DecodeRequest(r, decoder, &in); err != nil {
		WriteError(w, r, encoder, err)
		return
	}

	out, err := f(r.Context(), &in)
	if err != nil {
		WriteError(w, r, encoder, err)
		return
	}

	status := GetStatus[S]()
	if out == nil {
		w.WriteHeader(status)
		return
	}
	EncodeResponse(w, encoder, out, status)
}

// WriteError encodes err as an error document. Server side failures are
// logged with the request logger.
func WriteError(w http.ResponseWriter, r *http.Request, encoder Encoder, err error) {
	status, resp := errors.Response(err)
	if status >= http.StatusInternalServerError {
		logr.FromContextOrDiscard(r.Context()).Error(err, "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status)
	}
	w.WriteHeader(status)
	_ = encoder.Encode(resp)
}
