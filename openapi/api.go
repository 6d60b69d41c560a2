package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/openapi-go/openapi3"
)

// API mounts operations on a chi router and collects them into an
// OpenAPI 3 document.
type API struct {
	chi.Router
	reflector *openapi3.Reflector
}

// NewAPI returns an API that registers routes on router.
func NewAPI(router chi.Router, title, version string) *API {
	reflector := openapi3.NewReflector()
	reflector.Spec.Info.WithTitle(title).WithVersion(version)

	return &API{
		Router:    router,
		reflector: reflector,
	}
}

// Operation mounts op on method and pattern and adds it to the document.
func (a *API) Operation(method, pattern string, op *Operation) error {
	oc, err := op.OperationContext(a.reflector, method, pattern)
	if err != nil {
		return err
	}
	if err := a.reflector.AddOperation(oc); err != nil {
		return fmt.Errorf("openapi: add operation %s %s: %w", method, pattern, err)
	}
	a.Router.Method(method, pattern, op)
	return nil
}

// Spec returns the OpenAPI document built so far.
func (a *API) Spec() *openapi3.Spec {
	return a.reflector.Spec
}

// SpecHandler serves the document as JSON, or YAML when the request path
// ends in .yaml or asks for application/yaml.
func (a *API) SpecHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			body        []byte
			err         error
			contentType = "application/json"
		)
		if strings.HasSuffix(r.URL.Path, ".yaml") || mediaType(r.Header.Get("Accept")) == "application/yaml" {
			contentType = "application/yaml"
			body, err = a.reflector.Spec.MarshalYAML()
		} else {
			body, err = json.Marshal(a.reflector.Spec)
		}
		if err != nil {
			encoder, _ := GetEncDec(w, r)
			WriteError(w, r, encoder, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	})
}
