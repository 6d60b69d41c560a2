package openapi

import (
	"fmt"
	"net/http"

	"github.com/enverbisevac/distlock/errors"
	"github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
)

// Operation is a documented HTTP handler.
type Operation struct {
	http.Handler
	handlers []func(http.Handler) http.Handler

	ID          string
	Summary     string
	Description string
	Tags        []string

	Request   any
	Responses map[int]any
}

func (o *Operation) OperationContext(
	reflector *openapi3.Reflector,
	method string,
	route string,
) (openapi.OperationContext, error) {
	op, err := reflector.NewOperationContext(method, route)
	if err != nil {
		return nil, fmt.Errorf("failed to map OperationContext: %w", err)
	}

	op.SetID(o.ID)
	op.SetSummary(o.Summary)
	op.SetDescription(o.Description)
	op.SetTags(o.Tags...)

	if o.Request != nil {
		op.AddReqStructure(o.Request)
	}

	for status, object := range o.Responses {
		op.AddRespStructure(object, openapi.WithHTTPStatus(status))
	}

	return op, nil
}

type OperationFunc func(*Operation)

func WithID(id string) OperationFunc {
	return func(o *Operation) {
		o.ID = id
	}
}

func WithSummary(summary string) OperationFunc {
	return func(o *Operation) {
		o.Summary = summary
	}
}

func WithDescription(description string) OperationFunc {
	return func(o *Operation) {
		o.Description = description
	}
}

func WithTags(tags ...string) OperationFunc {
	return func(o *Operation) {
		o.Tags = append(o.Tags, tags...)
	}
}

// WithHandlers wraps the operation handler with middlewares, outermost first.
func WithHandlers(handlers ...func(http.Handler) http.Handler) OperationFunc {
	return func(o *Operation) {
		o.handlers = append(o.handlers, handlers...)
	}
}

func WithResponse(status int, object any) OperationFunc {
	return func(o *Operation) {
		if o.Responses == nil {
			o.Responses = make(map[int]any)
		}
		o.Responses[status] = object
	}
}

// WithErrors documents the error document for each status.
func WithErrors(statuses ...int) OperationFunc {
	return func(o *Operation) {
		for _, status := range statuses {
			WithResponse(status, new(errors.HttpResponse))(o)
		}
	}
}
