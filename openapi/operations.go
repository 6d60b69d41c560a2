package openapi

import "net/http"

// NewOperation documents handler with its request type and the response
// type for the status of S.
func NewOperation[In, Out any, S Success](
	handler HandlerFunc[In, Out, S],
	options ...OperationFunc,
) *Operation {
	status := GetStatus[S]()

	args := []OperationFunc{WithRequest(new(In))}
	if status == http.StatusNoContent {
		args = append(args, WithResponse(status, nil))
	} else {
		args = append(args, WithResponse(status, new(Out)))
	}
	args = append(args, options...)

	return Handle(handler, args...)
}

// Handle wraps an untyped handler into an Operation.
func Handle(handler http.Handler, options ...OperationFunc) *Operation {
	op := Operation{
		ID:      nameOf(handler),
		Handler: handler,
	}

	for _, fn := range options {
		fn(&op)
	}

	for i := len(op.handlers) - 1; i >= 0; i-- {
		op.Handler = op.handlers[i](op.Handler)
	}

	return &op
}

func WithRequest(object any) OperationFunc {
	return func(o *Operation) {
		o.Request = object
	}
}
