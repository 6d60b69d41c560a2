package errors

import (
	"encoding/json"
	"net/http"
)

var (
	HttpMap = map[Code]int{
		CodeConflict:        http.StatusConflict,
		CodeInternal:        http.StatusInternalServerError,
		CodeInvalidArgument: http.StatusBadRequest,
		CodeNotFound:        http.StatusNotFound,
		CodeTimeout:         http.StatusRequestTimeout,
		CodeUnavailable:     http.StatusServiceUnavailable,
		CodeAborted:         http.StatusInternalServerError,
	}
)

// HttpResponse is the JSON body written for failed requests.
type HttpResponse struct {
	Code    Code     `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
	Detail  any      `json:"detail,omitempty"`
}

// Response builds the HTTP status and body for err.
func Response(err error) (int, HttpResponse) {
	e := AsStatus(err)
	if e == nil {
		return http.StatusInternalServerError, HttpResponse{
			Code:    CodeInternal,
			Message: http.StatusText(http.StatusInternalServerError),
		}
	}
	resp := HttpResponse{
		Code:    e.Code,
		Message: e.Message,
		Detail:  e.Payload,
	}
	if errs, ok := e.Payload.([]error); ok {
		resp.Detail = nil
		for _, err := range errs {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}
	return e.Http(), resp
}

// JSONResponse writes err to w as a JSON error body.
func JSONResponse(w http.ResponseWriter, err error) error {
	status, resp := Response(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(resp)
}

// CodeFromHttp maps an HTTP status back to a code. Statuses shared by
// several codes resolve to the most general one.
func CodeFromHttp(status int) Code {
	switch status {
	case http.StatusConflict:
		return CodeConflict
	case http.StatusBadRequest:
		return CodeInvalidArgument
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusRequestTimeout:
		return CodeTimeout
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	}
	return CodeInternal
}

// FromResponse rebuilds a status error from a decoded error body. Errors
// listed in the body are restored as a []error payload.
func FromResponse(status int, resp HttpResponse) *Status {
	code := resp.Code
	if code == "" {
		code = CodeFromHttp(status)
	}
	message := resp.Message
	if message == "" {
		message = http.StatusText(status)
	}
	e := Format(code, "%s", message)
	if len(resp.Errors) > 0 {
		errs := make([]error, len(resp.Errors))
		for i, s := range resp.Errors {
			errs[i] = New(s)
		}
		return e.Details(errs)
	}
	if resp.Detail != nil {
		e.Details(resp.Detail)
	}
	return e
}
