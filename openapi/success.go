package openapi

import "net/http"

type OK struct{}

func (OK) HttpStatus() int {
	return http.StatusOK
}

type Created struct{}

func (Created) HttpStatus() int {
	return http.StatusCreated
}

type NoContent struct{}

func (NoContent) HttpStatus() int {
	return http.StatusNoContent
}

type Success interface {
	OK | Created | NoContent
}

// GetStatus returns the HTTP status of success type T.
func GetStatus[T Success]() int {
	var status T
	return any(status).(HttpStatus).HttpStatus()
}
