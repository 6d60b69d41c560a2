package httputil

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/enverbisevac/distlock/errors"
)

// PathParam returns a named path parameter of r, e.g. chi.URLParam.
type PathParam func(r *http.Request, key string) string

// Decode fills the struct pointed to by data from the request. Fields are
// matched by their `path`, `query` and `header` tags; embedded structs are
// decoded recursively. Path values are unescaped before conversion. A
// query tag may carry the "explode" option to read repeated parameters
// instead of a comma separated list.
func Decode(r *http.Request, param PathParam, data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("httputil: decode target must be a non-nil pointer, got %T", data)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("httputil: decode target must point to a struct, got %T", data)
	}
	return decodeStruct(r, param, r.URL.Query(), v)
}

func decodeStruct(r *http.Request, param PathParam, query url.Values, v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		typ := t.Field(i)
		field := v.Field(i)

		if typ.Anonymous && typ.Type.Kind() == reflect.Struct {
			if err := decodeStruct(r, param, query, field); err != nil {
				return err
			}
			continue
		}
		if !typ.IsExported() {
			continue
		}

		if tag := typ.Tag.Get("query"); tag != "" {
			if err := decodeQuery(field, query, tag); err != nil {
				return err
			}
		}

		if tag := typ.Tag.Get("path"); tag != "" && param != nil {
			if err := decodePath(field, r, param, tag); err != nil {
				return err
			}
		}

		if tag := typ.Tag.Get("header"); tag != "" {
			if err := decodeHeader(field, r.Header, tag); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeQuery(field reflect.Value, query url.Values, tag string) error {
	parts := strings.Split(tag, ",")
	name := parts[0]
	if !query.Has(name) {
		return nil
	}

	if field.Kind() == reflect.Slice {
		var values []string
		if hasOption(parts[1:], "explode") {
			values = query[name]
		} else {
			values = strings.Split(query.Get(name), ",")
		}
		return invalid("query", name, resolveValues(field, values))
	}
	if value := query.Get(name); value != "" {
		return invalid("query", name, resolveValue(field, value))
	}
	return nil
}

func decodePath(field reflect.Value, r *http.Request, param PathParam, name string) error {
	raw := param(r, name)
	if raw == "" {
		return nil
	}
	value, err := url.PathUnescape(raw)
	if err != nil {
		return invalid("path", name, err)
	}
	return invalid("path", name, resolveValue(field, value))
}

func decodeHeader(field reflect.Value, header http.Header, name string) error {
	if field.Kind() == reflect.Slice {
		if values := header.Values(name); len(values) > 0 {
			return invalid("header", name, resolveValues(field, values))
		}
		return nil
	}
	if value := header.Get(name); value != "" {
		return invalid("header", name, resolveValue(field, value))
	}
	return nil
}

func hasOption(options []string, option string) bool {
	for _, o := range options {
		if o == option {
			return true
		}
	}
	return false
}

func invalid(in, name string, err error) error {
	if err == nil {
		return nil
	}
	return errors.InvalidArgument("invalid %s parameter %q: %v", in, name, err).Source(err)
}
