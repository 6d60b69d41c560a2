package openapi

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"reflect"
	"runtime"
	"strings"

	"github.com/enverbisevac/distlock/errors"
	"github.com/enverbisevac/distlock/httputil"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

func EncodeResponse(w http.ResponseWriter, encoder Encoder, value any, status int) {
	w.WriteHeader(status)
	if status == http.StatusNoContent || value == nil {
		return
	}
	_ = encoder.Encode(value)
}

// DecodeRequest reads the body into in when one was sent, then fills the
// path, query and header fields of in.
func DecodeRequest(r *http.Request, decoder Decoder, in any) error {
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		if err := decoder.Decode(in); err != nil && !errors.Is(err, io.EOF) {
			return errors.InvalidArgument("invalid request body: %v", err).Source(err)
		}
	}
	return httputil.Decode(r, chi.URLParam, in)
}

// GetEncDec picks the body decoder from Content-Type and the response
// encoder from Accept, and sets the response Content-Type.
func GetEncDec(w http.ResponseWriter, r *http.Request) (Encoder, Decoder) {
	var decoder Decoder

	switch mediaType(r.Header.Get("Content-Type")) {
	case "application/yaml":
		decoder = yaml.NewDecoder(r.Body)
	default:
		decoder = json.NewDecoder(r.Body)
	}

	var encoder Encoder

	switch accept := mediaType(r.Header.Get("Accept")); accept {
	case "application/xml":
		encoder = xml.NewEncoder(w)
		w.Header().Set("Content-Type", accept)
	case "application/yaml":
		encoder = yaml.NewEncoder(w)
		w.Header().Set("Content-Type", accept)
	default:
		encoder = json.NewEncoder(w)
		w.Header().Set("Content-Type", "application/json")
	}

	return encoder, decoder
}

func mediaType(header string) string {
	mt, _, _ := strings.Cut(header, ";")
	return strings.TrimSpace(mt)
}

func nameOf(f any) string {
	v := reflect.ValueOf(f)
	if v.Kind() == reflect.Func {
		if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
			name := rf.Name()
			if i := strings.LastIndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			return strings.TrimSuffix(name, "-fm")
		}
	}
	return v.String()
}
