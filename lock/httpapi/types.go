package httpapi

import (
	"time"

	"github.com/enverbisevac/distlock/timeutil"
	"github.com/swaggest/jsonschema-go"
)

// Duration is a time.Duration written as a Go duration string. Integer
// input is read as milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := timeutil.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// PrepareJSONSchema documents Duration as a string.
func (Duration) PrepareJSONSchema(schema *jsonschema.Schema) error {
	schema.WithType(jsonschema.String.Type())
	schema.WithFormat("duration")
	schema.WithExamples("30s")
	return nil
}

type AcquireRequest struct {
	Key     string   `path:"key" description:"Lock key."`
	TTL     Duration `query:"ttl" description:"Lease length. Defaults to the server default expiration."`
	Timeout Duration `query:"timeout" description:"How long to wait for a held lock. Zero makes a single attempt."`
}

type RenewRequest struct {
	Key   string   `path:"key" description:"Lock key."`
	Value string   `query:"value" required:"true" description:"Lock value returned on acquisition."`
	TTL   Duration `query:"ttl" description:"New lease length. Defaults to the server default expiration."`
}

type ReleaseRequest struct {
	Key   string `path:"key" description:"Lock key."`
	Value string `query:"value" required:"true" description:"Lock value returned on acquisition."`
}

type StatusRequest struct {
	Key string `path:"key" description:"Lock key."`
}

// Lease describes a held lock. Value proves ownership on renew and release.
type Lease struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Status reports whether a key is locked and for how long.
type Status struct {
	Key  string   `json:"key"`
	Held bool     `json:"held"`
	TTL  Duration `json:"ttl,omitempty"`
}
