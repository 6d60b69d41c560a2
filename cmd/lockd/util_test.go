package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/enverbisevac/distlock/errors"
	"github.com/enverbisevac/distlock/validator"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(wrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), wrap)
	}
	assert.Equal(t, "short text", wrapString("  short   text "))
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		debug         bool
		contains      string
	}{
		{level: "debug", format: "text", debug: true, contains: "msg=hello"},
		{level: "info", format: "json", contains: `"msg":"hello"`},
		{level: "error", format: "text"},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			v := viper.New()
			v.Set("log-level", tt.level)
			v.Set("log-format", tt.format)

			var buf bytes.Buffer
			log, err := newLogger(v, &buf)
			require.NoError(t, err)

			log.Info("hello")
			log.V(1).Info("details")
			if tt.contains != "" {
				assert.Contains(t, buf.String(), tt.contains)
			} else {
				assert.NotContains(t, buf.String(), "hello")
			}
			assert.Equal(t, tt.debug, strings.Contains(buf.String(), "details"))
		})
	}

	v := viper.New()
	v.Set("log-level", "trace")
	_, err := newLogger(v, &bytes.Buffer{})
	assert.Error(t, err)

	v.Set("log-level", "info")
	v.Set("log-format", "xml")
	_, err = newLogger(v, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	val := new(validator.Validator)
	val.Check(false, errors.New("first"))
	val.Check(false, errors.New("second"))

	err := describe(val.Err("bad config"))
	assert.Equal(t, "bad config: first; second", err.Error())

	plain := errors.New("plain")
	assert.Equal(t, plain, describe(plain))
}
