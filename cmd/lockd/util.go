package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/enverbisevac/distlock/errors"
	"github.com/enverbisevac/distlock/validator"
	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// wrap is the number of characters to wrap the help text at
	wrap int = 50

	envPrefix = "lockd"
)

// wrapString wraps a string at wrap characters
func wrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// initConfig loads .env files and binds the command flags to v. Every flag
// can also be set as LOCKD_<FLAG>, e.g. LOCKD_DEFAULT_EXPIRATION=1m.
func initConfig(cmd *cobra.Command, v *viper.Viper) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v.BindPFlags(cmd.Flags())
}

// newLogger builds the process logger. Level "debug" enables V(1) logs.
func newLogger(v *viper.Viper, w io.Writer) (logr.Logger, error) {
	var level slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		level = slog.Level(-1)
	case "info", "":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		return logr.Discard(), fmt.Errorf("invalid log level %q (expected debug, info, error)", v.GetString("log-level"))
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return logr.Discard(), fmt.Errorf("invalid log format %q (expected text, json)", v.GetString("log-format"))
	}
	return logr.FromSlogHandler(handler), nil
}

// describe flattens a validation error into one line for the terminal.
func describe(err error) error {
	errs := validator.FromError(err).Errors
	if len(errs) == 0 {
		return err
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s: %s", errors.Message(err), strings.Join(msgs, "; "))
}
