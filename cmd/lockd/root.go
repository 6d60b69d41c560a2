package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = "1.0.0"

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "lockd",
		Short: "distributed lock server",
		Long: fmt.Sprintf(`lockd (v%s)

Lease based distributed locks on Redis, PostgreSQL or process memory,
served over HTTP. Flags can be set as LOCKD_<FLAG> environment variables
or in a .env file.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, v)
		},
	}

	key := "log-level"
	root.PersistentFlags().String(key, "info", wrapString("Log level (debug, info, error)"))
	key = "log-format"
	root.PersistentFlags().String(key, "text", wrapString("Log format (text, json)"))
	key = "server"
	root.PersistentFlags().String(key, "http://localhost:8080", wrapString("Base URL of the lockd server used by the client commands"))
	key = "request-timeout"
	root.PersistentFlags().Duration(key, 30*time.Second, wrapString("HTTP timeout of the client commands. Must exceed --wait"))

	root.AddCommand(
		newServeCmd(v),
		newAcquireCmd(v),
		newRenewCmd(v),
		newReleaseCmd(v),
		newStatusCmd(v),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of lockd",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "lockd v%s\n", Version)
			},
		},
	)
	return root
}
