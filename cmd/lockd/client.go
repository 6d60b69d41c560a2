package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/enverbisevac/distlock/httputil"
	"github.com/enverbisevac/distlock/lock/httpapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newClient(v *viper.Viper) *httpapi.Client {
	return httpapi.NewClient(v.GetString("server"),
		httputil.WithHTTPClient(&http.Client{Timeout: v.GetDuration("request-timeout")}),
	)
}

func printLease(w io.Writer, lease *httpapi.Lease) {
	fmt.Fprintf(w, "key=%s value=%s expires_at=%s\n",
		lease.Key, lease.Value, lease.ExpiresAt.Format(time.RFC3339Nano))
}

func newAcquireCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long:  "Acquire a lock and print its value. The value is needed to renew or release the lock.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lease, err := newClient(v).Acquire(cmd.Context(), args[0],
				v.GetDuration("ttl"), v.GetDuration("wait"))
			if err != nil {
				return fmt.Errorf("acquire %s: %w", args[0], err)
			}
			printLease(cmd.OutOrStdout(), lease)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 0, wrapString("Lease length, 0 uses the server default"))
	cmd.Flags().Duration("wait", 0, wrapString("How long the server retries a held lock, 0 makes a single attempt"))
	return cmd
}

func newRenewCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renew [key] [value]",
		Short: "Renew a held lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lease, err := newClient(v).Renew(cmd.Context(), args[0], args[1], v.GetDuration("ttl"))
			if err != nil {
				return fmt.Errorf("renew %s: %w", args[0], err)
			}
			printLease(cmd.OutOrStdout(), lease)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 0, wrapString("New lease length, 0 uses the server default"))
	return cmd
}

func newReleaseCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "release [key] [value]",
		Short: "Release a held lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(v).Release(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("release %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released=true key=%s\n", args[0])
			return nil
		},
	}
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status [key]",
		Short: "Show whether a key is locked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newClient(v).Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status %s: %w", args[0], err)
			}
			if !status.Held {
				fmt.Fprintf(cmd.OutOrStdout(), "key=%s held=false\n", status.Key)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key=%s held=true ttl=%s\n",
				status.Key, time.Duration(status.TTL).Round(time.Millisecond))
			return nil
		},
	}
}
