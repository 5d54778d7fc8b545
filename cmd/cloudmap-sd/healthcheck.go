package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceyewan/cloudmap-sd/xerrors"
)

func healthcheckCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check /healthz of a running server (exit code for container HEALTHCHECK)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if url == "" {
				cfg, err := loadConfig(ctx)
				if err != nil {
					return err
				}
				url = healthURL(cfg.Server.Host, cfg.Server.Port)
			}
			if err := checkHealth(ctx, url, timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Health endpoint URL (default derived from server.host and server.port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Health check timeout")
	return cmd
}

// healthURL 监听在通配地址时改为探测回环地址
func healthURL(host string, port int) string {
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/healthz"
}

func checkHealth(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return xerrors.Wrap(err, "build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return xerrors.Wrapf(err, "check %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return xerrors.Wrapf(xerrors.ErrUnavailable, "check %s: status %d", url, resp.StatusCode)
	}
	return nil
}
