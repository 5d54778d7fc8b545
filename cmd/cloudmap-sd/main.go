// cloudmap-sd 把 AWS Cloud Map 暴露为 Prometheus HTTP 服务发现端点。
//
// 用法：
//
//	cloudmap-sd                         # 等同于 serve
//	cloudmap-sd serve --config config.yaml
//	cloudmap-sd discover -o /etc/prometheus/cloudmap.json
//	cloudmap-sd healthcheck             # 容器 HEALTHCHECK
//	cloudmap-sd version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// configFile 全局 --config 参数
var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cloudmap-sd",
		Short: "Prometheus HTTP service discovery for AWS Cloud Map",
		Long: `cloudmap-sd enumerates AWS Cloud Map namespaces, services and instances
on every request and serves them as Prometheus HTTP SD target groups on /cloudmap_sd.

Configuration is read from config.{yaml,json,toml} in . or ./config (or --config),
then CLOUDMAP_SD_* environment variables and the unprefixed HOST, PORT, AWS_REGION
and CLOUDMAP_NAMESPACE overrides.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the config file")

	root.AddCommand(serveCmd())
	root.AddCommand(discoverCmd())
	root.AddCommand(healthcheckCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
