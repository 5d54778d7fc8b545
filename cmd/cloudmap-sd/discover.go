package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/discovery"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

func discoverCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery pass and print the target groups",
		Long: `discover runs a single discovery pass and writes the JSON target groups
to stdout, or atomically to --output so the file can back a Prometheus file_sd_configs
entry. A partial result is still written; a total failure exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			// 标准输出留给 JSON
			if output == "" && cfg.Log.Output == "stdout" {
				cfg.Log.Output = "stderr"
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			groups, err := a.aggregator.Discover(ctx)
			if discovery.IsTotalFailure(err) {
				return err
			}
			if err != nil {
				a.logger.Warn("writing partial result", clog.Int("skipped", discovery.SkippedCount(err)))
			}

			if output == "" {
				return writeTargets(cmd.OutOrStdout(), groups)
			}
			if err := writeTargetsFile(output, groups); err != nil {
				return err
			}
			a.logger.Info("target groups written", clog.String("path", output), clog.Int("groups", len(groups)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write target groups to this file instead of stdout")
	return cmd
}

func writeTargets(w io.Writer, groups []discovery.TargetGroup) error {
	if groups == nil {
		groups = []discovery.TargetGroup{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(groups)
}

// writeTargetsFile 先写临时文件再重命名，避免 Prometheus 读到半个文件
func writeTargetsFile(path string, groups []discovery.TargetGroup) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return xerrors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := writeTargets(tmp, groups); err != nil {
		_ = tmp.Close()
		return xerrors.Wrap(err, "encode target groups")
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return xerrors.Wrap(err, "chmod temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return xerrors.Wrapf(err, "rename to %s", path)
	}
	return nil
}
