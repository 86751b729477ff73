// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgunmask/pgunmask/cmd/flags"
	"github.com/pgunmask/pgunmask/pkg/config"
	"github.com/pgunmask/pgunmask/pkg/db"
	"github.com/pgunmask/pgunmask/pkg/extract"
	"github.com/pgunmask/pgunmask/pkg/querybuilder"
	"github.com/pgunmask/pgunmask/pkg/schema"
)

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Run the full reconstruction pipeline against the target database and print the recovered query",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{
				PostgresURL:   flags.PostgresURL(),
				Schema:        flags.Schema(),
				HiddenQuery:   flags.HiddenQuery(),
				KeyGraphPath:  flags.KeyGraph(),
				LockTimeoutMs: flags.LockTimeout(),
				MaxAttempts:   flags.MaxSamplingAttempts(),
			}
			if cfg.HiddenQuery == "" {
				return errHiddenQueryRequired
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runExtract(cmd, cfg)
		},
	}
}

func runExtract(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()

	graph, err := schema.LoadKeyGraph(cfg.KeyGraphPath)
	if err != nil {
		return fmt.Errorf("load key graph: %w", err)
	}

	conn, err := db.Open(ctx, cfg.PostgresURL, cfg.Schema, cfg.LockTimeoutMs)
	if err != nil {
		return fmt.Errorf("connect to target database: %w", err)
	}
	defer conn.Close()

	pipeline := extract.New(conn, cfg.Schema, cfg.HiddenQuery, graph)
	result, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	result.PrintTiming()

	query, err := querybuilder.Build(result)
	if err != nil {
		return fmt.Errorf("build recovered query: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), query)
	return nil
}
