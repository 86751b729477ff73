// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgunmask/pgunmask/cmd/flags"
)

// Version is the pgunmask version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("PGUNMASK")
	viper.AutomaticEnv()

	flags.ConnectionFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "pgunmask",
	Short:        "Reconstruct a hidden SQL query from black-box database access",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd.ExecuteContext(context.Background())
}
