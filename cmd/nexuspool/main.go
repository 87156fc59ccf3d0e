package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-db/nexus-pool/internal/cli"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "nexuspool",
		Short:   "Pooled database connection manager",
		Long:    "nexuspool manages a bounded reservoir of pooled database connections with idle eviction and XA transaction enlistment.",
		Version: version,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter pool configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			name, _ := cmd.Flags().GetString("name")
			return cli.Init(dir, name)
		},
	}
	cmd.Flags().String("name", "default", "Name for the starter pool entry")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start every pool named in a configuration file",
		Long:  "Loads a pool configuration file, opens every pool it names, and runs the shared maintenance scheduler until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return cli.Serve(configPath)
		},
	}
	cmd.Flags().StringP("config", "c", cli.ConfigFileName, "Path to the pool configuration file")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print pool_size/peak_pool_size/idle_count for every configured pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return cli.Stats(configPath)
		},
	}
	cmd.Flags().StringP("config", "c", cli.ConfigFileName, "Path to the pool configuration file")
	return cmd
}
