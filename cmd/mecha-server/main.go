// Package main is the entry point for the MechaFrog play-to-mine server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "mecha-server",
	Short:         "MechaFrog play-to-mine idle economy server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCMD.RunE(cmd, args)
	},
}

var flags struct {
	configPath string
	dbPath     string
	memory     bool
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides storage.path)")
	rootCmd.PersistentFlags().BoolVar(&flags.memory, "memory", false, "keep progress in memory only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
