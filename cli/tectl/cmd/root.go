// Package cmd provides the Cobra commands for tectl, an operator CLI that
// talks to the Table Engine's catalog and schema directly against the
// database — there is no HTTP/REST API layer in scope for it to call.
package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/tableengine/cli/tectl/output"
	"github.com/fluxbase-eu/tableengine/internal/config"
	"github.com/fluxbase-eu/tableengine/internal/database"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/engine"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"

	outputFmt string
	noHeaders bool

	eng       *engine.Engine
	db        *database.Connection
	formatter *output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "tectl",
	Short: "tectl manages Table Engine Spaces, Bases, and Tables",
	Long: `tectl is an operator CLI for the Table Engine. It connects directly to
the configured database (the same connection the engine uses at runtime)
and exposes Space/Base/Table catalog operations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)

		format, err := output.ParseFormat(outputFmt)
		if err != nil {
			return err
		}
		formatter = output.NewFormatter(format, noHeaders)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		db, err = database.NewConnection(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		eng, err = engine.New(cfg, db, nil, nil)
		if err != nil {
			return fmt.Errorf("wire engine: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			db.Close()
		}
	},
}

// Execute runs tectl.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false, "hide table headers")

	rootCmd.AddCommand(spaceCmd, baseCmd, tableCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tectl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(Version)
		return nil
	},
}
