package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/tableengine/cli/tectl/output"
)

var tableBaseID string

var tableCmd = &cobra.Command{
	Use:     "table",
	Aliases: []string{"tables"},
	Short:   "Manage Tables",
}

var tableCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new Table under a Base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, err := eng.Catalog.CreateTable(context.Background(), tableBaseID, args[0], "tectl")
		if err != nil {
			return err
		}
		return formatter.Print(tbl)
	},
}

var tableGetCmd = &cobra.Command{
	Use:   "get [table-id]",
	Short: "Show a Table by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, err := eng.Catalog.GetTable(context.Background(), args[0])
		if err != nil {
			return err
		}
		return formatter.Print(tbl)
	},
}

var tableListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every Table in a Base",
	RunE: func(cmd *cobra.Command, args []string) error {
		tables, err := eng.Catalog.ListTables(context.Background(), tableBaseID)
		if err != nil {
			return err
		}
		rows := make([][]string, len(tables))
		for i, t := range tables {
			rows[i] = []string{t.ID, t.Name, strconv.FormatInt(t.Version, 10)}
		}
		return formatter.PrintTable(output.TableData{
			Headers: []string{"ID", "NAME", "VERSION"},
			Rows:    rows,
		})
	},
}

func init() {
	tableCreateCmd.Flags().StringVar(&tableBaseID, "base", "", "owning Base ID (required)")
	_ = tableCreateCmd.MarkFlagRequired("base")
	tableListCmd.Flags().StringVar(&tableBaseID, "base", "", "owning Base ID (required)")
	_ = tableListCmd.MarkFlagRequired("base")
	tableCmd.AddCommand(tableCreateCmd, tableGetCmd, tableListCmd)
}
