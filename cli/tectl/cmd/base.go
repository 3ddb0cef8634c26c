package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	baseSpaceID string
	baseIcon    string
)

var baseCmd = &cobra.Command{
	Use:   "base",
	Short: "Manage Bases",
}

var baseCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new Base under a Space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := eng.Catalog.CreateBase(context.Background(), baseSpaceID, args[0], baseIcon, "tectl")
		if err != nil {
			return err
		}
		return formatter.Print(base)
	},
}

var baseGetCmd = &cobra.Command{
	Use:   "get [base-id]",
	Short: "Show a Base by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := eng.Catalog.GetBase(context.Background(), args[0])
		if err != nil {
			return err
		}
		return formatter.Print(base)
	},
}

func init() {
	baseCreateCmd.Flags().StringVar(&baseSpaceID, "space", "", "owning Space ID (required)")
	_ = baseCreateCmd.MarkFlagRequired("space")
	baseCreateCmd.Flags().StringVar(&baseIcon, "icon", "", "display icon")
	baseCmd.AddCommand(baseCreateCmd, baseGetCmd)
}
