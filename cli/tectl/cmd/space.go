package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var spaceOwnerID string

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Manage Spaces",
}

var spaceCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new Space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		space, err := eng.Catalog.CreateSpace(context.Background(), args[0], spaceOwnerID, "tectl")
		if err != nil {
			return err
		}
		return formatter.Print(space)
	},
}

func init() {
	spaceCreateCmd.Flags().StringVar(&spaceOwnerID, "owner", "", "owner user ID")
	spaceCmd.AddCommand(spaceCreateCmd)
}
