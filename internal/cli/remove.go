package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <listing-id>",
		Short: "Remove a listing",
		Long:  "Remove a listing and all its comments and votes.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemove,
	}
}

func runRemove(cmd *cobra.Command, args []string) error {
	lid := args[0]
	sid, err := currentSession()
	if err != nil {
		return err
	}
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	if err := c.DeleteListing(cmd.Context(), sid, lid); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(map[string]interface{}{
			"id":      lid,
			"removed": true,
		})
	}

	fmt.Printf("Listing %s removed.\n", lid)
	return nil
}
