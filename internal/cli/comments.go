package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func newCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <listing-id>",
		Short: "List comments on a listing",
		Long:  "List all comments on a listing, oldest first.",
		Args:  cobra.ExactArgs(1),
		RunE:  runComments,
	}
}

func runComments(cmd *cobra.Command, args []string) error {
	sid, err := currentSession()
	if err != nil {
		return err
	}
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	comments, err := c.ListComments(cmd.Context(), sid, args[0])
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(comments)
	}

	printCommentList(os.Stdout, comments)
	return nil
}
