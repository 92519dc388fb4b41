package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `comment <listing-id> "text"`,
		Short: "Add a comment to a listing",
		Long:  "Add a text comment to a listing. Comments are signed with your display name, or an anonymous label.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runComment,
	}
}

func runComment(cmd *cobra.Command, args []string) error {
	lid := args[0]
	text := strings.TrimSpace(strings.Join(args[1:], " "))
	if text == "" {
		return fmt.Errorf("comment text is required")
	}

	sid, err := currentSession()
	if err != nil {
		return err
	}
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	if err := c.AddComment(cmd.Context(), sid, lid, text); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(map[string]string{"listing_id": lid, "text": text})
	}
	fmt.Printf("Comment added.\n  %s\n", text)
	return nil
}
