package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current session",
		Long:  "Show the current session with all its listings, totals, votes and comment counts.",
		Args:  cobra.NoArgs,
		RunE:  runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	sid, err := currentSession()
	if err != nil {
		return err
	}
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	resp, err := c.GetSession(cmd.Context(), sid)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(resp)
	}
	return printSession(os.Stdout, resp)
}
