package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evcraddock/rent-finder/internal/client"
)

func newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <session-id|share-link>",
		Short: "Join a session and make it current",
		Long:  "Open a session by id or share link, joining it as a member if you are not one yet, and make it the current session.",
		Args:  cobra.ExactArgs(1),
		RunE:  runUse,
	}
}

func runUse(cmd *cobra.Command, args []string) error {
	sid := parseSessionRef(args[0])
	if sid == "" {
		return fmt.Errorf("invalid session: %s", args[0])
	}

	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	resp, err := c.GetSession(cmd.Context(), sid)
	if client.IsNotFound(err) {
		return fmt.Errorf("session %s not found or no access", sid)
	}
	if err != nil {
		return err
	}

	if err := updateConfig(func(cfg *CLIConfig) { cfg.Session = sid }); err != nil {
		return fmt.Errorf("saving current session: %w", err)
	}

	if isJSON() {
		return printJSON(resp)
	}
	fmt.Printf("Now using %q (%s).\n", resp.Session.Name, sid)
	return nil
}
