package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [name]",
		Short: "Create a search session",
		Long:  "Create a new search session owned by you and make it the current session. Without a name the session is called \"New Search - <date>\".",
		RunE:  runNew,
	}
}

func runNew(cmd *cobra.Command, args []string) error {
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	name := strings.Join(args, " ")
	sid, err := c.CreateSession(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if err := updateConfig(func(cfg *CLIConfig) { cfg.Session = sid }); err != nil {
		return fmt.Errorf("saving current session: %w", err)
	}

	shareURL := strings.TrimRight(getServerURL(), "/") + "/session/" + sid
	if isJSON() {
		return printJSON(map[string]string{"id": sid, "share_url": shareURL})
	}

	fmt.Printf("Session %s created.\n", sid)
	fmt.Printf("Share this link to search together: %s\n", shareURL)
	return nil
}
