package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name>",
		Short: "Rename the current session",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRename,
	}
}

func runRename(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return fmt.Errorf("session name is required")
	}
	sid, err := currentSession()
	if err != nil {
		return err
	}
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	if err := c.RenameSession(cmd.Context(), sid, name); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(map[string]string{"id": sid, "name": name})
	}
	fmt.Printf("Session renamed to %q.\n", name)
	return nil
}
