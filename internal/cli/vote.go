package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newVoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote <listing-id> <up|down>",
		Short: "Vote on a listing",
		Long:  "Vote a listing up or down. Voting the same way again removes your vote; voting the other way replaces it.",
		Args:  cobra.ExactArgs(2),
		RunE:  runVote,
	}
}

// parseVote maps a vote argument to its value.
func parseVote(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "+", "+1", "1":
		return 1, nil
	case "down", "-", "-1":
		return -1, nil
	}
	return 0, fmt.Errorf("invalid vote %q (use up or down)", s)
}

func runVote(cmd *cobra.Command, args []string) error {
	lid := args[0]
	value, err := parseVote(args[1])
	if err != nil {
		return err
	}

	sid, err := currentSession()
	if err != nil {
		return err
	}
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	if err := c.Vote(cmd.Context(), sid, lid, value); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(map[string]interface{}{"listing_id": lid, "value": value})
	}
	fmt.Printf("Vote recorded on listing %s.\n", lid)
	return nil
}
