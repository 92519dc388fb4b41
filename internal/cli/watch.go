package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/rent-finder/internal/client"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the current session live",
		Long:  "Print the current session's listings and reprint them whenever anyone changes the session. Stop with Ctrl-C.",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	sid, err := currentSession()
	if err != nil {
		return err
	}
	c, err := requireAPIClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	return c.Watch(ctx, sid, func(snap client.Snapshot) error {
		if isJSON() {
			return printJSON(snap)
		}
		fmt.Printf("--- %s ---\n", time.Now().Format("15:04:05"))
		return printSession(os.Stdout, &client.SessionResponse{Session: snap.Session, Listings: snap.Listings})
	})
}
