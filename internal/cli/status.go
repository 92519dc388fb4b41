package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/rent-finder/internal/client"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check connection and identity status",
		Long:  "Tests the connection to the server and checks if the stored identity token is valid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	serverURL := getServerURL()
	token := getToken()

	fmt.Printf("Server:   %s\n", serverURL)
	if cfg, err := loadConfig(); err == nil && cfg.Session != "" {
		fmt.Printf("Session:  %s\n", cfg.Session)
	}

	if token == "" {
		fmt.Println("Identity: not configured")
		fmt.Println("\nRun 'rf login' to get one.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ident, err := client.New(serverURL, token).Identity(ctx)
	switch {
	case client.IsUnauthorized(err):
		fmt.Println("Status:   ✗ invalid or expired token")
		fmt.Println("\nRun 'rf login' to get a new identity.")
	case err != nil:
		fmt.Printf("Status:   ✗ cannot reach server (%v)\n", err)
	default:
		label := "anonymous"
		if !ident.Anonymous && ident.DisplayName != "" {
			label = ident.DisplayName
		}
		fmt.Printf("Identity: %s (%s)\n", ident.ID, label)
		fmt.Println("Status:   ✓ connected")
	}

	return nil
}
