// Package cli defines the cobra command tree for rent-finder.
package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evcraddock/rent-finder/internal/client"
	"github.com/evcraddock/rent-finder/internal/db"
)

var (
	flagFormat  string
	flagDB      string
	flagSession string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rf",
		Short:         "Compare rental listings with the people you live with",
		Long:          "A tool for shared rental searches. Create a session, share its link, add listings, and vote and comment on them together from the CLI or the web UI.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path for serve (default: ~/.config/rf/rent.db)")
	root.PersistentFlags().StringVarP(&flagSession, "session", "s", "", "session id or share link (default: the current session)")

	root.AddCommand(
		newNewCmd(),
		newUseCmd(),
		newShowCmd(),
		newWatchCmd(),
		newRenameCmd(),
		newAddCmd(),
		newEditCmd(),
		newRemoveCmd(),
		newCommentCmd(),
		newCommentsCmd(),
		newVoteCmd(),
		newServeCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// openDB opens the SQLite database using the --db flag or default path.
// Used by the serve command to pass the DB to the web server.
func openDB() (*sql.DB, error) {
	path := flagDB
	if path == "" {
		var err error
		path, err = db.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return db.Open(path)
}

// newAPIClient creates an HTTP client for the rent-finder API.
func newAPIClient() *client.Client {
	return client.New(getServerURL(), getToken())
}

// requireAPIClient is newAPIClient for commands that act as an identity.
func requireAPIClient() (*client.Client, error) {
	if getToken() == "" {
		return nil, fmt.Errorf("not logged in; run 'rf login' first")
	}
	return newAPIClient(), nil
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// closeDB closes the database, logging any error to stderr.
func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
}
