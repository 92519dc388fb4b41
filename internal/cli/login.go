package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/evcraddock/rent-finder/internal/client"
)

func newLoginCmd() *cobra.Command {
	var (
		server  string
		browser bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Get an identity and store its token",
		Long: `Stores an identity token for CLI access.

By default a new anonymous identity is issued. With --browser, a browser is
opened so the CLI can take on the identity you already use on the web.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if browser {
				return runBrowserLogin(server)
			}
			return runLogin(cmd.Context(), server)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default: from config or http://localhost:8080)")
	cmd.Flags().BoolVar(&browser, "browser", false, "log in as your browser's identity")

	return cmd
}

func runLogin(ctx context.Context, serverFlag string) error {
	serverURL := serverFlag
	if serverURL == "" {
		serverURL = getServerURL()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ident, err := client.New(serverURL, "").IssueIdentity(ctx)
	if err != nil {
		return fmt.Errorf("issuing identity: %w", err)
	}

	if err := storeLogin(serverFlag, ident.Token); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(ident)
	}
	fmt.Printf("✓ Logged in as a new anonymous identity (%s).\n", ident.ID)
	return nil
}

func runBrowserLogin(serverFlag string) error {
	serverURL := serverFlag
	if serverURL == "" {
		serverURL = getServerURL()
	}

	authURL := strings.TrimRight(serverURL, "/") + "/cli/auth"

	fmt.Println("Opening browser for authentication...")
	fmt.Printf("If the browser doesn't open, visit: %s\n\n", authURL)

	if err := openBrowser(authURL); err != nil {
		fmt.Fprintf(os.Stderr, "Could not open browser: %v\n", err)
	}

	fmt.Print("Paste your token: ")
	reader := bufio.NewReader(os.Stdin)
	token, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	token = strings.TrimSpace(token)
	if err := validateToken(token); err != nil {
		return err
	}

	if err := storeLogin(serverFlag, token); err != nil {
		return err
	}

	fmt.Println("✓ Token saved. You're logged in!")
	return nil
}

// storeLogin saves the token, and the server it came from if one was given.
func storeLogin(serverFlag, token string) error {
	err := updateConfig(func(cfg *CLIConfig) {
		cfg.Token = token
		if serverFlag != "" {
			cfg.ServerURL = serverFlag
		}
	})
	if err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// validateToken checks that a pasted token is a well-formed identity token.
// The signature is checked by the server on first use.
func validateToken(token string) error {
	if token == "" {
		return fmt.Errorf("no token provided")
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("invalid token format: %w", err)
	}
	if claims.Subject == "" {
		return fmt.Errorf("invalid token: no identity")
	}
	return nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
