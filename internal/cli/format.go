package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/evcraddock/rent-finder/internal/client"
	"github.com/evcraddock/rent-finder/internal/rental"
)

// printJSON marshals v as indented JSON and writes it to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSessionSummary prints a session header in text format.
func printSessionSummary(w io.Writer, s *rental.Session, shareURL string) {
	fmt.Fprintf(w, "%s\n", s.Name)
	fmt.Fprintf(w, "  ID:       %s\n", s.ID)
	fmt.Fprintf(w, "  Created:  %s\n", formatDate(s.CreationDate))
	fmt.Fprintf(w, "  Members:  %d\n", len(s.Members))
	if shareURL != "" {
		fmt.Fprintf(w, "  Share:    %s\n", shareURL)
	}
}

// printListingTable prints a session's listings as a formatted table.
func printListingTable(out io.Writer, views []rental.ListingView) error {
	if len(views) == 0 {
		fmt.Fprintln(out, "No listings yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tSITE\tRENT\tEXPENSES\tTOTAL\tADJUSTS\tVOTES\tCOMMENTS"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	if _, err := fmt.Fprintln(w, "--\t----\t----\t--------\t-----\t-------\t-----\t--------"); err != nil {
		return fmt.Errorf("writing table separator: %w", err)
	}

	for _, v := range views {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			v.ID,
			truncate(v.Host(), 30),
			rental.FormatMoney(v.Rent),
			formatOptional(v.Expenses),
			rental.FormatMoney(v.MonthlyTotal),
			formatAdjustment(v.AdjustmentFrequency, v.AdjustmentIndex),
			formatVotes(v.Votes),
			v.Comments,
		); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}

	fmt.Fprintf(out, "\nTotal: %d listings\n", len(views))
	return nil
}

// printSession prints a session with its listings.
func printSession(w io.Writer, resp *client.SessionResponse) error {
	printSessionSummary(w, resp.Session, resp.ShareURL)
	fmt.Fprintln(w)
	return printListingTable(w, resp.Listings)
}

// printCommentList prints comments in text format.
func printCommentList(w io.Writer, comments []*rental.Comment) {
	if len(comments) == 0 {
		fmt.Fprintln(w, "No comments.")
		return
	}

	for _, c := range comments {
		fmt.Fprintf(w, "[%s] %s\n  %s\n\n", formatDateTime(c.CreationDate), c.Author, c.Text)
	}
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return rental.FormatMoney(*v)
}

// formatAdjustment describes how rent is adjusted, e.g. "trimestral ICL".
func formatAdjustment(f rental.Frequency, i rental.Index) string {
	var parts []string
	if f != "" && f != rental.FrequencyUnknown {
		parts = append(parts, string(f))
	}
	if i != "" && i != rental.IndexUnknown {
		parts = append(parts, string(i))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// formatVotes renders a tally as "+2 (3▲ 1▼)", marking the caller's vote.
func formatVotes(t rental.Tally) string {
	s := fmt.Sprintf("%+d (%d▲ %d▼)", t.Score(), t.Up, t.Down)
	switch t.Mine {
	case 1:
		s += " you▲"
	case -1:
		s += " you▼"
	}
	return s
}

func formatDate(s string) string {
	t, err := time.Parse(rental.TimeLayout, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02")
}

func formatDateTime(s string) string {
	t, err := time.Parse(rental.TimeLayout, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
