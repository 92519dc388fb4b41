package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evcraddock/rent-finder/internal/rental"
)

// listingFlags are the listing fields shared by add and edit.
type listingFlags struct {
	rent      float64
	expenses  float64
	agencyFee float64
	deposit   string
	frequency string
	index     string
}

func (f *listingFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.rent, "rent", 0, "monthly rent")
	cmd.Flags().Float64Var(&f.expenses, "expenses", 0, "monthly building expenses (expensas)")
	cmd.Flags().Float64Var(&f.agencyFee, "agency-fee", 0, "one-off agency fee")
	cmd.Flags().StringVar(&f.deposit, "deposit", "", "deposit terms, e.g. \"1 month\"")
	cmd.Flags().StringVar(&f.frequency, "frequency", "", "rent adjustment frequency (trimestral|cuatrimestral|semestral|unknown)")
	cmd.Flags().StringVar(&f.index, "index", "", "rent adjustment index (IPC|ICL|unknown)")
}

func newAddCmd() *cobra.Command {
	var flags listingFlags

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add a listing to the current session",
		Long:  "Add a rental listing by its URL with its rent and optional costs.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args[0], flags)
		},
	}

	flags.register(cmd)
	if err := cmd.MarkFlagRequired("rent"); err != nil {
		panic(err)
	}

	return cmd
}

func runAdd(cmd *cobra.Command, url string, flags listingFlags) error {
	in := rental.ListingInput{
		URL:                 url,
		Rent:                flags.rent,
		Deposit:             flags.deposit,
		AdjustmentFrequency: flags.frequency,
		AdjustmentIndex:     flags.index,
	}
	if cmd.Flags().Changed("expenses") {
		in.Expenses = &flags.expenses
	}
	if cmd.Flags().Changed("agency-fee") {
		in.AgencyFee = &flags.agencyFee
	}
	if _, err := in.Validate(); err != nil {
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

	lid, err := c.AddListing(cmd.Context(), sid, in)
	if err != nil {
		return fmt.Errorf("adding listing: %w", err)
	}

	if isJSON() {
		return printJSON(map[string]string{"id": lid})
	}
	fmt.Printf("Listing %s added.\n", lid)
	return nil
}
