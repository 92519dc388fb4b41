package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evcraddock/rent-finder/internal/rental"
)

func newEditCmd() *cobra.Command {
	var (
		flags       listingFlags
		url         string
		clearFields []string
	)

	cmd := &cobra.Command{
		Use:   "edit <listing-id>",
		Short: "Edit a listing",
		Long:  "Change some fields of a listing. Only the flags given are updated; --clear removes optional fields (expenses, agencyFee, deposit).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := listingPatch(cmd, flags, url, clearFields)
			return runEdit(cmd, args[0], patch)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&url, "url", "", "listing URL")
	cmd.Flags().StringSliceVar(&clearFields, "clear", nil, "optional fields to remove (expenses, agencyFee, deposit)")

	return cmd
}

// listingPatch builds a patch from the flags the user set.
func listingPatch(cmd *cobra.Command, flags listingFlags, url string, clearFields []string) rental.ListingPatch {
	patch := rental.ListingPatch{Clear: clearFields}
	changed := cmd.Flags().Changed
	if changed("url") {
		patch.URL = &url
	}
	if changed("rent") {
		patch.Rent = &flags.rent
	}
	if changed("expenses") {
		patch.Expenses = &flags.expenses
	}
	if changed("agency-fee") {
		patch.AgencyFee = &flags.agencyFee
	}
	if changed("deposit") {
		patch.Deposit = &flags.deposit
	}
	if changed("frequency") {
		patch.AdjustmentFrequency = &flags.frequency
	}
	if changed("index") {
		patch.AdjustmentIndex = &flags.index
	}
	return patch
}

func runEdit(cmd *cobra.Command, lid string, patch rental.ListingPatch) error {
	if _, err := patch.Fields(); err != nil {
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

	if err := c.UpdateListing(cmd.Context(), sid, lid, patch); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(map[string]interface{}{"id": lid, "updated": true})
	}
	fmt.Printf("Listing %s updated.\n", lid)
	return nil
}
