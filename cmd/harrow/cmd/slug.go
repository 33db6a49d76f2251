package cmd

import (
	"fmt"

	"github.com/FranksOps/harrow/internal/resolver"
	"github.com/spf13/cobra"
)

var slugCmd = &cobra.Command{
	Use:   "slug NAME LOCALITY",
	Short: "Print the slug and candidate URLs tried for a business.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug := resolver.GenerateSlug(args[0], args[1])
		if slug == "" {
			return fmt.Errorf("slug: %q in %q yields an empty slug", args[0], args[1])
		}
		fmt.Fprintln(cmd.OutOrStdout(), slug)

		all, _ := cmd.Flags().GetBool("candidates")
		if !all {
			return nil
		}
		base, _ := cmd.Flags().GetString("base-url")
		maxSuffix, _ := cmd.Flags().GetInt("max-suffix")
		res := resolver.New(nil, resolver.Config{BaseURL: base, MaxSuffix: maxSuffix})
		for _, c := range res.Candidates(slug) {
			fmt.Fprintln(cmd.OutOrStdout(), c)
		}
		return nil
	},
}

func init() {
	slugCmd.Flags().Bool("candidates", false, "also print every candidate URL")
}
