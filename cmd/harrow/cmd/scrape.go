package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [name] [locality]",
	Short: "Harvest the reviews of one business and export the keyword matches.",
	Long: `Resolve the business page, walk its review pages, keep the reviews mentioning
any keyword and write them to <name>_reviews.csv. Name and locality can be
given as arguments or with --name and --locality.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if len(args) > 0 {
			overrides["name"] = args[0]
		}
		if len(args) > 1 {
			overrides["locality"] = args[1]
		}

		r, err := newRunner(cmd, overrides)
		if err != nil {
			return err
		}
		defer r.Close()

		start := time.Now()
		out, err := r.pipeline.Run(cmd.Context(), r.cfg.Query())
		if rerr := writeReport(cmd.OutOrStdout(), r.cfg.Report, out.Summary); rerr != nil {
			r.logger.Warn("report failed", "err", rerr)
		}
		if err != nil {
			return err
		}
		r.logger.Info("done", "elapsed", elapsed(start), "matched", len(out.Matched), "output", out.MatchedPath)
		return nil
	},
}
