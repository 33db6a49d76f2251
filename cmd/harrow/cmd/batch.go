package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/FranksOps/harrow/internal/pipeline"
	"github.com/FranksOps/harrow/internal/report"
	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch FILE",
	Short: "Harvest every business listed in FILE (name,locality per line).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd, map[string]any{"batch-file": args[0]})
		if err != nil {
			return err
		}
		defer r.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		queries, err := pipeline.ParseBatch(f)
		f.Close()
		if err != nil {
			return err
		}
		r.logger.Info("batch loaded", "businesses", len(queries), "concurrency", r.cfg.Concurrency)

		start := time.Now()
		outcomes, err := r.pipeline.RunBatch(cmd.Context(), queries)

		summaries := make([]report.Summary, 0, len(outcomes))
		failed := 0
		for _, o := range outcomes {
			if o.Query.Name == "" && o.Query.Locality == "" {
				continue
			}
			if o.Err != nil {
				failed++
			}
			summaries = append(summaries, o.Summary)
		}
		report.WriteTable(cmd.OutOrStdout(), summaries)
		if err != nil {
			return err
		}

		r.logger.Info("batch finished", "elapsed", elapsed(start), "businesses", len(summaries), "failed", failed)
		if failed == len(summaries) && failed > 0 {
			return fmt.Errorf("batch: all %d businesses failed", failed)
		}
		return nil
	},
}
