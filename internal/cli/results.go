package cli

import (
	"fmt"
	"io"

	"github.com/harun/balatrollm/pkg/collector"
	"github.com/spf13/cobra"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List results recorded in the output directory",
	Long:  `List finished tasks from the results index (runs.db), newest first.`,
	RunE:  runResults,
}

func init() {
	fs := resultsCmd.Flags()
	fs.String("output-dir", "", "directory holding runs.db")
	fs.String("filter-model", "", "only results for this model")
	fs.String("filter-strategy", "", "only results for this strategy")
	fs.String("outcome", "", "only results with this outcome")
	fs.Int("limit", 20, "maximum number of results")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	index, err := collector.OpenIndex(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer index.Close()

	fs := cmd.Flags()
	var filter collector.Filter
	filter.Model, _ = fs.GetString("filter-model")
	filter.Strategy, _ = fs.GetString("filter-strategy")
	filter.Outcome, _ = fs.GetString("outcome")
	filter.Limit, _ = fs.GetInt("limit")

	entries, err := index.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	printEntries(cmd.OutOrStdout(), entries)
	return nil
}

func printEntries(w io.Writer, entries []collector.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	for _, e := range entries {
		outcome := e.Outcome
		if e.Won {
			outcome = "won"
		}
		fmt.Fprintf(w, "%s | %s | %s | %s | %s | %s | %s | ante %d round %d | %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"), e.Deck, e.Stake, e.Seed,
			e.Strategy, e.Model, outcome, e.FinalAnte, e.FinalRound, formatDuration(e.Duration))
	}
}
