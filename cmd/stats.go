package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/superboost/allerscan-cli/internal/dataset"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated dataset statistics",
	Long:  "Aggregates prediction records into status, allergen, risk, confidence and ingredient breakdowns. Uses the backend statistics endpoint where available and folds the records locally for everything it does not report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		local, _ := cmd.Flags().GetBool("local")
		snapshotID, _ := cmd.Flags().GetString("snapshot")
		asJSON, _ := cmd.Flags().GetBool("json")
		maxRecords, _ := cmd.Flags().GetInt("max-records")
		if maxRecords == 0 {
			maxRecords = cfg.Dataset.MaxStatsRecords
		}

		var (
			stats *dataset.Statistics
			err   error
		)
		switch {
		case cmd.Flags().Changed("snapshot"):
			st, serr := openSnapshotStore(ctx)
			if serr != nil {
				return serr
			}
			defer st.Close() //nolint:errcheck
			records, lerr := st.Load(ctx, snapshotID)
			if lerr != nil {
				return lerr
			}
			stats = dataset.Aggregate(records, time.Now())
		case local:
			records, ferr := newClient().FetchAll(ctx, maxRecords)
			if ferr != nil {
				return eris.Wrap(ferr, "stats")
			}
			stats = dataset.Aggregate(records, time.Now())
		default:
			stats, err = dataset.BuildStatistics(ctx, newClient(), nil, maxRecords)
			if err != nil {
				return eris.Wrap(err, "stats")
			}
		}

		if asJSON {
			return printJSON(os.Stdout, stats)
		}
		formatStatistics(os.Stdout, stats)
		return nil
	},
}

func formatStatistics(out io.Writer, stats *dataset.Statistics) {
	fmt.Fprintf(out, "Total predictions:    %d\n", stats.Total)
	fmt.Fprintf(out, "Average confidence:   %.2f%%\n", stats.AverageConfidence)
	if stats.DetectionRate > 0 {
		fmt.Fprintf(out, "Detection rate:       %.1f%%\n", stats.DetectionRate)
	}
	fmt.Fprintf(out, "Activity last 7 days: %d\n", stats.RecentActivity)
	fmt.Fprintf(out, "Confidence buckets:   low %d / medium %d / high %d\n",
		stats.ConfidenceDistribution.Low,
		stats.ConfidenceDistribution.Medium,
		stats.ConfidenceDistribution.High,
	)

	formatBreakdown(out, "Detection status", stats.StatusBreakdown, stats.Total)
	formatBreakdown(out, "Detected allergens", stats.AllergenBreakdown, stats.Total)
	formatBreakdown(out, "Risk levels", stats.RiskBreakdown, stats.Total)
	formatBreakdown(out, "Main ingredients", stats.BahanUtamaBreakdown, stats.Total)
	formatBreakdown(out, "Sweeteners", stats.PemanisBreakdown, stats.Total)
	formatBreakdown(out, "Fats & oils", stats.LemakMinyakBreakdown, stats.Total)
	formatBreakdown(out, "Flavor enhancers", stats.PenyedapRasaBreakdown, stats.Total)
}

func formatBreakdown(out io.Writer, title string, counts map[string]int, total int) {
	if len(counts) == 0 {
		return
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	fmt.Fprintf(out, "\n%s:\n", title)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		pct := 0.0
		if total > 0 {
			pct = float64(counts[name]) / float64(total) * 100
		}
		fmt.Fprintf(w, "  %s\t%d\t%.1f%%\n", name, counts[name], pct)
	}
	w.Flush()
}

func init() {
	statsCmd.Flags().Bool("local", false, "fold statistics locally, skipping the backend statistics endpoint")
	statsCmd.Flags().String("snapshot", "", "compute from a stored snapshot (empty id means latest)")
	statsCmd.Flags().Bool("json", false, "emit JSON instead of text")
	statsCmd.Flags().Int("max-records", 0, "maximum records to fold (default from config)")
	rootCmd.AddCommand(statsCmd)
}
