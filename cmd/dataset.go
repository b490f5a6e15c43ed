package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/superboost/allerscan-cli/internal/dataset"
	"github.com/superboost/allerscan-cli/internal/store"
	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Browse and manage the prediction dataset",
	Long:  "Commands for listing, searching, deleting, exporting and snapshotting historical prediction records.",
}

// -- dataset list --

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List one page of prediction records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		search, _ := cmd.Flags().GetString("search")
		asJSON, _ := cmd.Flags().GetBool("json")
		if pageSize == 0 {
			pageSize = cfg.Dataset.PageSize
		}

		res, err := newClient().FetchPage(ctx, page, pageSize, false)
		if err != nil {
			return eris.Wrap(err, "dataset list")
		}

		// search narrows the fetched page only; it is not a server-side filter
		rows := dataset.FilterRecords(res.Records, search)

		if asJSON {
			return printJSON(os.Stdout, map[string]any{
				"predictions": rows,
				"pagination":  res.Pagination,
			})
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}
		formatRecords(os.Stdout, rows, res.Pagination)
		return nil
	},
}

// -- dataset delete --

var datasetDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a prediction record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid record id %q", args[0])
		}

		if err := newClient().DeleteRecord(cmd.Context(), id); err != nil {
			if allerscan.IsNotFound(err) {
				return eris.Errorf("record %d not found", id)
			}
			return eris.Wrap(err, "dataset delete")
		}

		fmt.Printf("Deleted record %d.\n", id)
		return nil
	},
}

// -- dataset export --

var datasetExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the dataset to an Excel workbook",
	Long:  "Downloads the backend-generated workbook, or with --local builds one from fetched records without waiting on server-side generation.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		dir, _ := cmd.Flags().GetString("out")
		local, _ := cmd.Flags().GetBool("local")
		if limit == 0 {
			limit = cfg.Export.Limit
		}
		if dir == "" {
			dir = cfg.Export.Dir
		}
		if limit > dataset.MaxExportRecords {
			zap.L().Warn("export limit clamped",
				zap.Int("requested", limit),
				zap.Int("max", dataset.MaxExportRecords),
			)
			limit = dataset.MaxExportRecords
		}

		client := newClient()

		if local {
			records, err := client.FetchAll(ctx, limit)
			if err != nil {
				return eris.Wrap(err, "dataset export")
			}
			stats := dataset.Aggregate(records, time.Now())
			path := filepath.Join(dir, dataset.ExportFilename(time.Now()))
			if err := dataset.WriteWorkbook(records, stats, path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d records, built locally).\n", path, len(records))
			return nil
		}

		view := dataset.NewView(client, dataset.ViewOptions{MaxStatsRecords: cfg.Dataset.MaxStatsRecords})
		path, err := view.Export(ctx, limit, dir)
		if err != nil {
			switch allerscan.KindOf(err) {
			case allerscan.KindTimeout:
				return eris.Wrap(err, "export timed out; reduce the record count with --limit, or use --local")
			case allerscan.KindNetwork:
				return eris.Wrap(err, "backend unreachable; check connectivity and api.base_url")
			default:
				return eris.Wrap(err, "dataset export")
			}
		}

		fmt.Printf("Wrote %s.\n", path)
		return nil
	},
}

// -- dataset snapshot / snapshots --

var datasetSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Store a local snapshot of the prediction collection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		maxRecords, _ := cmd.Flags().GetInt("max-records")
		if maxRecords == 0 {
			maxRecords = cfg.Dataset.MaxStatsRecords
		}

		records, err := newClient().FetchAll(ctx, maxRecords)
		if err != nil {
			return eris.Wrap(err, "dataset snapshot")
		}

		st, err := openSnapshotStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.Save(ctx, cfg.API.BaseURL, records)
		if err != nil {
			return err
		}

		fmt.Printf("Snapshot %s stored (%d records).\n", snap.ID, snap.RecordCount)
		return nil
	},
}

var datasetSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openSnapshotStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snaps, err := st.List(ctx)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots stored.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTAKEN\tRECORDS\tSOURCE")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				s.ID, s.TakenAt.Format(time.RFC3339), s.RecordCount, s.Source)
		}
		return w.Flush()
	},
}

func openSnapshotStore(ctx context.Context) (*store.SnapshotStore, error) {
	st, err := store.NewSnapshotStore(cfg.Snapshot.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func formatRecords(out io.Writer, records []allerscan.PredictionRecord, page allerscan.PageResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NO\tID\tPRODUCT\tALLERGENS\tCONFIDENCE\tRISK\tDATE")
	base := (page.CurrentPage - 1) * page.ItemsPerPage
	for i, r := range records {
		date := ""
		if created := r.Created(); !created.IsZero() {
			date = created.Format("2006-01-02")
		}
		risk := r.RiskLevel
		if risk == "" {
			risk = "none"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%.1f%%\t%s\t%s\n",
			base+i+1, r.ID, r.Name(), r.DetectedAllergens.Display(),
			r.ConfidenceScore.Percent(), risk, date)
	}
	w.Flush()
	fmt.Fprintf(out, "\nPage %d of %d (%d records total)\n",
		page.CurrentPage, page.TotalPages, page.TotalItems)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func init() {
	datasetListCmd.Flags().Int("page", 1, "page number")
	datasetListCmd.Flags().Int("page-size", 0, "records per page (default from config)")
	datasetListCmd.Flags().String("search", "", "filter the fetched page by product, ingredient or allergen")
	datasetListCmd.Flags().Bool("json", false, "emit JSON instead of a table")

	datasetExportCmd.Flags().Int("limit", 0, "maximum records to export (default from config)")
	datasetExportCmd.Flags().String("out", "", "output directory (default from config)")
	datasetExportCmd.Flags().Bool("local", false, "build the workbook locally instead of downloading it")

	datasetSnapshotCmd.Flags().Int("max-records", 0, "maximum records to snapshot (default from config)")

	datasetCmd.AddCommand(datasetListCmd, datasetDeleteCmd, datasetExportCmd, datasetSnapshotCmd, datasetSnapshotsCmd)
	rootCmd.AddCommand(datasetCmd)
}
