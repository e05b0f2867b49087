// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/LeeDigitalWorks/stacasset/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var aggregatesCmd = &cobra.Command{
	Use:   "aggregates",
	Short: "Inspect and rebuild derived collection aggregates",
}

var aggregatesRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute value counts and rollups from the asset rows",
	Long: `Recompute the per-collection value counts, item rollups and collection
rollups from the live asset rows and rewrite the rows that drifted. Each
collection is rebuilt in its own transaction.`,
	Args: cobra.NoArgs,
	RunE: runAggregatesRebuild,
}

var aggregatesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the aggregates of a collection",
	Args:  cobra.NoArgs,
	RunE:  runAggregatesShow,
}

func init() {
	rootCmd.AddCommand(aggregatesCmd)
	aggregatesCmd.AddCommand(aggregatesRebuildCmd, aggregatesShowCmd)

	aggregatesRebuildCmd.Flags().StringSlice("collection", nil, "Collections to rebuild (default all)")
	aggregatesShowCmd.Flags().String("collection", "", "Collection name")
	aggregatesShowCmd.MarkFlagRequired("collection")
}

func runAggregatesRebuild(cmd *cobra.Command, args []string) error {
	names, _ := cmd.Flags().GetStringSlice("collection")

	a, err := bootstrap(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.maintainer.Rebuild(cmd.Context(), a.db, names...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tCOUNTERS FIXED\tITEMS FIXED\tROLLUP FIXED")
	fmt.Fprintln(w, "----------\t--------------\t-----------\t------------")
	for _, c := range report.Collections {
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\n", c.Collection, c.CountersFixed, c.ItemsFixed, c.CollectionFixed)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d collection(s) rebuilt, %d had drifted\n", len(report.Collections), len(report.Drifted()))
	return nil
}

func runAggregatesShow(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("collection")

	a, err := bootstrap(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	c, err := a.db.GetCollectionByName(ctx, name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Collection %s\n", c.Name)
	fmt.Fprintf(out, "  total data size: %s\n", humanize.IBytes(uint64(c.TotalDataSize)))
	fmt.Fprintf(out, "  update interval: %s\n", formatInterval(c.UpdateInterval))

	items, err := a.db.ListItems(ctx, c.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  items:           %d\n\n", len(items))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DIMENSION\tVALUE\tASSETS")
	fmt.Fprintln(w, "---------\t-----\t------")
	for _, dim := range types.Dimensions {
		rows, err := a.db.ListValueCounts(ctx, c.ID, dim)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\n", dim, r.Value, r.Count)
		}
	}
	return w.Flush()
}

func formatInterval(seconds int64) string {
	if seconds == types.IntervalUnknown {
		return "unknown"
	}
	return fmt.Sprintf("%ds", seconds)
}
