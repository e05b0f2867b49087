// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/types"
	"github.com/LeeDigitalWorks/stacasset/pkg/upload"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Inspect and abort asset upload sessions",
}

var uploadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload sessions",
	Long: `List upload sessions across the catalog, oldest first. By default only
in-progress sessions are shown; use --status to select another state.`,
	Args: cobra.NoArgs,
	RunE: runUploadsList,
}

var uploadsPartsCmd = &cobra.Command{
	Use:   "parts",
	Short: "Show the parts the storage backend holds for a multipart session",
	Args:  cobra.NoArgs,
	RunE:  runUploadsParts,
}

var uploadsAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort an upload session",
	Long: `Abort the in-progress upload of one asset, or a specific session with
--upload_id. The backend multipart upload is aborted best-effort; the
session is marked aborted even if the backend call fails.`,
	Args: cobra.NoArgs,
	RunE: runUploadsAbort,
}

var uploadsAbortStaleCmd = &cobra.Command{
	Use:   "abort-stale",
	Short: "Abort in-progress sessions older than --older_than",
	Args:  cobra.NoArgs,
	RunE:  runUploadsAbortStale,
}

func init() {
	rootCmd.AddCommand(uploadsCmd)
	uploadsCmd.AddCommand(uploadsListCmd, uploadsPartsCmd, uploadsAbortCmd, uploadsAbortStaleCmd)

	f := uploadsListCmd.Flags()
	f.String("collection", "", "Only list sessions of this collection")
	f.String("status", string(types.UploadStatusInProgress), "Session status (in-progress, completed, aborted, all)")
	f.Duration("older_than", 0, "Only list sessions created at least this long ago")
	f.Int("limit", 100, "Maximum number of sessions to list (0 for no limit)")
	f.Bool("json", false, "Print sessions as JSON")

	for _, c := range []*cobra.Command{uploadsPartsCmd, uploadsAbortCmd} {
		addAssetFlags(c)
		c.Flags().String("upload_id", "", "Upload id (defaults to the in-progress session)")
	}

	uploadsAbortStaleCmd.Flags().Duration("older_than", 24*time.Hour, "Abort sessions created at least this long ago")
	uploadsAbortStaleCmd.Flags().Bool("dry_run", false, "Only list the sessions that would be aborted")
}

// addAssetFlags registers the flags naming one asset.
func addAssetFlags(c *cobra.Command) {
	c.Flags().String("collection", "", "Collection name")
	c.Flags().String("item", "", "Item name (empty for a collection asset)")
	c.Flags().String("asset", "", "Asset name")
	c.MarkFlagRequired("collection")
	c.MarkFlagRequired("asset")
}

func assetRefFromFlags(c *cobra.Command) types.AssetRef {
	collection, _ := c.Flags().GetString("collection")
	item, _ := c.Flags().GetString("item")
	name, _ := c.Flags().GetString("asset")
	return types.AssetRef{Collection: collection, Item: item, Asset: name}
}

func parseStatus(s string) (types.UploadStatus, error) {
	switch st := types.UploadStatus(strings.ToLower(s)); st {
	case types.UploadStatusInProgress, types.UploadStatusCompleted, types.UploadStatusAborted:
		return st, nil
	case "all", "":
		return "", nil
	}
	return "", fmt.Errorf("unknown upload status %q", s)
}

func runUploadsList(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	collection, _ := f.GetString("collection")
	statusFlag, _ := f.GetString("status")
	olderThan, _ := f.GetDuration("older_than")
	limit, _ := f.GetInt("limit")
	asJSON, _ := f.GetBool("json")

	status, err := parseStatus(statusFlag)
	if err != nil {
		return err
	}
	filter := upload.ListFilter{Collection: collection, Status: status, Limit: limit}
	if olderThan > 0 {
		filter.CreatedBefore = time.Now().Add(-olderThan)
	}

	a, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.uploads.ListSessions(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	printSessions(cmd.OutOrStdout(), sessions)
	return nil
}

func printSessions(out io.Writer, sessions []*upload.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tUPLOAD ID\tSTATUS\tMODE\tPARTS\tSIZE\tBUCKET\tSTARTED")
	fmt.Fprintln(w, "-----\t---------\t------\t----\t-----\t----\t------\t-------")
	for _, s := range sessions {
		size := "-"
		if s.FileSize > 0 {
			size = humanize.IBytes(uint64(s.FileSize))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Asset,
			s.UploadID,
			s.Status,
			s.Mode,
			s.NumberParts,
			size,
			s.Bucket,
			humanize.Time(time.Unix(0, s.CreatedAt)),
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d session(s)\n", len(sessions))
}

func runUploadsParts(cmd *cobra.Command, args []string) error {
	ref := assetRefFromFlags(cmd)
	uploadID, _ := cmd.Flags().GetString("upload_id")

	a, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if uploadID == "" {
		sessions, err := a.uploads.ListUploads(cmd.Context(), ref, types.UploadStatusInProgress)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return upload.UploadNotInProgressError("")
		}
		uploadID = sessions[0].UploadID
	}

	parts, err := a.uploads.ListParts(cmd.Context(), ref, uploadID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PART\tETAG\tSIZE")
	fmt.Fprintln(w, "----\t----\t----")
	var total int64
	for _, p := range parts {
		total += p.Size
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.PartNumber, p.ETag, humanize.IBytes(uint64(p.Size)))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d part(s), %s uploaded\n", len(parts), humanize.IBytes(uint64(total)))
	return nil
}

func runUploadsAbort(cmd *cobra.Command, args []string) error {
	ref := assetRefFromFlags(cmd)
	uploadID, _ := cmd.Flags().GetString("upload_id")

	a, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.uploads.AbortUpload(cmd.Context(), ref, uploadID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "upload %s of %s is %s\n", u.UploadID, ref, u.Status)
	return nil
}

func runUploadsAbortStale(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older_than")
	dryRun, _ := cmd.Flags().GetBool("dry_run")
	if olderThan <= 0 {
		return errors.New("--older_than must be positive")
	}

	a, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if dryRun {
		sessions, err := a.uploads.ListInProgress(cmd.Context(), upload.ListFilter{CreatedBefore: time.Now().Add(-olderThan)})
		if err != nil {
			return err
		}
		printSessions(out, sessions)
		return nil
	}

	report, err := a.uploads.AbortStale(cmd.Context(), olderThan)
	if report != nil {
		fmt.Fprintf(out, "aborted %d session(s) older than %s\n", len(report.Aborted), olderThan)
		for _, s := range report.Failed {
			fmt.Fprintf(out, "failed to abort %s (upload %s)\n", s.Asset, s.UploadID)
		}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("some stale uploads could not be aborted")
		return err
	}
	return nil
}
