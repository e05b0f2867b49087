// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/stacasset/pkg/probe"

	"github.com/spf13/cobra"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Asset maintenance commands",
}

var assetsProbeSizesCmd = &cobra.Command{
	Use:   "probe-sizes",
	Short: "Fill in unknown asset sizes from the storage backend",
	Long: `HEAD the stored object of every asset whose size is unknown (0) and
store the size. Assets whose object is missing get an empty size.
External assets are skipped.`,
	Args: cobra.NoArgs,
	RunE: runAssetsProbeSizes,
}

var assetsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an asset and its stored object",
	Long: `Delete an asset. The delete is refused while the asset has an upload in
progress. The stored object is removed after the catalog change commits.`,
	Args: cobra.NoArgs,
	RunE: runAssetsDelete,
}

var itemsDeleteCmd = &cobra.Command{
	Use:   "delete-item",
	Short: "Delete an item with all its assets",
	Args:  cobra.NoArgs,
	RunE:  runItemsDelete,
}

func init() {
	rootCmd.AddCommand(assetsCmd)
	assetsCmd.AddCommand(assetsProbeSizesCmd, assetsDeleteCmd, itemsDeleteCmd)

	f := assetsProbeSizesCmd.Flags()
	f.Int("concurrency", probe.DefaultConcurrency, "HEAD requests in flight")
	f.Int("rate", 0, "Maximum HEAD requests per second (0 for unlimited)")
	f.Int("batch_size", probe.DefaultBatchSize, "Assets listed per page")

	addAssetFlags(assetsDeleteCmd)

	itemsDeleteCmd.Flags().String("collection", "", "Collection name")
	itemsDeleteCmd.Flags().String("item", "", "Item name")
	itemsDeleteCmd.MarkFlagRequired("collection")
	itemsDeleteCmd.MarkFlagRequired("item")
}

func runAssetsProbeSizes(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	concurrency, _ := f.GetInt("concurrency")
	rateLimit, _ := f.GetInt("rate")
	batchSize, _ := f.GetInt("batch_size")

	a, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := probe.New(probe.Config{
		DB:          a.db,
		Storage:     a.storage,
		Maintainer:  a.maintainer,
		Concurrency: concurrency,
		RateLimit:   rateLimit,
		BatchSize:   batchSize,
	})
	if err != nil {
		return err
	}
	res, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sized %d, missing %d, skipped %d, failed %d\n",
		res.Sized, res.Missing, res.Skipped, res.Failed)
	return nil
}

func runAssetsDelete(cmd *cobra.Command, args []string) error {
	ref := assetRefFromFlags(cmd)

	a, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.assets.DeleteAsset(cmd.Context(), ref); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ref)
	return nil
}

func runItemsDelete(cmd *cobra.Command, args []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	item, _ := cmd.Flags().GetString("item")

	a, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.assets.DeleteItem(cmd.Context(), collection, item); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted item %s/%s\n", collection, item)
	return nil
}
