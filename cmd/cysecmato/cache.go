package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/cache"
	"github.com/cysecmato/cysecmato/internal/errors"
)

var cachePurgeModel string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or purge the local vector cache",
}

func openCache() (*cache.VectorStore, error) {
	if cfg.Cache.Path == "" {
		return nil, errors.ConfigErrorf("cache.path is not set")
	}
	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, errors.ConfigErrorf("open vector cache: %v", err)
	}
	return store, nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count cached vectors per model",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats()
		if err != nil {
			return err
		}
		models := make([]string, 0, len(stats))
		for m := range stats {
			models = append(models, m)
		}
		sort.Strings(models)

		tw := newTable()
		defer tw.Flush()
		fmt.Fprintln(tw, "MODEL\tVECTORS")
		for _, m := range models {
			fmt.Fprintf(tw, "%s\t%d\n", m, stats[m])
		}
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every cached vector of one model",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PurgeModel(cachePurgeModel)
		if err != nil {
			return err
		}
		logger.Infof("Purged %d cached vectors of %s", n, cachePurgeModel)
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().StringVar(&cachePurgeModel, "model", "", "embedding model id")
	_ = cachePurgeCmd.MarkFlagRequired("model")
	cacheCmd.AddCommand(cacheStatsCmd, cachePurgeCmd)
}
