package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

var (
	simPart        string
	simCatalog     string
	simGroup       string
	simThreshold   float64
	simStore       bool
	simSource      string
	simTarget      string
	simSourceGroup string
	simTargetGroup string
	simModel       string
	simTop         int
	simLimit       int
	simJSON        bool
)

var similarityCmd = &cobra.Command{
	Use:   "similarity",
	Short: "Score description embeddings across catalogs",
}

var similarityOneCmd = &cobra.Command{
	Use:   "one",
	Short: "Score one description part against a target catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextSimilarity)
		if err != nil {
			return err
		}
		defer a.close()

		threshold := simThreshold
		if !cmd.Flags().Changed("threshold") {
			threshold = a.cfg.Similarity.DisplayThreshold
		}
		engine := a.similarityEngine()
		results, err := engine.OneToMany(ctx, similarity.OneToManyRequest{
			SourcePartID:  simPart,
			TargetCatalog: simCatalog,
			TargetGroup:   simGroup,
			Threshold:     threshold,
		})
		if err != nil {
			return err
		}

		if simJSON {
			if err := printJSON(os.Stdout, results); err != nil {
				return err
			}
		} else {
			tw := newTable()
			fmt.Fprintln(tw, "TARGET\tTITLE\tSCORE\tCATEGORY")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\n", r.TargetID, truncate(r.TargetTitle, 50), r.Score, r.Category)
			}
			tw.Flush()
		}

		if !simStore || len(results) == 0 {
			return nil
		}
		locked, err := engine.Lock(ctx, simPart)
		if err != nil {
			return err
		}
		written, err := engine.Store(ctx, results, locked.ModelName)
		if err != nil {
			return err
		}
		logger.Infof("Stored %d similarity relationships from %s", written, locked.ControlID)
		return nil
	},
}

var similarityManyCmd = &cobra.Command{
	Use:   "many",
	Short: "Compute and store similarity between every part of two catalogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextSimilarity)
		if err != nil {
			return err
		}
		defer a.close()

		threshold := simThreshold
		if !cmd.Flags().Changed("threshold") {
			threshold = a.cfg.Similarity.BulkThreshold
		}
		model := simModel
		if model == "" {
			model = a.cfg.Embedding.Model
		}
		top := simTop
		if !cmd.Flags().Changed("top") {
			top = a.cfg.Similarity.TopN
		}

		res, err := a.similarityEngine().ManyToMany(ctx, similarity.ManyToManyRequest{
			SourceCatalog: simSource,
			SourceGroup:   simSourceGroup,
			TargetCatalog: simTarget,
			TargetGroup:   simTargetGroup,
			ModelName:     model,
			Threshold:     threshold,
			TopN:          top,
		})
		if err != nil {
			return err
		}
		logger.Infof("Wrote %d similarity relationships", res.RelationshipsWritten)
		if simJSON {
			return printJSON(os.Stdout, res)
		}
		printStored(res.Top)
		return nil
	},
}

var similarityTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the strongest stored similarities between two catalogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextSimilarity)
		if err != nil {
			return err
		}
		defer a.close()

		top, err := a.similarityEngine().Top(ctx, similarity.TopRequest{
			SourceCatalog: simSource,
			TargetCatalog: simTarget,
			Limit:         simLimit,
		})
		if err != nil {
			return err
		}
		if simJSON {
			return printJSON(os.Stdout, top)
		}
		printStored(top)
		return nil
	},
}

func printStored(rows []similarity.StoredSimilarity) {
	tw := newTable()
	defer tw.Flush()
	fmt.Fprintln(tw, "SOURCE\tTARGET\tSCORE\tCATEGORY\tMODEL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\t%s\n", r.SourceID, r.TargetID, r.Score, r.Category, r.ModelName)
	}
}

func init() {
	similarityOneCmd.Flags().StringVar(&simPart, "part", "", "element id of the source description part")
	similarityOneCmd.Flags().StringVar(&simCatalog, "catalog", "", "target catalog uuid")
	similarityOneCmd.Flags().StringVar(&simGroup, "group", "", "narrow targets to a group and its nested controls")
	similarityOneCmd.Flags().Float64Var(&simThreshold, "threshold", 0.5, "minimum score (default: similarity.display_threshold)")
	similarityOneCmd.Flags().BoolVar(&simStore, "store", false, "persist the results as similarity relationships")
	_ = similarityOneCmd.MarkFlagRequired("part")
	_ = similarityOneCmd.MarkFlagRequired("catalog")

	similarityManyCmd.Flags().StringVar(&simSource, "source", "", "source catalog uuid")
	similarityManyCmd.Flags().StringVar(&simTarget, "target", "", "target catalog uuid")
	similarityManyCmd.Flags().StringVar(&simSourceGroup, "source-group", "", "source group id")
	similarityManyCmd.Flags().StringVar(&simTargetGroup, "target-group", "", "target group id")
	similarityManyCmd.Flags().StringVar(&simModel, "model", "", "embedding model recorded on the relationships (default: embedding.model)")
	similarityManyCmd.Flags().Float64Var(&simThreshold, "threshold", 0.3, "minimum score written (default: similarity.bulk_threshold)")
	similarityManyCmd.Flags().IntVar(&simTop, "top", 25, "show the strongest N after writing, 0 to skip")
	_ = similarityManyCmd.MarkFlagRequired("source")
	_ = similarityManyCmd.MarkFlagRequired("target")

	similarityTopCmd.Flags().StringVar(&simSource, "source", "", "source catalog uuid")
	similarityTopCmd.Flags().StringVar(&simTarget, "target", "", "target catalog uuid")
	similarityTopCmd.Flags().IntVar(&simLimit, "limit", 25, "number of relationships")
	_ = similarityTopCmd.MarkFlagRequired("source")
	_ = similarityTopCmd.MarkFlagRequired("target")

	for _, c := range []*cobra.Command{similarityOneCmd, similarityManyCmd, similarityTopCmd} {
		c.Flags().BoolVar(&simJSON, "json", false, "print JSON")
		similarityCmd.AddCommand(c)
	}
}
