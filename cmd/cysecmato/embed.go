package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/catalog"
	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/embedding"
	"github.com/cysecmato/cysecmato/internal/progress"
)

var (
	embedCatalog      string
	embedGroup        string
	embedWithoutGroup bool
	embedOnlyEmbedded bool
	embedShowAll      bool
	embedModel        string
	embedJSON         bool
	embedPart         string
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Inspect and generate description embeddings",
}

var embedStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which description parts carry an embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextMapping)
		if err != nil {
			return err
		}
		defer a.close()

		parts, err := a.catalogs().DescriptionParts(ctx, statusQuery())
		if err != nil {
			return err
		}
		if embedJSON {
			return printJSON(os.Stdout, parts)
		}

		tw := newTable()
		fmt.Fprintln(tw, "CONTROL\tTITLE\tEMBEDDED\tMODEL")
		for _, p := range parts {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.ControlID, truncate(p.Title, 50), p.HasEmbedding, p.EmbeddingMethod)
		}
		tw.Flush()

		summary := catalog.Summarize(parts)
		fmt.Printf("\n%d of %d parts embedded\n", summary.Embedded, summary.Total)
		if summary.Mixed() {
			models := make([]string, 0, len(summary.Methods))
			for m := range summary.Methods {
				models = append(models, m)
			}
			sort.Strings(models)
			logger.Warnf("Vectors from several models are mixed in scope: %v; scores across models are not comparable", models)
		}
		return nil
	},
}

var embedGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Embed every description part in scope that has no vector yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextEmbed)
		if err != nil {
			return err
		}
		defer a.close()

		q := statusQuery()
		q.OnlyWithEmbedding = false
		parts, err := a.catalogs().DescriptionParts(ctx, q)
		if err != nil {
			return err
		}

		model := embedModel
		if model == "" {
			model = a.cfg.Embedding.Model
		}
		pipeline, manager := a.embeddingPipeline()
		var report embedding.Report
		events, err := withProgress(func(sink progress.Sink) error {
			if err := manager.Initialize(ctx, model, sink); err != nil {
				return err
			}
			report, err = pipeline.CreateEmbeddings(ctx, catalog.Descriptors(parts), sink)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("Computed %d, persisted %d, skipped %d (already embedded), invalid %d, failed %d, chunked %d of %d parts\n",
			report.Computed, report.Persisted, report.Skipped, report.Invalid, report.Failed, report.Chunked, report.Total)
		for _, f := range report.Failures {
			logger.Warn(f.String())
		}
		if w := events.Count(progress.LevelWarn); w > 0 {
			logger.Infof("%d warnings during the run", w)
		}
		return nil
	},
}

var embedVectorCmd = &cobra.Command{
	Use:   "vector",
	Short: "Show the stored vector of one description part",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextMapping)
		if err != nil {
			return err
		}
		defer a.close()

		vec, model, err := embedding.NewPartStore(a.graph).Vector(ctx, embedPart)
		if err != nil {
			return err
		}
		if embedJSON {
			return printJSON(os.Stdout, map[string]any{"part_id": embedPart, "model": model, "vector": vec})
		}
		if len(vec) == 0 {
			fmt.Printf("Part %s has no embedding\n", embedPart)
			return nil
		}
		preview := vec
		if len(preview) > 8 {
			preview = preview[:8]
		}
		fmt.Printf("Model:     %s\nDimension: %d\nHead:      %v\n", model, len(vec), preview)
		return nil
	},
}

func statusQuery() catalog.StatusQuery {
	return catalog.StatusQuery{
		CatalogUUID:       embedCatalog,
		GroupID:           embedGroup,
		ShowAll:           embedShowAll,
		OnlyWithoutGroup:  embedWithoutGroup,
		OnlyWithEmbedding: embedOnlyEmbedded,
	}
}

func init() {
	for _, c := range []*cobra.Command{embedStatusCmd, embedGenerateCmd} {
		c.Flags().StringVar(&embedCatalog, "catalog", "", "catalog uuid")
		c.Flags().StringVar(&embedGroup, "group", "", "narrow to a group and its nested controls")
		c.Flags().BoolVar(&embedWithoutGroup, "without-group", false, "only top-level controls no group claims")
		c.Flags().BoolVar(&embedShowAll, "all", false, "ignore group filters")
		_ = c.MarkFlagRequired("catalog")
		c.MarkFlagsMutuallyExclusive("group", "without-group")
	}
	embedStatusCmd.Flags().BoolVar(&embedOnlyEmbedded, "only-embedded", false, "only parts that already carry a vector")
	embedStatusCmd.Flags().BoolVar(&embedJSON, "json", false, "print JSON")
	embedGenerateCmd.Flags().StringVar(&embedModel, "model", "", "embedding model id (default: embedding.model from config)")

	embedVectorCmd.Flags().StringVar(&embedPart, "part", "", "element id of the description part")
	embedVectorCmd.Flags().BoolVar(&embedJSON, "json", false, "print JSON")
	_ = embedVectorCmd.MarkFlagRequired("part")

	embedCmd.AddCommand(embedStatusCmd)
	embedCmd.AddCommand(embedGenerateCmd)
	embedCmd.AddCommand(embedVectorCmd)
}
