package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/progress"
	"github.com/cysecmato/cysecmato/internal/rag"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

var (
	ragControl     string
	ragSource      string
	ragTarget      string
	ragCategories  []string
	ragLimit       int
	ragConcurrency int
	ragJSON        bool
)

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Classify similar control pairs with an LLM",
}

// ragCategoryFilter uses the flag when given, else rag.categories from config
func ragCategoryFilter(cmd *cobra.Command) ([]similarity.Category, error) {
	names := cfg.RAG.Categories
	if cmd.Flags().Changed("category") {
		names = ragCategories
	}
	out := make([]similarity.Category, 0, len(names))
	for _, n := range names {
		c, ok := similarity.ParseCategory(n)
		if !ok {
			return nil, errors.ValidationErrorf("unknown similarity category %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

func ragLimitFor(cmd *cobra.Command) int {
	if cmd.Flags().Changed("limit") {
		return ragLimit
	}
	return cfg.RAG.Limit
}

var ragCandidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List similar controls worth classifying",
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, err := ragCategoryFilter(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextMapping)
		if err != nil {
			return err
		}
		defer a.close()

		// candidates need no LLM, only the graph
		assembler := rag.NewAssembler(rag.NewNeo4jCandidateStore(a.graph), nil)
		candidates, err := assembler.FetchCandidates(ctx, rag.CandidateQuery{
			SourceID:   ragControl,
			Categories: categories,
			Limit:      ragLimitFor(cmd),
		})
		if err != nil {
			return err
		}
		if ragJSON {
			return printJSON(os.Stdout, candidates)
		}
		tw := newTable()
		defer tw.Flush()
		fmt.Fprintln(tw, "TARGET\tTITLE\tSCORE\tCATEGORY\tMAPPED")
		for _, c := range candidates {
			mapped := "-"
			if c.HasMapping {
				mapped = c.MappingStatus
			}
			fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\t%s\n", c.TargetID, truncate(c.TargetTitle, 50), c.Score, c.Category, mapped)
		}
		return nil
	},
}

var ragClassifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Ask the LLM how two controls relate (nothing is stored)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextRAG)
		if err != nil {
			return err
		}
		defer a.close()

		assembler, err := a.assembler(ctx)
		if err != nil {
			return err
		}
		sourceProse, err := assembler.SourceProse(ctx, ragSource)
		if err != nil {
			return err
		}
		targetProse, err := assembler.SourceProse(ctx, ragTarget)
		if err != nil {
			return err
		}
		p, err := assembler.ClassifyPair(ctx, sourceProse, targetProse)
		if err != nil {
			return err
		}
		if ragJSON {
			return printJSON(os.Stdout, p)
		}
		if !p.Classified() {
			logger.Warn("The reply carried no valid classification")
			fmt.Printf("Classification: -\n")
		} else {
			fmt.Printf("Classification: %s\n", p.Classification)
		}
		fmt.Printf("Explanation: %s\n", p.Explanation)
		return nil
	},
}

var ragProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Classify every unmapped candidate of a control and store valid results as pending mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, err := ragCategoryFilter(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextRAG)
		if err != nil {
			return err
		}
		defer a.close()

		assembler, err := a.assembler(ctx)
		if err != nil {
			return err
		}
		concurrency := cfg.RAG.Concurrency
		if cmd.Flags().Changed("concurrency") {
			concurrency = ragConcurrency
		}
		proposer := rag.NewProposer(assembler, a.mappingManager(ctx), rag.WithConcurrency(concurrency))

		var outcomes []rag.Outcome
		_, err = withProgress(func(sink progress.Sink) error {
			outcomes, err = proposer.ProposeAll(ctx, rag.ProposeRequest{
				SourceID:   ragControl,
				Categories: categories,
				Limit:      ragLimitFor(cmd),
			}, sink)
			return err
		})
		if err != nil {
			return err
		}
		if ragJSON {
			return printJSON(os.Stdout, outcomes)
		}

		counts := map[rag.OutcomeKind]int{}
		tw := newTable()
		fmt.Fprintln(tw, "TARGET\tSCORE\tOUTCOME\tCLASSIFICATION")
		for _, o := range outcomes {
			counts[o.Kind]++
			class := string(o.Classification)
			if class == "" {
				class = "-"
			}
			fmt.Fprintf(tw, "%s\t%.4f\t%s\t%s\n", o.TargetID, o.Score, o.Kind, class)
		}
		tw.Flush()
		fmt.Printf("\n%d proposed, %d already mapped, %d unclassified, %d failed\n",
			counts[rag.OutcomeProposed], counts[rag.OutcomeSkippedMapped], counts[rag.OutcomeUnclassified], counts[rag.OutcomeFailed])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ragCandidatesCmd, ragProposeCmd} {
		c.Flags().StringVar(&ragControl, "control", "", "source control id")
		c.Flags().StringSliceVar(&ragCategories, "category", nil, "similarity categories (default: rag.categories)")
		c.Flags().IntVar(&ragLimit, "limit", rag.DefaultLimit, "maximum number of candidates (default: rag.limit)")
		_ = c.MarkFlagRequired("control")
	}
	ragProposeCmd.Flags().IntVar(&ragConcurrency, "concurrency", rag.DefaultConcurrency, "simultaneous LLM calls (default: rag.concurrency)")

	ragClassifyCmd.Flags().StringVar(&ragSource, "source", "", "source control id")
	ragClassifyCmd.Flags().StringVar(&ragTarget, "target", "", "target control id")
	_ = ragClassifyCmd.MarkFlagRequired("source")
	_ = ragClassifyCmd.MarkFlagRequired("target")

	for _, c := range []*cobra.Command{ragCandidatesCmd, ragClassifyCmd, ragProposeCmd} {
		c.Flags().BoolVar(&ragJSON, "json", false, "print JSON")
		ragCmd.AddCommand(c)
	}
}
