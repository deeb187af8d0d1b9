package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/mapping"
)

var (
	mapSource        string
	mapTarget        string
	mapSourceCatalog string
	mapTargetCatalog string
	mapStatuses      []string
	mapLimit         int
	mapType          string
	mapExplanation   string
	mapAnnotation    string
	mapYes           bool
	mapFormat        string
	mapOutput        string
	mapJSON          bool
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Review control mappings",
	Long: `Review mappings between controls of different catalogs.

Lifecycle: an LLM proposal starts as pending_validation; a reviewer validates
it (human_validated), corrects it (confirmed) or rejects it (rejected).`,
}

// withMappings connects and hands a manager to fn
func withMappings(cmd *cobra.Command, fn func(m *mapping.Manager) error) error {
	ctx := cmd.Context()
	a, err := connect(ctx, config.ValidationContextMapping)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a.mappingManager(ctx))
}

func listFilter() (mapping.ListFilter, error) {
	f := mapping.ListFilter{SourceCatalog: mapSourceCatalog, TargetCatalog: mapTargetCatalog, Limit: mapLimit}
	for _, s := range mapStatuses {
		st, err := mapping.ParseStatus(s)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mappings, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := listFilter()
		if err != nil {
			return err
		}
		return withMappings(cmd, func(m *mapping.Manager) error {
			mappings, err := m.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if mapJSON {
				return printJSON(os.Stdout, mappings)
			}
			tw := newTable()
			defer tw.Flush()
			fmt.Fprintln(tw, "SOURCE\tTARGET\tTYPE\tSTATUS\tMETHOD\tSIMILARITY\tUPDATED")
			for _, mp := range mappings {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					mp.SourceID, mp.TargetID, mp.Type, mp.Status, mp.Method, score(mp.Similarity), stamp(mp.UpdatedAt))
			}
			return nil
		})
	},
}

var mappingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one mapping with both descriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMappings(cmd, func(m *mapping.Manager) error {
			mp, err := m.Get(cmd.Context(), mapSource, mapTarget)
			if err != nil {
				return err
			}
			if mapJSON {
				return printJSON(os.Stdout, mp)
			}
			printMapping(os.Stdout, mp)
			return nil
		})
	},
}

var mappingValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Accept a proposed mapping as is",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMappings(cmd, func(m *mapping.Manager) error {
			if err := m.Validate(cmd.Context(), mapSource, mapTarget); err != nil {
				return err
			}
			logger.Infof("Mapping %s -> %s validated", mapSource, mapTarget)
			return nil
		})
	},
}

var mappingEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Correct type and explanation and confirm the mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		if mapType == "" && mapExplanation == "" {
			return errors.ValidationError("nothing to edit: give --type and/or --explanation")
		}
		return withMappings(cmd, func(m *mapping.Manager) error {
			edit := mapping.Edit{Type: mapType, Explanation: mapExplanation}
			if !cmd.Flags().Changed("explanation") {
				current, err := m.Get(cmd.Context(), mapSource, mapTarget)
				if err != nil {
					return err
				}
				if current.Explanation != nil {
					edit.Explanation = *current.Explanation
				}
			}
			if err := m.EditAndConfirm(cmd.Context(), mapSource, mapTarget, edit); err != nil {
				return err
			}
			logger.Infof("Mapping %s -> %s confirmed", mapSource, mapTarget)
			return nil
		})
	},
}

var mappingRejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMappings(cmd, func(m *mapping.Manager) error {
			if err := m.Reject(cmd.Context(), mapSource, mapTarget, mapAnnotation); err != nil {
				return err
			}
			logger.Infof("Mapping %s -> %s rejected", mapSource, mapTarget)
			return nil
		})
	},
}

var mappingDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a mapping edge permanently",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !mapYes {
			ok, err := confirmTwice(fmt.Sprintf("Delete mapping %s -> %s?", mapSource, mapTarget))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted")
				return nil
			}
		}
		return withMappings(cmd, func(m *mapping.Manager) error {
			deleted, err := m.Delete(cmd.Context(), mapSource, mapTarget)
			if err != nil {
				return err
			}
			if !deleted {
				logger.Warnf("No mapping %s -> %s to delete", mapSource, mapTarget)
				return nil
			}
			logger.Infof("Mapping %s -> %s deleted", mapSource, mapTarget)
			return nil
		})
	},
}

// confirmTwice asks for the same decision twice; non-interactive runs must pass --yes
func confirmTwice(question string) (bool, error) {
	p := config.NewPrompter()
	if !p.Interactive() {
		return false, errors.ValidationError("refusing to delete without a terminal; pass --yes")
	}
	ok, err := p.Confirm(question)
	if err != nil || !ok {
		return false, err
	}
	return p.Confirm("This cannot be undone. Really delete?")
}

var mappingHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recorded transitions of a source control's mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMappings(cmd, func(m *mapping.Manager) error {
			entries, err := m.History(cmd.Context(), mapSource, mapTarget, mapLimit)
			if err != nil {
				return err
			}
			if mapJSON {
				return printJSON(os.Stdout, entries)
			}
			tw := newTable()
			defer tw.Flush()
			fmt.Fprintln(tw, "AT\tSOURCE\tTARGET\tTRANSITION\tSTATUS\tTYPE\tANNOTATION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					stamp(e.At), e.SourceID, e.TargetID, e.Transition, e.Status, e.Type, truncate(e.Annotation, 40))
			}
			return nil
		})
	},
}

var mappingExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export mappings as YAML or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := mapping.ParseExportFormat(mapFormat)
		if err != nil {
			return err
		}
		filter, err := listFilter()
		if err != nil {
			return err
		}
		return withMappings(cmd, func(m *mapping.Manager) error {
			mappings, err := m.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			var w io.Writer = os.Stdout
			if mapOutput != "" {
				f, err := os.Create(mapOutput)
				if err != nil {
					return errors.ConfigErrorf("create export file: %v", err)
				}
				defer f.Close()
				w = f
			}
			if err := mapping.Export(w, format, mappings, time.Now()); err != nil {
				return err
			}
			if mapOutput != "" {
				logger.Infof("Exported %d mappings to %s", len(mappings), mapOutput)
			}
			return nil
		})
	},
}

func printMapping(w io.Writer, m mapping.Mapping) {
	fmt.Fprintf(w, "%s -> %s\n", m.SourceID, m.TargetID)
	fmt.Fprintf(w, "Type:        %s\n", m.Type)
	fmt.Fprintf(w, "Status:      %s (%s)\n", m.Status, m.Method)
	fmt.Fprintf(w, "Similarity:  %s\n", score(m.Similarity))
	if m.Explanation != nil {
		fmt.Fprintf(w, "Explanation: %s\n", *m.Explanation)
	}
	if m.ExplanationOld != nil {
		fmt.Fprintf(w, "Previous:    %s\n", *m.ExplanationOld)
	}
	if m.Annotation != "" {
		fmt.Fprintf(w, "Annotation:  %s\n", m.Annotation)
	}
	fmt.Fprintf(w, "Updated:     %s\n\n", stamp(m.UpdatedAt))
	fmt.Fprintf(w, "Source (%s):\n%s\n\n", m.SourceTitle, m.SourceProse)
	fmt.Fprintf(w, "Target (%s):\n%s\n", m.TargetTitle, m.TargetProse)
}

func score(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *s)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func init() {
	pairCmds := []*cobra.Command{mappingShowCmd, mappingValidateCmd, mappingEditCmd, mappingRejectCmd, mappingDeleteCmd}
	for _, c := range pairCmds {
		c.Flags().StringVar(&mapSource, "source", "", "source control id")
		c.Flags().StringVar(&mapTarget, "target", "", "target control id")
		_ = c.MarkFlagRequired("source")
		_ = c.MarkFlagRequired("target")
	}
	for _, c := range []*cobra.Command{mappingListCmd, mappingExportCmd} {
		c.Flags().StringVar(&mapSourceCatalog, "source-catalog", "", "source catalog uuid")
		c.Flags().StringVar(&mapTargetCatalog, "target-catalog", "", "target catalog uuid")
		c.Flags().StringSliceVar(&mapStatuses, "status", nil, "statuses to include (repeatable)")
		c.Flags().IntVar(&mapLimit, "limit", mapping.DefaultListLimit, "maximum number of mappings")
	}

	mappingEditCmd.Flags().StringVar(&mapType, "type", "", "EQUAL, SUBSET, SUPERSET, RELATED or UNRELATED (default: keep)")
	mappingEditCmd.Flags().StringVar(&mapExplanation, "explanation", "", "corrected explanation (default: keep)")
	mappingRejectCmd.Flags().StringVar(&mapAnnotation, "annotation", "", "reason for the rejection")
	mappingDeleteCmd.Flags().BoolVar(&mapYes, "yes", false, "skip the confirmation prompts")

	mappingHistoryCmd.Flags().StringVar(&mapSource, "source", "", "source control id")
	mappingHistoryCmd.Flags().StringVar(&mapTarget, "target", "", "target control id (default: all targets)")
	mappingHistoryCmd.Flags().IntVar(&mapLimit, "limit", 100, "maximum number of entries")
	_ = mappingHistoryCmd.MarkFlagRequired("source")

	mappingExportCmd.Flags().StringVar(&mapFormat, "format", "yaml", "yaml or json")
	mappingExportCmd.Flags().StringVarP(&mapOutput, "output", "o", "", "write to file instead of stdout")

	for _, c := range []*cobra.Command{mappingListCmd, mappingShowCmd, mappingHistoryCmd} {
		c.Flags().BoolVar(&mapJSON, "json", false, "print JSON")
	}

	mappingCmd.AddCommand(mappingListCmd, mappingShowCmd, mappingValidateCmd, mappingEditCmd,
		mappingRejectCmd, mappingDeleteCmd, mappingHistoryCmd, mappingExportCmd)
}
