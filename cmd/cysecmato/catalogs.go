package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/graph"
)

var groupsOf string

var catalogsCmd = &cobra.Command{
	Use:   "catalogs",
	Short: "List ingested catalogs, or the groups of one catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextMapping)
		if err != nil {
			return err
		}
		defer a.close()

		tw := newTable()
		defer tw.Flush()
		if groupsOf != "" {
			groups, err := a.catalogs().Groups(ctx, groupsOf)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "GROUP\tTITLE")
			for _, g := range groups {
				fmt.Fprintf(tw, "%s\t%s\n", g.ID, g.Title)
			}
			return nil
		}

		catalogs, err := a.catalogs().Catalogs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "UUID\tTITLE")
		for _, c := range catalogs {
			fmt.Fprintf(tw, "%s\t%s\n", c.UUID, c.Title)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the graph indexes used by lookups (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextMapping)
		if err != nil {
			return err
		}
		defer a.close()

		if err := graph.EnsureSchema(ctx, a.graph); err != nil {
			return err
		}
		logger.Info("Schema indexes are in place")
		return nil
	},
}

func init() {
	catalogsCmd.Flags().StringVar(&groupsOf, "groups", "", "list the groups of this catalog uuid")
}
