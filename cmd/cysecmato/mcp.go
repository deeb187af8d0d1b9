package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve similarity, RAG and mapping tools over MCP on stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout.

Logs go to stderr. RAG tools are only offered when the LLM provider can be
configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := connect(ctx, config.ValidationContextMapping)
		if err != nil {
			return err
		}
		defer a.close()

		svc := mcp.Services{
			Similarity:       a.similarityEngine(),
			Mappings:         a.mappingManager(ctx),
			DisplayThreshold: a.cfg.Similarity.DisplayThreshold,
		}
		if err := a.cfg.Validate(config.ValidationContextRAG).Err(); err != nil {
			logger.WithError(err).Warn("RAG tools disabled")
		} else if assembler, err := a.assembler(ctx); err != nil {
			logger.WithError(err).Warn("RAG tools disabled")
		} else {
			svc.RAG = assembler
		}

		go a.graph.WatchHealth(ctx, time.Minute, func(healthy bool, err error) {
			if !healthy {
				logger.WithError(err).Warn("Neo4j unreachable; tool calls will fail until it returns")
			}
		})
		return mcp.Serve(ctx, mcp.NewServer(svc, Version))
	},
}
