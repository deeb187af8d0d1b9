package graph

import (
	"context"
)

// schemaStatements are idempotent index definitions for the lookups the
// core performs: controls by id and catalog, catalogs by uuid, groups by id.
var schemaStatements = []string{
	"CREATE INDEX control_id IF NOT EXISTS FOR (c:Control) ON (c.id)",
	"CREATE INDEX control_catalog IF NOT EXISTS FOR (c:Control) ON (c.catalog_uuid)",
	"CREATE INDEX catalog_uuid IF NOT EXISTS FOR (c:Catalog) ON (c.uuid)",
	"CREATE INDEX group_id IF NOT EXISTS FOR (g:Group) ON (g.id, g.catalog_uuid)",
	"CREATE INDEX part_name IF NOT EXISTS FOR (p:Part) ON (p.name)",
}

// EnsureSchema creates the indexes if they are missing
func EnsureSchema(ctx context.Context, r Runner) error {
	for _, stmt := range schemaStatements {
		if _, err := r.Write(ctx, OpIndexCreation, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}
