package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cysecmato/cysecmato/internal/errors"
)

// Runner is the query surface the stores depend on. Client implements it
// against Neo4j; tests substitute a scripted fake.
type Runner interface {
	// Read runs a read query with reader routing
	Read(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error)
	// Write runs a write query inside one managed transaction
	Write(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error)
	// WriteBatches runs query once per slice of rows (bound to $rows), all in
	// one managed transaction: either every batch commits or none does.
	WriteBatches(ctx context.Context, operation, query string, rows []map[string]any, batchSize int) ([]*neo4j.Record, error)
}

// Client wraps the Neo4j driver with error classification and query helpers
type Client struct {
	driver   neo4j.DriverWithContext
	logger   *slog.Logger
	monitor  *timeoutMonitor
	database string
}

// ConnectOptions configures NewClient
type ConnectOptions struct {
	URI      string
	User     string
	Password string
	Database string
}

// NewClient creates a Neo4j client and verifies connectivity (fail fast)
func NewClient(ctx context.Context, opts ConnectOptions) (*Client, error) {
	if opts.URI == "" || opts.User == "" || opts.Password == "" {
		return nil, errors.ConfigErrorf("neo4j credentials missing: uri=%s, user=%s", opts.URI, opts.User)
	}
	if opts.Database == "" {
		opts.Database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI,
		neo4j.BasicAuth(opts.User, opts.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 3600 * time.Second
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, errors.ConfigErrorf("failed to create neo4j driver: %v", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, GetConfigForOperation(OpHealthCheck).Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, errors.UnavailableErrorf(err, "failed to connect to neo4j at %s", opts.URI)
	}

	logger := slog.Default().With("component", "neo4j")
	logger.Info("neo4j client connected",
		"uri", opts.URI,
		"user", opts.User,
		"database", opts.Database,
		"max_pool_size", 50)

	return &Client{
		driver:   driver,
		logger:   logger,
		monitor:  newTimeoutMonitor(logger),
		database: opts.Database,
	}, nil
}

// Close closes the Neo4j driver connection
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.logger.Info("neo4j client closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, GetConfigForOperation(OpHealthCheck).Timeout)
	defer cancel()
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return errors.UnavailableError(err, "neo4j health check failed")
	}
	return nil
}

// Read runs a read query. ExecuteQuery has no per-query tx config, so the
// operation timeout is applied through the context.
func (c *Client) Read(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error) {
	txConfig := GetConfigForOperation(operation)
	if txConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txConfig.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := neo4j.ExecuteQuery(ctx, c.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		c.monitor.observe(operation, 0, time.Since(start), err)
		return nil, ClassifyError(err, operation)
	}

	c.monitor.observe(operation, len(result.Records), time.Since(start), nil)
	return result.Records, nil
}

// Write runs a write query in a managed transaction with the operation's config
func (c *Client) Write(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error) {
	return c.inWriteTx(ctx, operation, func(ctx context.Context, tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		return run(ctx, tx, query, params)
	})
}

// WriteBatches splits rows into batches bound to $rows and runs them all in
// one managed transaction. The driver retries the whole function on
// transient failures, so no partial batch is ever committed.
func (c *Client) WriteBatches(ctx context.Context, operation, query string, rows []map[string]any, batchSize int) ([]*neo4j.Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchConfig().EmbeddingWriteBatchSize
	}

	return c.inWriteTx(ctx, operation, func(ctx context.Context, tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		var all []*neo4j.Record
		for i := 0; i < len(rows); i += batchSize {
			end := i + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			records, err := run(ctx, tx, query, map[string]any{"rows": rows[i:end]})
			if err != nil {
				return nil, fmt.Errorf("batch %s failed (rows %d-%d): %w", operation, i, end, err)
			}
			all = append(all, records...)
		}
		return all, nil
	})
}

func (c *Client) inWriteTx(ctx context.Context, operation string, work func(context.Context, neo4j.ManagedTransaction) ([]*neo4j.Record, error)) ([]*neo4j.Record, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	start := time.Now()
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(ctx, tx)
	}, GetConfigForOperation(operation).AsNeo4jConfig()...)
	if err != nil {
		c.monitor.observe(operation, 0, time.Since(start), err)
		return nil, ClassifyError(err, operation)
	}

	records, _ := out.([]*neo4j.Record)
	c.monitor.observe(operation, len(records), time.Since(start), nil)
	return records, nil
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}
