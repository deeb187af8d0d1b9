package graph

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cysecmato/cysecmato/internal/errors"
)

// ClassifyError maps driver failures onto the error taxonomy:
// connectivity and timeouts become Unavailable, an unknown function or
// procedure becomes CapabilityMissing, anything else is a Database error.
// Errors that are already typed pass through unchanged.
func ClassifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}

	if IsMissingFunction(err) {
		return errors.CapabilityMissingError(err, "graph store lacks a required function").
			WithContext("operation", operation)
	}

	var limit *neo4j.TransactionExecutionLimit
	if neo4j.IsConnectivityError(err) ||
		stderrors.As(err, &limit) ||
		stderrors.Is(err, context.DeadlineExceeded) {
		return errors.UnavailableErrorf(err, "neo4j unavailable during %s", operation).
			WithContext("operation", operation)
	}

	var neoErr *neo4j.Neo4jError
	if stderrors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security.") {
		return errors.UnavailableErrorf(err, "neo4j rejected credentials during %s", operation).
			WithContext("operation", operation)
	}

	return errors.DatabaseErrorf(err, "neo4j %s failed", operation).
		WithContext("operation", operation)
}

// IsMissingFunction reports whether err is the store complaining about an
// unknown Cypher function or procedure (e.g. GDS not installed).
func IsMissingFunction(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unknown function") {
		return true
	}

	var neoErr *neo4j.Neo4jError
	if stderrors.As(err, &neoErr) {
		return neoErr.Code == "Neo.ClientError.Procedure.ProcedureNotFound"
	}
	return false
}
