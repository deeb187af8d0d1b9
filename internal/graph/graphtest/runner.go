// Package graphtest provides a scripted graph.Runner for store tests.
package graphtest

import (
	"context"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Call records one query issued through the Runner
type Call struct {
	Mode      string // "read", "write", "batches"
	Operation string
	Query     string
	Params    map[string]any
	Rows      []map[string]any
}

// Response is returned for the first call whose query contains Match
type Response struct {
	Match   string
	Records []*neo4j.Record
	Err     error
}

// Runner replays canned responses and records every call
type Runner struct {
	mu        sync.Mutex
	responses []Response
	calls     []Call
}

// New returns a Runner answering with responses in order of matching
func New(responses ...Response) *Runner {
	return &Runner{responses: responses}
}

// On appends a response for queries containing match
func (r *Runner) On(match string, records []*neo4j.Record, err error) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, Response{Match: match, Records: records, Err: err})
	return r
}

func (r *Runner) answer(c Call) ([]*neo4j.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	for _, resp := range r.responses {
		if strings.Contains(c.Query, resp.Match) {
			return resp.Records, resp.Err
		}
	}
	return nil, nil
}

func (r *Runner) Read(_ context.Context, op, query string, params map[string]any) ([]*neo4j.Record, error) {
	return r.answer(Call{Mode: "read", Operation: op, Query: query, Params: params})
}

func (r *Runner) Write(_ context.Context, op, query string, params map[string]any) ([]*neo4j.Record, error) {
	return r.answer(Call{Mode: "write", Operation: op, Query: query, Params: params})
}

func (r *Runner) WriteBatches(_ context.Context, op, query string, rows []map[string]any, _ int) ([]*neo4j.Record, error) {
	return r.answer(Call{Mode: "batches", Operation: op, Query: query, Rows: rows})
}

// Calls returns every recorded call
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Last returns the most recent call
func (r *Runner) Last() Call {
	calls := r.Calls()
	if len(calls) == 0 {
		return Call{}
	}
	return calls[len(calls)-1]
}
