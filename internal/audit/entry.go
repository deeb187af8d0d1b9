// Package audit keeps the trail of mapping lifecycle transitions.
package audit

import (
	"context"
	"time"
)

// Entry is one recorded transition of a mapping edge
type Entry struct {
	ID         string    `db:"id" json:"id"`
	SourceID   string    `db:"source_id" json:"source_id"`
	TargetID   string    `db:"target_id" json:"target_id"`
	Transition string    `db:"transition" json:"transition"`
	Status     string    `db:"status" json:"status,omitempty"`
	Method     string    `db:"method" json:"method,omitempty"`
	Type       string    `db:"type" json:"type,omitempty"`
	Annotation string    `db:"annotation" json:"annotation,omitempty"`
	At         time.Time `db:"at" json:"at"`
}

// Store records entries and reads them back per ordered control pair
type Store interface {
	Record(ctx context.Context, e Entry) error
	// History returns the newest entries first; an empty target matches
	// every target of the source
	History(ctx context.Context, sourceID, targetID string, limit int) ([]Entry, error)
	Close() error
}

// DefaultHistoryLimit applies when History is called with limit <= 0
const DefaultHistoryLimit = 100

// Nop discards entries
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) History(context.Context, string, string, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }
