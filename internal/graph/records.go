package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Record helpers. Neo4j returns integers as int64, floats as float64 and
// lists as []any; missing keys and nulls decode to the zero value.

// NewRecord builds a record from parallel keys and values
func NewRecord(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

// String returns the string at key, "" when absent or null
func String(rec *neo4j.Record, key string) string {
	s, _ := OptionalString(rec, key)
	return s
}

// OptionalString returns the string at key and whether it was non-null
func OptionalString(rec *neo4j.Record, key string) (string, bool) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the number at key as float64
func Float(rec *neo4j.Record, key string) float64 {
	f, _ := OptionalFloat(rec, key)
	return f
}

// OptionalFloat returns the number at key and whether it was non-null
func OptionalFloat(rec *neo4j.Record, key string) (float64, bool) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Int returns the integer at key
func Int(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// Bool returns the boolean at key
func Bool(rec *neo4j.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Vector returns the numeric list at key as []float32, nil when absent
func Vector(rec *neo4j.Record, key string) []float32 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []float32:
		return list
	case []float64:
		out := make([]float32, len(list))
		for i, f := range list {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(list))
		for _, item := range list {
			switch f := item.(type) {
			case float64:
				out = append(out, float32(f))
			case float32:
				out = append(out, f)
			case int64:
				out = append(out, float32(f))
			}
		}
		return out
	}
	return nil
}

// Strings returns the string list at key
func Strings(rec *neo4j.Record, key string) []string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Float64s converts a vector for use as a query parameter. The driver
// encodes []float64 as a Cypher list of floats.
func Float64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
