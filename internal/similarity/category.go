// Package similarity scores control descriptions against each other and
// persists the scores as HAS_SIMILARITY edges.
package similarity

import "fmt"

// Category buckets a cosine score
type Category string

const (
	High    Category = "high_similarity"
	Medium  Category = "medium_similarity"
	Low     Category = "low_similarity"
	VeryLow Category = "very_low_similarity"
)

const (
	highFloor   = 0.75
	mediumFloor = 0.5
	lowFloor    = 0.3
)

// Categorize buckets a score for interactive 1-N results
func Categorize(score float64) Category {
	switch {
	case score >= highFloor:
		return High
	case score >= mediumFloor:
		return Medium
	case score >= lowFloor:
		return Low
	default:
		return VeryLow
	}
}

// CategorizeBulk buckets a score written by an M-N run. Pairs reaching the
// run threshold but scoring below medium are all low_similarity; bulk runs
// never write very_low_similarity.
func CategorizeBulk(score float64) Category {
	switch {
	case score >= highFloor:
		return High
	case score >= mediumFloor:
		return Medium
	default:
		return Low
	}
}

// ParseCategory accepts one of the four category names
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case High, Medium, Low, VeryLow:
		return c, true
	}
	return "", false
}

// oneToManyCase renders Categorize as a Cypher CASE over expr
func oneToManyCase(expr string) string {
	return fmt.Sprintf(`CASE
  WHEN %[1]s >= %[2]v THEN '%[3]s'
  WHEN %[1]s >= %[4]v THEN '%[5]s'
  WHEN %[1]s >= %[6]v THEN '%[7]s'
  ELSE '%[8]s'
END`, expr, highFloor, High, mediumFloor, Medium, lowFloor, Low, VeryLow)
}

// bulkCase renders CategorizeBulk as a Cypher CASE over expr
func bulkCase(expr string) string {
	return fmt.Sprintf(`CASE
  WHEN %[1]s >= %[2]v THEN '%[3]s'
  WHEN %[1]s >= %[4]v THEN '%[5]s'
  ELSE '%[6]s'
END`, expr, highFloor, High, mediumFloor, Medium, Low)
}
