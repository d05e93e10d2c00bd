package storage

import (
	"strings"
	"testing"
)

// Fractional model fields must map to fractional columns, or the upsert
// either rounds cents away or fails the parameter encode.
func TestSchemaFractionalColumns(t *testing.T) {
	for _, col := range []string{
		"price DOUBLE PRECISION",
		"baths DOUBLE PRECISION",
	} {
		if !strings.Contains(schema, col) {
			t.Fatalf("schema missing %q", col)
		}
	}
}
