package db

import (
	"errors"
	"testing"
)

func TestDialect(t *testing.T) {
	for _, typ := range []string{"postgres", "SQLite"} {
		if _, err := Dialect(Config{Type: typ, Name: "fortuna_test"}); err != nil {
			t.Fatalf("dialect %s: %v", typ, err)
		}
	}

	for _, typ := range []string{"mysql", "", "oracle"} {
		if _, err := Dialect(Config{Type: typ}); !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("dialect %q: expected ErrUnsupportedType, got %v", typ, err)
		}
	}
}
