package db

import (
	"go/parser"
	"go/token"
	"os"
	"strconv"
	"strings"
	"testing"
)

// internal/observability/metrics imports this package, so the observability
// root (which wires metrics) must stay out of its import graph.
func TestNoObservabilityRootImport(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}

	fset := token.NewFileSet()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, imp := range file.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if path == "github.com/smallbiznis/fortuna/internal/observability" ||
				strings.HasPrefix(path, "github.com/smallbiznis/fortuna/internal/observability/metrics") {
				t.Fatalf("%s imports %s", name, path)
			}
		}
	}
}
