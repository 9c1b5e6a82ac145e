package offchain

import (
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// Protocol packages reach storage and the filesystem only through interfaces.
func TestArchitecture_CorePackagesStayIOFree(t *testing.T) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current test file path")
	}
	internalDir := filepath.Dir(filepath.Dir(currentFile))
	dirs := []string{
		filepath.Join(internalDir, "offchain"),
		filepath.Join(internalDir, "offchain", "schemas"),
		filepath.Join(internalDir, "crypto"),
		filepath.Join(internalDir, "identity"),
	}
	forbidden := map[string]struct{}{
		"os":       {},
		"net/http": {},
		"io/fs":    {},
	}

	fset := token.NewFileSet()
	var violations []string
	for _, dir := range dirs {
		files, err := filepath.Glob(filepath.Join(dir, "*.go"))
		if err != nil {
			t.Fatalf("glob files: %v", err)
		}
		for _, file := range files {
			if strings.HasSuffix(file, "_test.go") {
				continue
			}
			parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
			if err != nil {
				t.Fatalf("parse file %s: %v", file, err)
			}
			for _, imp := range parsed.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				if _, bad := forbidden[importPath]; !bad {
					continue
				}
				rel, _ := filepath.Rel(internalDir, file)
				pos := fset.Position(imp.Path.Pos())
				violations = append(violations, fmt.Sprintf("%s:%d imports %q", rel, pos.Line, importPath))
			}
		}
	}

	if len(violations) == 0 {
		return
	}
	t.Fatalf("core packages must not do direct I/O:\n- %s", strings.Join(violations, "\n- "))
}

func TestArchitecture_OffchainDoesNotImportSchemas(t *testing.T) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current test file path")
	}
	files, err := filepath.Glob(filepath.Join(filepath.Dir(currentFile), "*.go"))
	if err != nil {
		t.Fatalf("glob files: %v", err)
	}
	fset := token.NewFileSet()
	for _, file := range files {
		parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse file %s: %v", file, err)
		}
		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			if strings.HasSuffix(importPath, "/internal/offchain/schemas") || strings.Contains(importPath, "/internal/composition/") {
				t.Fatalf("%s imports %q", filepath.Base(file), importPath)
			}
		}
	}
}
