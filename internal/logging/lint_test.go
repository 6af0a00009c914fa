package logging

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot(t *testing.T) string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Unable to get current file path")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("Could not find go.mod to determine project root")
		}
		dir = parent
	}
}

// TestNoDirectLogging ensures all Go files use structured logging through the
// logging package instead of direct fmt.Printf or log.Printf calls.
func TestNoDirectLogging(t *testing.T) {
	projectRoot := findProjectRoot(t)

	patterns := []*regexp.Regexp{
		regexp.MustCompile(`\bfmt\.Printf\s*\(`),
		regexp.MustCompile(`\bfmt\.Println\s*\(`),
		regexp.MustCompile(`\blog\.Printf\s*\(`),
		regexp.MustCompile(`\blog\.Println\s*\(`),
		regexp.MustCompile(`\bprintln\s*\(`),
	}

	excludePatterns := []*regexp.Regexp{
		regexp.MustCompile(`_test\.go$`),
		regexp.MustCompile(`main\.go$`), // version output
		regexp.MustCompile(`internal/logging/`),
	}

	var violations []string

	err := filepath.Walk(projectRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// Skip hidden and underscore-prefixed dirs, same as the Go tool.
			name := info.Name()
			if path != projectRoot && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}

		rel, err := filepath.Rel(projectRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, exclude := range excludePatterns {
			if exclude.MatchString(rel) {
				return nil
			}
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "//") {
				continue
			}
			for _, pattern := range patterns {
				if pattern.MatchString(line) {
					violations = append(violations, fmt.Sprintf("%s:%d: %s", rel, lineNum, trimmed))
				}
			}
		}
		return scanner.Err()
	})
	if err != nil {
		t.Fatalf("Failed to walk project: %v", err)
	}

	if len(violations) > 0 {
		t.Errorf("Found %d direct logging calls, use the logging package instead:\n%s",
			len(violations), strings.Join(violations, "\n"))
	}
}
