package skill

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files under a temp root; keys are relative paths.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestScan_FindsPatterns(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":      "package main\n// TODO: fix startup race\nfunc main() {}\n",
		"lib/util.go":  "package lib\n// FIXME handle nil\n// TODO cleanup\n",
		"docs/note.md": "nothing to see\n",
	})

	s := NewScanner()
	findings, err := s.Scan(context.Background(), root, []string{`TODO`, `FIXME`})
	require.NoError(t, err)
	require.Len(t, findings, 3)

	byPath := map[string]int{}
	for _, f := range findings {
		byPath[f.Path]++
		assert.NotZero(t, f.Line)
		assert.NotEmpty(t, f.Excerpt)
	}
	assert.Equal(t, 1, byPath["main.go"])
	assert.Equal(t, 2, byPath[filepath.Join("lib", "util.go")])
}

func TestScan_SkipsVendorAndGit(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vendor/dep.go":  "// TODO vendored\n",
		".git/config":    "# TODO not code\n",
		"src/real.go":    "// TODO real\n",
		"node_modules/x": "// TODO npm\n",
	})

	s := NewScanner()
	findings, err := s.Scan(context.Background(), root, []string{`TODO`})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, filepath.Join("src", "real.go"), findings[0].Path)
}

func TestScan_RespectsMaxFindings(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "hit\nhit\nhit\n",
		"b.txt": "hit\nhit\nhit\n",
	})

	s := NewScanner()
	s.MaxFindings = 2
	findings, err := s.Scan(context.Background(), root, []string{`hit`})
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestScan_InvalidInputs(t *testing.T) {
	s := NewScanner()

	_, err := s.Scan(context.Background(), "/does/not/exist", []string{`x`})
	assert.Error(t, err)

	root := t.TempDir()
	_, err = s.Scan(context.Background(), root, []string{`[unclosed`})
	assert.Error(t, err)

	_, err = s.Scan(context.Background(), root, nil)
	assert.Error(t, err)
}

func TestScanFiltered_IncludeExcludeGlobs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":          "// TODO main\n",
		"main_test.go":     "// TODO test\n",
		"lib/util.go":      "// TODO util\n",
		"lib/util_test.go": "// TODO util test\n",
		"notes.md":         "TODO prose\n",
	})

	s := NewScanner()

	// Include admits only matching files.
	findings, err := s.ScanFiltered(context.Background(), root, []string{`TODO`}, []string{"*.go"}, nil)
	require.NoError(t, err)
	require.Len(t, findings, 4)
	for _, f := range findings {
		assert.Equal(t, ".go", filepath.Ext(f.Path))
	}

	// Exclude trims matching files out of the include set.
	findings, err = s.ScanFiltered(context.Background(), root, []string{`TODO`}, []string{"*.go"}, []string{"*_test.go"})
	require.NoError(t, err)
	require.Len(t, findings, 2)
	paths := []string{findings[0].Path, findings[1].Path}
	assert.ElementsMatch(t, []string{"main.go", filepath.Join("lib", "util.go")}, paths)

	// Globs also match root-relative paths.
	findings, err = s.ScanFiltered(context.Background(), root, []string{`TODO`}, []string{filepath.Join("lib", "*.go")}, nil)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	// Malformed globs fail up front.
	_, err = s.ScanFiltered(context.Background(), root, []string{`TODO`}, []string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func TestScanner_RunWithGlobs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "// TODO one\n",
		"b.md": "TODO two\n",
	})

	res, err := NewScanner().Run(context.Background(), Args{
		Roots:    []string{root},
		Patterns: []string{`TODO`},
		Include:  []string{"*.go"},
	})
	require.NoError(t, err)

	findings, ok := res.Data.([]Finding)
	require.True(t, ok)
	require.Len(t, findings, 1)
	assert.Equal(t, "a.go", findings[0].Path)
}

func TestScan_Cancellation(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "x\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScanner()
	_, err := s.Scan(ctx, root, []string{`x`})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_Run(t *testing.T) {
	root := writeTree(t, map[string]string{"a.go": "// TODO one\n"})

	res, err := NewScanner().Run(context.Background(), Args{
		Roots:    []string{root},
		Patterns: []string{`TODO`},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, NameCodeScan, res.Skill)

	findings, ok := res.Data.([]Finding)
	require.True(t, ok)
	assert.Len(t, findings, 1)
}
