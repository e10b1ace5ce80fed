package skill

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// defaultSkipDirs are directories never worth scanning: generated code,
// dependencies, or version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

const (
	defaultMaxFileSize = 1 << 20 // 1MB
	maxExcerptLen      = 200
)

// Finding is one regex match in one file.
type Finding struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Pattern string `json:"pattern"`
	Excerpt string `json:"excerpt"`
}

// Scanner walks file trees applying regex patterns line by line.
type Scanner struct {
	// MaxFileSize bounds which files are read. Default 1MB.
	MaxFileSize int64
	// MaxFindings stops the walk once reached. 0 means unlimited.
	MaxFindings int
}

// NewScanner returns a Scanner with defaults.
func NewScanner() *Scanner {
	return &Scanner{MaxFileSize: defaultMaxFileSize}
}

// Name implements Skill.
func (s *Scanner) Name() string { return NameCodeScan }

// Run implements Skill, scanning every root with every pattern.
func (s *Scanner) Run(ctx context.Context, args Args) (*Result, error) {
	if len(args.Roots) == 0 {
		return nil, fmt.Errorf("codescan: no roots given")
	}

	var all []Finding
	for _, root := range args.Roots {
		findings, err := s.ScanFiltered(ctx, root, args.Patterns, args.Include, args.Exclude)
		if err != nil {
			return &Result{
				Skill:   NameCodeScan,
				Status:  StatusError,
				Summary: fmt.Sprintf("scan of %s failed: %v", root, err),
				Data:    all,
			}, err
		}
		all = append(all, findings...)
	}

	return &Result{
		Skill:   NameCodeScan,
		Status:  StatusOK,
		Summary: fmt.Sprintf("%d findings across %d roots", len(all), len(args.Roots)),
		Data:    all,
	}, nil
}

// Scan walks one root applying the given patterns to every eligible
// file. See ScanFiltered for the walk rules.
func (s *Scanner) Scan(ctx context.Context, root string, patterns []string) ([]Finding, error) {
	return s.ScanFiltered(ctx, root, patterns, nil, nil)
}

// ScanFiltered walks one root applying the given patterns. The root is
// cleaned and must exist. Binary files, oversized files, and the
// default skip directories are ignored. Include and exclude globs
// match a file's root-relative path or its base name; an empty include
// list admits every file. Honors context cancellation between files.
func (s *Scanner) ScanFiltered(ctx context.Context, root string, patterns, include, exclude []string) ([]Finding, error) {
	cleanRoot := filepath.Clean(root)
	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", cleanRoot)
	}

	compiled, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}
	if err := validateGlobs(include); err != nil {
		return nil, err
	}
	if err := validateGlobs(exclude); err != nil {
		return nil, err
	}

	maxSize := s.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	var findings []Finding
	err = filepath.Walk(cleanRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if defaultSkipDirs[filepath.Base(path)] {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !info.Mode().IsRegular() || info.Size() > maxSize {
			return nil
		}

		rel, relErr := filepath.Rel(cleanRoot, path)
		if relErr != nil {
			rel = path
		}
		if matchesAnyGlob(exclude, rel) {
			return nil
		}
		if len(include) > 0 && !matchesAnyGlob(include, rel) {
			return nil
		}

		fileFindings, err := scanFile(path, cleanRoot, compiled)
		if err != nil {
			// Unreadable files are skipped, not fatal.
			return nil
		}
		findings = append(findings, fileFindings...)

		if s.MaxFindings > 0 && len(findings) >= s.MaxFindings {
			findings = findings[:s.MaxFindings]
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

// validateGlobs rejects malformed glob patterns before the walk starts.
func validateGlobs(globs []string) error {
	for _, g := range globs {
		if _, err := filepath.Match(g, "x"); err != nil {
			return fmt.Errorf("invalid glob %q: %w", g, err)
		}
	}
	return nil
}

// matchesAnyGlob matches the relative path or its base name against
// the globs.
func matchesAnyGlob(globs []string, rel string) bool {
	base := filepath.Base(rel)
	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}
	return false
}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("codescan: no patterns given")
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func scanFile(path, root string, patterns []*regexp.Regexp) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		relPath = path
	}

	var findings []Finding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 && !utf8.ValidString(line) {
			// Almost certainly binary.
			return nil, nil
		}
		for _, re := range patterns {
			if re.MatchString(line) {
				findings = append(findings, Finding{
					Path:    relPath,
					Line:    lineNo,
					Pattern: re.String(),
					Excerpt: excerpt(line),
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return findings, err
	}
	return findings, nil
}

func excerpt(line string) string {
	line = strings.TrimSpace(line)
	if len(line) > maxExcerptLen {
		return line[:maxExcerptLen]
	}
	return line
}
