package skill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// LeakFinding is one detected secret.
type LeakFinding struct {
	Path     string `json:"path"`
	RuleID   string `json:"rule_id"`
	RuleDesc string `json:"rule_desc"`
	Line     int    `json:"line"`
}

// SecretScanner detects leaked credentials using the gitleaks SDK and
// its default ruleset. Secret values are never carried in findings,
// only rule and location.
type SecretScanner struct {
	// MaxFileSize bounds which files are read. Default 1MB.
	MaxFileSize int64
	// MaxFindings stops the walk once reached. 0 means unlimited.
	MaxFindings int
}

// NewSecretScanner returns a SecretScanner with defaults.
func NewSecretScanner() *SecretScanner {
	return &SecretScanner{MaxFileSize: defaultMaxFileSize}
}

// Name implements Skill.
func (s *SecretScanner) Name() string { return NameSecretScan }

// Run implements Skill.
func (s *SecretScanner) Run(ctx context.Context, args Args) (*Result, error) {
	if len(args.Roots) == 0 {
		return nil, fmt.Errorf("secretscan: no roots given")
	}

	var all []LeakFinding
	for _, root := range args.Roots {
		findings, err := s.ScanTree(ctx, root)
		if err != nil {
			return &Result{
				Skill:   NameSecretScan,
				Status:  StatusError,
				Summary: fmt.Sprintf("secret scan of %s failed: %v", root, err),
				Data:    all,
			}, err
		}
		all = append(all, findings...)
	}

	return &Result{
		Skill:   NameSecretScan,
		Status:  StatusOK,
		Summary: fmt.Sprintf("%d potential leaks across %d roots", len(all), len(args.Roots)),
		Data:    all,
	}, nil
}

// ScanTree walks a root detecting secrets file by file.
func (s *SecretScanner) ScanTree(ctx context.Context, root string) ([]LeakFinding, error) {
	cleanRoot := filepath.Clean(root)
	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", cleanRoot)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}

	maxSize := s.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	var findings []LeakFinding
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

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		relPath, err := filepath.Rel(cleanRoot, path)
		if err != nil {
			relPath = path
		}

		for _, f := range detector.DetectString(string(content)) {
			findings = append(findings, LeakFinding{
				Path:     relPath,
				RuleID:   f.RuleID,
				RuleDesc: f.Description,
				Line:     f.StartLine,
			})
		}

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
