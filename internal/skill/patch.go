package skill

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PatchReport summarizes one patch run.
type PatchReport struct {
	FilesExamined int      `json:"files_examined"`
	FilesChanged  []string `json:"files_changed,omitempty"`
	Replacements  int      `json:"replacements"`
	DryRun        bool     `json:"dry_run"`
}

// Patcher performs literal string replacement across file trees.
// Changed files are backed up alongside the original with a .bak suffix
// before being rewritten.
type Patcher struct {
	// MaxFileSize bounds which files are touched. Default 1MB.
	MaxFileSize int64
}

// NewPatcher returns a Patcher with defaults.
func NewPatcher() *Patcher {
	return &Patcher{MaxFileSize: defaultMaxFileSize}
}

// Name implements Skill.
func (p *Patcher) Name() string { return NamePatch }

// Run implements Skill.
func (p *Patcher) Run(ctx context.Context, args Args) (*Result, error) {
	if args.Match == "" {
		return nil, fmt.Errorf("patch: empty match string")
	}
	if len(args.Roots) == 0 {
		return nil, fmt.Errorf("patch: no roots given")
	}

	report := &PatchReport{DryRun: args.DryRun}
	for _, root := range args.Roots {
		if err := p.apply(ctx, root, args.Match, args.Replace, args.DryRun, report); err != nil {
			return &Result{
				Skill:   NamePatch,
				Status:  StatusError,
				Summary: fmt.Sprintf("patch of %s failed: %v", root, err),
				Data:    report,
			}, err
		}
	}

	verb := "replaced"
	if args.DryRun {
		verb = "would replace"
	}
	return &Result{
		Skill:   NamePatch,
		Status:  StatusOK,
		Summary: fmt.Sprintf("%s %d occurrences in %d files", verb, report.Replacements, len(report.FilesChanged)),
		Data:    report,
	}, nil
}

func (p *Patcher) apply(ctx context.Context, root, match, replace string, dryRun bool, report *PatchReport) error {
	cleanRoot := filepath.Clean(root)
	info, err := os.Stat(cleanRoot)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", cleanRoot)
	}

	maxSize := p.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	return filepath.Walk(cleanRoot, func(path string, info os.FileInfo, err error) error {
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
		if strings.HasSuffix(path, ".bak") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		report.FilesExamined++

		if bytes.IndexByte(content, 0) != -1 {
			// Binary file; refuse to patch.
			return nil
		}

		count := bytes.Count(content, []byte(match))
		if count == 0 {
			return nil
		}

		report.Replacements += count
		report.FilesChanged = append(report.FilesChanged, path)

		if dryRun {
			return nil
		}

		if err := os.WriteFile(path+".bak", content, info.Mode().Perm()); err != nil {
			return fmt.Errorf("backing up %s: %w", path, err)
		}
		updated := bytes.ReplaceAll(content, []byte(match), []byte(replace))
		if err := os.WriteFile(path, updated, info.Mode().Perm()); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	})
}
