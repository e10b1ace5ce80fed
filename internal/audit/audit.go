// Package audit runs scheduled codebase audits: regex pattern sweeps
// and secret detection over the configured roots. Findings are
// published to the mesh and summarized into the vector store so agents
// and operators can recall past audit results. A filesystem watcher
// queues changed directories for focused rescans between the scheduled
// full runs.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/skill"
	"github.com/meshwork-labs/meshd/internal/vectorstore"
)

const (
	// AuditorID is the mesh identity findings are published from.
	AuditorID = "auditor"
	// TopicFindings is the mesh topic reports are published to.
	TopicFindings = "audit.findings"
	// Collection is the vector store collection summaries land in.
	Collection = "audit"
)

var defaultPatterns = []string{
	`TODO`,
	`FIXME`,
	`XXX`,
	`panic\(`,
}

// Report is the outcome of one audit run.
type Report struct {
	RunID    string              `json:"run_id"`
	Started  time.Time           `json:"started"`
	Duration time.Duration       `json:"duration"`
	Roots    []string            `json:"roots"`
	Focused  bool                `json:"focused"`
	Findings []skill.Finding     `json:"findings,omitempty"`
	Leaks    []skill.LeakFinding `json:"leaks,omitempty"`
	Errors   []string            `json:"errors,omitempty"`
}

// Publisher is the slice of the mesh the auditor needs.
type Publisher interface {
	Publish(ctx context.Context, from, topic string, payload any) (int, error)
}

// Auditor owns the audit schedule and the change watcher.
type Auditor struct {
	cfg     config.AuditConfig
	scanner *skill.Scanner
	secrets *skill.SecretScanner
	mesh    Publisher
	store   *vectorstore.Store
	log     *logging.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an auditor. The store may be nil to skip summaries.
func New(cfg config.AuditConfig, m Publisher, store *vectorstore.Store, log *logging.Logger) (*Auditor, error) {
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("audit: no roots configured")
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = defaultPatterns
	}

	scanner := skill.NewScanner()
	secrets := skill.NewSecretScanner()
	if cfg.MaxFindings > 0 {
		scanner.MaxFindings = cfg.MaxFindings
		secrets.MaxFindings = cfg.MaxFindings
	}

	return &Auditor{
		cfg:     cfg,
		scanner: scanner,
		secrets: secrets,
		mesh:    m,
		store:   store,
		log:     log.Named("audit"),
		pending: make(map[string]struct{}),
	}, nil
}

// Start launches the schedule loop and, when configured, the change
// watcher. Watcher failure degrades to interval-only auditing.
func (a *Auditor) Start(ctx context.Context) error {
	if a.cancel != nil {
		return fmt.Errorf("audit: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	var watcher *fsnotify.Watcher
	if a.cfg.Watch {
		w, err := a.newWatcher()
		if err != nil {
			a.log.Warn(ctx, "change watcher unavailable, interval audits only", zap.Error(err))
		} else {
			watcher = w
		}
	}

	go a.run(runCtx, watcher)
	return nil
}

// Stop halts the auditor and waits for an in-flight run to finish.
func (a *Auditor) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit stop: %w", ctx.Err())
	}
}

// RunOnce performs a single full audit immediately.
func (a *Auditor) RunOnce(ctx context.Context) (*Report, error) {
	return a.audit(ctx, a.cfg.Roots, false)
}

func (a *Auditor) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(a.done)
	if watcher != nil {
		defer watcher.Close()
	}

	interval := a.cfg.Interval.Duration()
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debounce := a.cfg.Debounce.Duration()
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	// The flush timer only runs while changes are pending.
	flush := time.NewTimer(debounce)
	if !flush.Stop() {
		<-flush.C
	}

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if watcher != nil {
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := a.audit(ctx, a.cfg.Roots, false); err != nil && ctx.Err() == nil {
				a.log.Error(ctx, "scheduled audit failed", zap.Error(err))
			}

		case ev, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				a.maybeWatchNewDir(ctx, watcher, ev.Name)
			}
			if dir := changedDir(ev); dir != "" {
				a.mu.Lock()
				wasEmpty := len(a.pending) == 0
				a.pending[dir] = struct{}{}
				a.mu.Unlock()
				if wasEmpty {
					flush.Reset(debounce)
				}
			}

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			a.log.Warn(ctx, "change watcher error", zap.Error(err))

		case <-flush.C:
			dirs := a.takePending()
			if len(dirs) == 0 {
				continue
			}
			if _, err := a.audit(ctx, dirs, true); err != nil && ctx.Err() == nil {
				a.log.Error(ctx, "focused audit failed", zap.Error(err))
			}
		}
	}
}

func (a *Auditor) audit(ctx context.Context, roots []string, focused bool) (*Report, error) {
	started := time.Now().UTC()
	report := &Report{
		RunID:   uuid.Must(uuid.NewV7()).String(),
		Started: started,
		Roots:   roots,
		Focused: focused,
	}

	for _, root := range roots {
		findings, err := a.scanner.Scan(ctx, root, a.cfg.Patterns)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			report.Errors = append(report.Errors, fmt.Sprintf("scan %s: %v", root, err))
			continue
		}
		report.Findings = append(report.Findings, findings...)

		leaks, err := a.secrets.ScanTree(ctx, root)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			report.Errors = append(report.Errors, fmt.Sprintf("secrets %s: %v", root, err))
			continue
		}
		report.Leaks = append(report.Leaks, leaks...)
	}
	report.Duration = time.Since(started)

	if a.mesh != nil {
		if _, err := a.mesh.Publish(ctx, AuditorID, TopicFindings, report); err != nil {
			a.log.Warn(ctx, "publishing audit report failed", zap.Error(err))
		}
	}
	a.storeSummary(ctx, report)

	a.log.Info(ctx, "audit complete",
		zap.String("run_id", report.RunID),
		zap.Bool("focused", focused),
		zap.Int("findings", len(report.Findings)),
		zap.Int("leaks", len(report.Leaks)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (a *Auditor) storeSummary(ctx context.Context, report *Report) {
	if a.store == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "audit run over %s: %d pattern findings, %d potential leaks.",
		strings.Join(report.Roots, ", "), len(report.Findings), len(report.Leaks))
	for i, f := range report.Findings {
		if i == 20 {
			break
		}
		fmt.Fprintf(&b, " %s:%d %s.", f.Path, f.Line, f.Excerpt)
	}
	for _, leak := range report.Leaks {
		fmt.Fprintf(&b, " leak %s at %s:%d.", leak.RuleID, leak.Path, leak.Line)
	}

	doc := vectorstore.Document{
		ID:      report.RunID,
		Content: b.String(),
		Metadata: map[string]string{
			"started":  report.Started.Format(time.RFC3339),
			"findings": fmt.Sprintf("%d", len(report.Findings)),
			"leaks":    fmt.Sprintf("%d", len(report.Leaks)),
		},
	}
	if err := a.store.Add(ctx, Collection, []vectorstore.Document{doc}); err != nil {
		a.log.Warn(ctx, "storing audit summary failed", zap.Error(err))
	}
}

func (a *Auditor) takePending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	dirs := make([]string, 0, len(a.pending))
	for dir := range a.pending {
		dirs = append(dirs, dir)
	}
	a.pending = make(map[string]struct{})
	return dirs
}

// newWatcher builds a watcher over every directory under the roots.
// fsnotify does not recurse, so subdirectories are added explicitly.
func (a *Auditor) newWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, root := range a.cfg.Roots {
		if err := watchTree(watcher, root); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", root, err)
		}
	}
	return watcher, nil
}

// watchTree adds dir and everything under it to the watcher, skipping
// dot-directories below the top.
func watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(filepath.Base(path), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// maybeWatchNewDir extends the watch set when a directory appears after
// startup. fsnotify does not recurse, so files created inside a new
// subdirectory would otherwise never trigger a focused rescan.
func (a *Auditor) maybeWatchNewDir(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if err := watchTree(watcher, path); err != nil {
		a.log.Warn(ctx, "watching new directory failed", zap.String("dir", path), zap.Error(err))
	}
}

// changedDir maps a watcher event to the directory worth rescanning.
func changedDir(ev fsnotify.Event) string {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return ""
	}
	return filepath.Dir(ev.Name)
}
