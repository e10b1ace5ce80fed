package audit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/vectorstore"
)

// capturingMesh records every published report.
type capturingMesh struct {
	mu      sync.Mutex
	reports []*Report
}

func (c *capturingMesh) Publish(ctx context.Context, from, topic string, payload any) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := payload.(*Report); ok {
		c.reports = append(c.reports, r)
	}
	return 1, nil
}

func (c *capturingMesh) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

func auditRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\n// TODO wire shutdown\nfunc main() {}\n"), 0644))
	return root
}

func TestAuditor_RunOnce(t *testing.T) {
	root := auditRoot(t)
	m := &capturingMesh{}
	store := vectorstore.OpenInMemory(logging.NewNopLogger())

	a, err := New(config.AuditConfig{
		Roots:    []string{root},
		Patterns: []string{`TODO`},
	}, m, store, logging.NewNopLogger())
	require.NoError(t, err)

	report, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Focused)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "main.go", report.Findings[0].Path)
	assert.Empty(t, report.Leaks)
	assert.Empty(t, report.Errors)

	// Published to the mesh and summarized into the store.
	assert.Equal(t, 1, m.count())
	assert.Equal(t, 1, store.Count(Collection))
}

func TestAuditor_DefaultPatterns(t *testing.T) {
	root := auditRoot(t)
	a, err := New(config.AuditConfig{Roots: []string{root}}, nil, nil, logging.NewNopLogger())
	require.NoError(t, err)

	report, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.Findings)
}

func TestAuditor_BadRootRecorded(t *testing.T) {
	a, err := New(config.AuditConfig{
		Roots:    []string{"/does/not/exist"},
		Patterns: []string{`TODO`},
	}, nil, nil, logging.NewNopLogger())
	require.NoError(t, err)

	report, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.Errors)
	assert.Empty(t, report.Findings)
}

func TestNew_RequiresRoots(t *testing.T) {
	_, err := New(config.AuditConfig{}, nil, nil, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestAuditor_WatcherTriggersFocusedAudit(t *testing.T) {
	root := auditRoot(t)
	m := &capturingMesh{}

	a, err := New(config.AuditConfig{
		Roots:    []string{root},
		Patterns: []string{`TODO`},
		Interval: config.Duration(time.Hour),
		Watch:    true,
		Debounce: config.Duration(50 * time.Millisecond),
	}, m, nil, logging.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	// Touch a file and wait past the debounce window.
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"),
		[]byte("package main\n// TODO another\n"), 0644))

	deadline := time.Now().Add(5 * time.Second)
	for m.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("focused audit never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.Lock()
	report := m.reports[0]
	m.mu.Unlock()
	assert.True(t, report.Focused)
	assert.Contains(t, report.Roots, root)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
}

func TestAuditor_WatchesDirectoriesCreatedAfterStart(t *testing.T) {
	root := auditRoot(t)
	m := &capturingMesh{}

	a, err := New(config.AuditConfig{
		Roots:    []string{root},
		Patterns: []string{`TODO`},
		Interval: config.Duration(time.Hour),
		Watch:    true,
		Debounce: config.Duration(50 * time.Millisecond),
	}, m, nil, logging.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	sub := filepath.Join(root, "later")
	require.NoError(t, os.Mkdir(sub, 0755))

	// Keep touching the file until a focused audit names the new
	// directory, since the watch on it is added asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, os.WriteFile(filepath.Join(sub, "late.go"),
			[]byte("package later\n// TODO fill in\n"), 0644))

		var found bool
		m.mu.Lock()
		for _, r := range m.reports {
			for _, dir := range r.Roots {
				if dir == sub {
					found = true
				}
			}
		}
		m.mu.Unlock()
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no focused audit covered the new directory")
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
}

func TestAuditor_StartTwice(t *testing.T) {
	a, err := New(config.AuditConfig{
		Roots:    []string{auditRoot(t)},
		Interval: config.Duration(time.Hour),
	}, nil, nil, logging.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Error(t, a.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
}

func TestChangedDir(t *testing.T) {
	ev := fsnotify.Event{Name: "/tmp/project/sub/file.go", Op: fsnotify.Write}
	assert.Equal(t, "/tmp/project/sub", changedDir(ev))

	chmod := fsnotify.Event{Name: "/tmp/project/file.go", Op: fsnotify.Chmod}
	assert.Empty(t, changedDir(chmod))
}
