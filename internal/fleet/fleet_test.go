package fleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwork-labs/meshd/internal/agent"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/consensus"
	"github.com/meshwork-labs/meshd/internal/llm"
	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/mesh"
	"github.com/meshwork-labs/meshd/internal/skill"
)

func newTestDeps(t *testing.T, roots []string) (Deps, *mesh.Meshwork) {
	t.Helper()
	log := logging.NewNopLogger()
	m := mesh.New(mesh.Options{Logger: log})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return Deps{
		Skills:   skill.DefaultSet(),
		Mesh:     m,
		Logger:   log,
		Roots:    roots,
		Patterns: []string{`TODO`},
	}, m
}

func scanRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("// TODO later\n"), 0644))
	return root
}

func mustSpec(t *testing.T, typeName string) agent.TypeSpec {
	t.Helper()
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	spec, ok := reg.Get(typeName)
	require.True(t, ok)
	return *spec
}

func TestCatalog_AllSpecsRegister(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reg.Len(), 70)

	seen := map[string]bool{}
	for _, spec := range reg.List() {
		assert.NotContains(t, spec.ID, "Agent")
		assert.False(t, seen[spec.ID], "duplicate mesh id %s", spec.ID)
		seen[spec.ID] = true
	}
}

func TestCatalog_CapabilityIndex(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	healers := reg.FindByCapability(CapPatch)
	assert.Contains(t, healers, "SelfHealAgent")
	assert.NotContains(t, healers, "BugPredictorAgent")

	assert.NotEmpty(t, reg.FindByTag("security"))
}

func TestMeshID(t *testing.T) {
	assert.Equal(t, "bug-predictor", meshID("BugPredictorAgent"))
	assert.Equal(t, "backup-recovery", meshID("BackupRecoveryAgent"))
	assert.Equal(t, "i18n-audit", meshID("I18nAuditAgent"))
}

func TestAutonomyAgent_RunCycle(t *testing.T) {
	deps, m := newTestDeps(t, []string{scanRoot(t)})

	a, err := NewAutonomyAgent(mustSpec(t, "TodoTrackerAgent"), deps)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))

	// Subscribe a collector to the reports topic.
	got := make(chan *mesh.Message, 1)
	require.NoError(t, m.Register("collector", func(ctx context.Context, msg *mesh.Message) (*mesh.Message, error) {
		select {
		case got <- msg:
		default:
		}
		return nil, nil
	}))
	require.NoError(t, m.Subscribe("collector", TopicReports))

	report, err := a.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, skill.NameCodeScan, report.Results[0].Skill)
	assert.Equal(t, skill.StatusOK, report.Results[0].Status)

	select {
	case msg := <-got:
		assert.Equal(t, a.ID(), msg.From)
		assert.Equal(t, TopicReports, msg.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle report never published")
	}

	st := a.Status()
	assert.Equal(t, agent.StateIdle, st.State)
	assert.Equal(t, uint64(1), st.CyclesRun)
	assert.Empty(t, st.LastError)
}

func TestAutonomyAgent_PatchSkippedInCycle(t *testing.T) {
	deps, _ := newTestDeps(t, []string{scanRoot(t)})

	a, err := NewAutonomyAgent(mustSpec(t, "SelfHealAgent"), deps)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))

	report, err := a.RunCycle(context.Background())
	require.NoError(t, err)

	byCap := map[string]agent.SkillOutcome{}
	for _, r := range report.Results {
		byCap[r.Capability] = r
	}
	assert.Equal(t, "skipped", byCap[CapPatch].Status)
	assert.Equal(t, skill.StatusOK, byCap[CapCodeScan].Status)
}

func TestAutonomyAgent_Directive(t *testing.T) {
	root := scanRoot(t)
	deps, m := newTestDeps(t, nil)

	a, err := NewAutonomyAgent(mustSpec(t, "TodoTrackerAgent"), deps)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))

	require.NoError(t, m.Register("caller", func(ctx context.Context, msg *mesh.Message) (*mesh.Message, error) {
		return nil, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := m.Request(ctx, "caller", a.ID(), &Directive{
		Capability: CapCodeScan,
		Roots:      []string{root},
		Patterns:   []string{`TODO`},
	})
	require.NoError(t, err)

	var res skill.Result
	require.NoError(t, decodePayload(resp.Payload, &res))
	assert.Equal(t, skill.StatusOK, res.Status)
	assert.Equal(t, skill.NameCodeScan, res.Skill)
}

func TestAutonomyAgent_DirectiveUnknownCapability(t *testing.T) {
	deps, m := newTestDeps(t, nil)

	a, err := NewAutonomyAgent(mustSpec(t, "TodoTrackerAgent"), deps)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))

	require.NoError(t, m.Register("caller", func(ctx context.Context, msg *mesh.Message) (*mesh.Message, error) {
		return nil, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := m.Request(ctx, "caller", a.ID(), &Directive{Capability: CapPatch})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, decodePayload(resp.Payload, &out))
	assert.Contains(t, out["error"], "no capability")
}

// cannedLLM answers every prompt with a fixed string.
type cannedLLM struct {
	answer string
}

func (c *cannedLLM) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return c.answer, nil
}

func TestAutonomyAgent_AnswersConsensusPrompt(t *testing.T) {
	deps, m := newTestDeps(t, nil)
	deps.LLM = &cannedLLM{answer: "the answer is 4"}

	a, err := NewAutonomyAgent(mustSpec(t, "BugPredictorAgent"), deps)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))

	engine := consensus.NewEngine(m, logging.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := engine.Propose(ctx, "what is 2+2?", []string{a.ID()})
	require.NoError(t, err)
	assert.Equal(t, a.ID(), result.Winner)
	assert.Equal(t, "the answer is 4", result.Output)
	assert.Zero(t, result.Failed)
}

func TestAutonomyAgent_PromptWithoutGenerator(t *testing.T) {
	deps, m := newTestDeps(t, nil)

	a, err := NewAutonomyAgent(mustSpec(t, "BugPredictorAgent"), deps)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))

	require.NoError(t, m.Register("caller", func(ctx context.Context, msg *mesh.Message) (*mesh.Message, error) {
		return nil, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := m.Request(ctx, "caller", a.ID(), map[string]string{"prompt": "anyone home?"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, decodePayload(resp.Payload, &out))
	assert.Contains(t, out["error"], "no text generator")
}

func TestController_StartAndStop(t *testing.T) {
	deps, m := newTestDeps(t, []string{scanRoot(t)})

	cfg := config.FleetConfig{
		Enabled:             true,
		MaxConcurrentCycles: 2,
		DefaultInterval:     config.Duration(50 * time.Millisecond),
		TypePrefixes:        []string{"TodoTracker", "DeadCode"},
	}

	reg, err := DefaultRegistry()
	require.NoError(t, err)

	c, err := NewController(cfg, reg, deps)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Size())

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))

	// Both agents must be live on the mesh.
	agents := m.Agents()
	assert.Contains(t, agents, "todo-tracker")
	assert.Contains(t, agents, "dead-code")

	// Wait for at least one cycle each.
	deadline := time.Now().Add(5 * time.Second)
	for {
		statuses := c.StatusAll()
		ran := 0
		for _, st := range statuses {
			if st.CyclesRun > 0 {
				ran++
			}
		}
		if ran == len(statuses) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("agents never completed a cycle")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	for _, st := range c.StatusAll() {
		assert.Equal(t, agent.StateStopped, st.State)
	}
}

func TestController_PrefixFilter(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	c, err := NewController(config.FleetConfig{TypePrefixes: []string{"NoSuchPrefix"}}, reg, deps)
	require.NoError(t, err)
	assert.Zero(t, c.Size())

	all, err := NewController(config.FleetConfig{}, reg, deps)
	require.NoError(t, err)
	assert.Equal(t, reg.Len(), all.Size())
}
