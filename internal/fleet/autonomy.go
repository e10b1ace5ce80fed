// Package fleet runs the autonomy agents: a declarative catalog of
// agent types, one generic agent implementation driven by a TypeSpec,
// and a controller that owns registration, cycle scheduling, and
// shutdown.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/agent"
	"github.com/meshwork-labs/meshd/internal/llm"
	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/mesh"
	"github.com/meshwork-labs/meshd/internal/skill"
)

// TopicReports is the mesh topic cycle reports are published to.
const TopicReports = "fleet.reports"

// Directive asks an agent to exercise one capability on demand. It
// arrives as a mesh request payload.
type Directive struct {
	Capability string   `json:"capability"`
	Roots      []string `json:"roots,omitempty"`
	Patterns   []string `json:"patterns,omitempty"`
	Include    []string `json:"include,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`
	Match      string   `json:"match,omitempty"`
	Replace    string   `json:"replace,omitempty"`
	DryRun     bool     `json:"dry_run"`
}

// TextGenerator answers the free-form prompts consensus rounds send.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error)
}

// Deps carries the shared dependencies every autonomy agent uses.
// LLM is optional; without it agents decline prompts instead of
// answering them.
type Deps struct {
	Skills   *skill.Set
	Mesh     *mesh.Meshwork
	Logger   *logging.Logger
	LLM      TextGenerator
	Roots    []string
	Patterns []string
}

// AutonomyAgent is the generic agent.Agent every catalog entry runs
// as. Behavior differences between types live entirely in the
// TypeSpec: which skills are bound, the scan inputs, the cadence.
type AutonomyAgent struct {
	spec   agent.TypeSpec
	skills map[string]skill.Skill
	mesh   *mesh.Meshwork
	llm    TextGenerator
	log    *logging.Logger

	roots    []string
	patterns []string

	mu        sync.Mutex
	state     agent.State
	cyclesRun uint64
	lastCycle time.Time
	lastError string
}

// NewAutonomyAgent constructs an agent from its spec, resolving every
// skill binding up front so a broken catalog entry fails construction.
func NewAutonomyAgent(spec agent.TypeSpec, deps Deps) (*AutonomyAgent, error) {
	if deps.Skills == nil || deps.Mesh == nil || deps.Logger == nil {
		return nil, fmt.Errorf("agent %s: missing dependencies", spec.Type)
	}

	resolved := make(map[string]skill.Skill, len(spec.Capabilities))
	for _, cap := range spec.Capabilities {
		name := spec.SkillBindings[cap]
		sk, ok := deps.Skills.Get(name)
		if !ok {
			return nil, fmt.Errorf("agent %s: capability %q binds unknown skill %q", spec.Type, cap, name)
		}
		resolved[cap] = sk
	}

	return &AutonomyAgent{
		spec:     spec,
		skills:   resolved,
		mesh:     deps.Mesh,
		llm:      deps.LLM,
		log:      deps.Logger.Named("fleet").With(zap.String("agent_id", spec.ID)),
		roots:    deps.Roots,
		patterns: deps.Patterns,
		state:    agent.StateIdle,
	}, nil
}

// ID implements agent.Agent.
func (a *AutonomyAgent) ID() string { return a.spec.ID }

// Type implements agent.Agent.
func (a *AutonomyAgent) Type() string { return a.spec.Type }

// Capabilities implements agent.Agent.
func (a *AutonomyAgent) Capabilities() []string {
	return append([]string(nil), a.spec.Capabilities...)
}

// Init registers the agent on the mesh.
func (a *AutonomyAgent) Init(ctx context.Context) error {
	if err := a.mesh.Register(a.spec.ID, a.handleMessage); err != nil {
		return fmt.Errorf("registering %s: %w", a.spec.ID, err)
	}
	a.log.Debug(ctx, "agent registered", zap.String("type", a.spec.Type))
	return nil
}

// RunCycle executes every cycle-eligible bound skill once and
// publishes the report to the fleet topic. Patch is request-only; it
// never runs during an autonomous cycle.
func (a *AutonomyAgent) RunCycle(ctx context.Context) (*agent.CycleReport, error) {
	started := time.Now().UTC()
	a.setState(agent.StateRunning)

	report := &agent.CycleReport{AgentID: a.spec.ID, Started: started}
	var cycleErr error

	for _, cap := range a.spec.Capabilities {
		sk := a.skills[cap]
		args, runnable := a.cycleArgs(sk.Name())
		if !runnable {
			report.Results = append(report.Results, agent.SkillOutcome{
				Skill:      sk.Name(),
				Capability: cap,
				Status:     "skipped",
				Detail:     "runs on request only",
			})
			continue
		}

		res, err := sk.Run(ctx, args)
		outcome := agent.SkillOutcome{Skill: sk.Name(), Capability: cap}
		if err != nil {
			outcome.Status = skill.StatusError
			outcome.Detail = err.Error()
			cycleErr = err
		} else {
			outcome.Status = res.Status
			outcome.Detail = res.Summary
		}
		report.Results = append(report.Results, outcome)

		if ctx.Err() != nil {
			cycleErr = ctx.Err()
			break
		}
	}

	report.Duration = time.Since(started)
	a.finishCycle(started, cycleErr)

	if _, err := a.mesh.Publish(ctx, a.spec.ID, TopicReports, report); err != nil {
		a.log.Warn(ctx, "publishing cycle report failed", zap.Error(err))
	}

	if cycleErr != nil {
		return report, fmt.Errorf("cycle for %s: %w", a.spec.ID, cycleErr)
	}
	return report, nil
}

// Status implements agent.Agent.
func (a *AutonomyAgent) Status() agent.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return agent.Status{
		AgentID:   a.spec.ID,
		Type:      a.spec.Type,
		State:     a.state,
		CyclesRun: a.cyclesRun,
		LastCycle: a.lastCycle,
		LastError: a.lastError,
	}
}

// handleMessage is the mesh handler: requests carry either a Directive
// (skill execution) or a free-form prompt (consensus rounds); anything
// else is observed and dropped.
func (a *AutonomyAgent) handleMessage(ctx context.Context, msg *mesh.Message) (*mesh.Message, error) {
	if !msg.IsRequest() {
		return nil, nil
	}

	var d struct {
		Directive
		Prompt string `json:"prompt"`
	}
	if err := decodePayload(msg.Payload, &d); err != nil {
		return msg.Respond(map[string]string{"error": "bad directive: " + err.Error()}), nil
	}

	if d.Prompt != "" {
		return a.answerPrompt(ctx, msg, d.Prompt)
	}

	if d.Capability == "status" {
		return msg.Respond(a.Status()), nil
	}

	sk, ok := a.skills[d.Capability]
	if !ok {
		return msg.Respond(map[string]string{
			"error": fmt.Sprintf("agent %s has no capability %q", a.spec.ID, d.Capability),
		}), nil
	}

	args := skill.Args{
		Roots:    d.Roots,
		Patterns: d.Patterns,
		Include:  d.Include,
		Exclude:  d.Exclude,
		Match:    d.Match,
		Replace:  d.Replace,
		DryRun:   d.DryRun,
	}
	if len(args.Roots) == 0 {
		args.Roots = a.roots
	}
	if len(args.Patterns) == 0 {
		args.Patterns = a.patterns
	}

	res, err := sk.Run(ctx, args)
	if err != nil {
		a.log.Warn(ctx, "directive failed",
			zap.String("capability", d.Capability), zap.Error(err))
		return msg.Respond(map[string]string{"error": err.Error()}), nil
	}
	return msg.Respond(res), nil
}

// answerPrompt generates a text answer in the agent's persona. Agents
// without a generator decline rather than answer blind.
func (a *AutonomyAgent) answerPrompt(ctx context.Context, msg *mesh.Message, prompt string) (*mesh.Message, error) {
	if a.llm == nil {
		return msg.Respond(map[string]string{
			"error": fmt.Sprintf("agent %s has no text generator", a.spec.ID),
		}), nil
	}

	framed := fmt.Sprintf("You are %s: %s.\n\n%s", a.spec.Type, a.spec.Description, prompt)
	out, err := a.llm.Generate(ctx, framed)
	if err != nil {
		a.log.Warn(ctx, "prompt failed", zap.Error(err))
		return msg.Respond(map[string]string{"error": err.Error()}), nil
	}
	return msg.Respond(map[string]string{"output": out}), nil
}

// cycleArgs returns the inputs a skill runs with during an autonomous
// cycle, or runnable=false for skills that only run on request.
func (a *AutonomyAgent) cycleArgs(skillName string) (skill.Args, bool) {
	switch skillName {
	case skill.NameCodeScan:
		return skill.Args{Roots: a.roots, Patterns: a.patterns}, len(a.roots) > 0 && len(a.patterns) > 0
	case skill.NameSecretScan:
		return skill.Args{Roots: a.roots}, len(a.roots) > 0
	case skill.NameSysMetrics:
		return skill.Args{Roots: a.roots}, true
	default:
		// Patch mutates files; it only runs from an explicit Directive.
		return skill.Args{}, false
	}
}

func (a *AutonomyAgent) setState(s agent.State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *AutonomyAgent) finishCycle(started time.Time, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cyclesRun++
	a.lastCycle = started
	if err != nil {
		a.state = agent.StateDegraded
		a.lastError = err.Error()
	} else {
		a.state = agent.StateIdle
		a.lastError = ""
	}
}

// decodePayload converts a mesh payload into a typed value. Payloads
// arrive either as the original Go value (in-process) or as decoded
// JSON maps (bridged), so a JSON round trip handles both.
func decodePayload(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
