// Package agent defines the agent model: the Agent interface every mesh
// participant implements, per-agent status reporting, and the registry
// of declarative agent type specifications.
package agent

import (
	"context"
	"time"
)

// State describes an agent's lifecycle position.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

// Agent is a named participant on the mesh with a periodic work cycle.
type Agent interface {
	// ID is the unique mesh identity, e.g. "bug-predictor".
	ID() string
	// Type names the agent's specification in the type registry.
	Type() string
	// Capabilities lists what the agent can be asked to do.
	Capabilities() []string
	// Init prepares the agent; called once before the first cycle.
	Init(ctx context.Context) error
	// RunCycle performs one unit of autonomous work.
	RunCycle(ctx context.Context) (*CycleReport, error)
	// Status returns the agent's current state snapshot.
	Status() Status
}

// Status is a point-in-time snapshot of one agent.
type Status struct {
	AgentID   string    `json:"agent_id"`
	Type      string    `json:"type"`
	State     State     `json:"state"`
	CyclesRun uint64    `json:"cycles_run"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// CycleReport describes what one RunCycle produced.
type CycleReport struct {
	AgentID  string         `json:"agent_id"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration"`
	Results  []SkillOutcome `json:"results,omitempty"`
}

// SkillOutcome is one skill execution inside a cycle.
type SkillOutcome struct {
	Skill      string `json:"skill"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}
