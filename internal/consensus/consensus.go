// Package consensus fans a prompt out to mesh agents and picks a
// winner. Selection is deliberately simple: the longest non-empty
// output wins with a fixed confidence of 0.8. Change proposals are
// judged on a confidence ladder rather than by code analysis.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/mesh"
)

// EngineID is the mesh identity consensus requests originate from.
const EngineID = "consensus-engine"

// selectedConfidence is the fixed confidence assigned to a winner.
const selectedConfidence = 0.8

// ErrNoParticipants rejects proposals with an empty participant list.
var ErrNoParticipants = errors.New("consensus: no participants")

// ErrNoOutputs means every participant failed or answered empty.
var ErrNoOutputs = errors.New("consensus: no usable outputs")

// Prompt is the request payload sent to each participant.
type Prompt struct {
	Prompt string `json:"prompt"`
}

// Proposal is one participant's answer.
type Proposal struct {
	AgentID string `json:"agent_id"`
	Output  string `json:"output,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Result is the outcome of one consensus round.
type Result struct {
	Winner     string     `json:"winner"`
	Output     string     `json:"output"`
	Confidence float64    `json:"confidence"`
	Considered []Proposal `json:"considered"`
	Failed     int        `json:"failed"`
}

// Requester is the slice of the mesh the engine needs.
type Requester interface {
	Request(ctx context.Context, from, to string, payload any) (*mesh.Message, error)
}

// Engine runs consensus rounds over mesh agents.
type Engine struct {
	mesh Requester
	log  *logging.Logger
}

// NewEngine builds an engine on the given mesh.
func NewEngine(m Requester, log *logging.Logger) *Engine {
	return &Engine{mesh: m, log: log.Named("consensus")}
}

// Propose sends the prompt to every participant concurrently and
// selects the longest non-empty output. Individual participant
// failures are recorded, not fatal; the round fails only when nobody
// produces output.
func (e *Engine) Propose(ctx context.Context, prompt string, participants []string) (*Result, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	proposals := make([]Proposal, len(participants))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for i, id := range participants {
		i, id := i, id
		group.Go(func() error {
			p := Proposal{AgentID: id}
			resp, err := e.mesh.Request(groupCtx, EngineID, id, &Prompt{Prompt: prompt})
			if err != nil {
				p.Err = err.Error()
			} else if out, rerr := extractOutput(resp.Payload); rerr != nil {
				p.Err = rerr.Error()
			} else {
				p.Output = out
			}

			mu.Lock()
			proposals[i] = p
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Considered: proposals, Confidence: selectedConfidence}
	for _, p := range proposals {
		if p.Err != "" || p.Output == "" {
			result.Failed++
			continue
		}
		if len(p.Output) > len(result.Output) {
			result.Winner = p.AgentID
			result.Output = p.Output
		}
	}

	if result.Winner == "" {
		return nil, fmt.Errorf("%w: %d participants, %d failed", ErrNoOutputs, len(participants), result.Failed)
	}

	e.log.Debug(ctx, "consensus reached",
		zap.String("winner", result.Winner),
		zap.Int("participants", len(participants)),
		zap.Int("failed", result.Failed))
	return result, nil
}

// extractOutput pulls a textual answer out of a response payload.
// Participants answer with a plain string, {"output": ...}, or
// {"error": ...}.
func extractOutput(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case map[string]string:
		if msg, ok := v["error"]; ok {
			return "", errors.New(msg)
		}
		return v["output"], nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("unusable payload: %w", err)
	}
	var out struct {
		Output string `json:"output"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("unusable payload: %w", err)
	}
	if out.Error != "" {
		return "", errors.New(out.Error)
	}
	return out.Output, nil
}
