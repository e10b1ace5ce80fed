package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/mesh"
)

func newTestMesh(t *testing.T) *mesh.Meshwork {
	t.Helper()
	m := mesh.New(mesh.Options{
		Logger:         logging.NewNopLogger(),
		RequestTimeout: 2 * time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// answerWith registers an agent that replies to every request with a
// fixed output string.
func answerWith(t *testing.T, m *mesh.Meshwork, id, output string) {
	t.Helper()
	require.NoError(t, m.Register(id, func(ctx context.Context, msg *mesh.Message) (*mesh.Message, error) {
		return msg.Respond(map[string]string{"output": output}), nil
	}))
}

func TestPropose_LongestOutputWins(t *testing.T) {
	m := newTestMesh(t)
	answerWith(t, m, "terse", "short")
	answerWith(t, m, "verbose", "a considerably longer answer")
	answerWith(t, m, "medium", "middling reply")

	e := NewEngine(m, logging.NewNopLogger())
	res, err := e.Propose(context.Background(), "explain", []string{"terse", "verbose", "medium"})
	require.NoError(t, err)

	assert.Equal(t, "verbose", res.Winner)
	assert.Equal(t, "a considerably longer answer", res.Output)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Len(t, res.Considered, 3)
	assert.Zero(t, res.Failed)
}

func TestPropose_ToleratesPartialFailure(t *testing.T) {
	m := newTestMesh(t)
	answerWith(t, m, "ok", "an answer")
	require.NoError(t, m.Register("broken", func(ctx context.Context, msg *mesh.Message) (*mesh.Message, error) {
		return msg.Respond(map[string]string{"error": "model offline"}), nil
	}))

	e := NewEngine(m, logging.NewNopLogger())
	res, err := e.Propose(context.Background(), "explain", []string{"ok", "broken", "missing"})
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Winner)
	assert.Equal(t, 2, res.Failed)
}

func TestPropose_AllFailed(t *testing.T) {
	m := newTestMesh(t)

	e := NewEngine(m, logging.NewNopLogger())
	_, err := e.Propose(context.Background(), "explain", []string{"missing-a", "missing-b"})
	assert.ErrorIs(t, err, ErrNoOutputs)
}

func TestPropose_NoParticipants(t *testing.T) {
	e := NewEngine(newTestMesh(t), logging.NewNopLogger())
	_, err := e.Propose(context.Background(), "explain", nil)
	assert.ErrorIs(t, err, ErrNoParticipants)
}

func TestExtractOutput(t *testing.T) {
	out, err := extractOutput("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = extractOutput(map[string]any{"output": "structured"})
	require.NoError(t, err)
	assert.Equal(t, "structured", out)

	_, err = extractOutput(map[string]string{"error": "nope"})
	assert.ErrorContains(t, err, "nope")
}

func TestVerifyChange_Ladder(t *testing.T) {
	base := ChangeProposal{Path: "main.go", Diff: "-a\n+b"}

	cases := []struct {
		confidence float64
		want       Verdict
	}{
		{0.95, VerdictApprove},
		{0.9, VerdictApprove},
		{0.8, VerdictReview},
		{0.7, VerdictReview},
		{0.6, VerdictHold},
		{0.5, VerdictHold},
		{0.4, VerdictReject},
		{0, VerdictReject},
	}
	for _, tc := range cases {
		p := base
		p.Confidence = tc.confidence
		assert.Equal(t, tc.want, VerifyChange(p), "confidence %v", tc.confidence)
	}
}

func TestVerifyChange_RejectsIncomplete(t *testing.T) {
	assert.Equal(t, VerdictReject, VerifyChange(ChangeProposal{Confidence: 1.0}))
	assert.Equal(t, VerdictReject, VerifyChange(ChangeProposal{Path: "a.go", Confidence: 1.0}))
}
