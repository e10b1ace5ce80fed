package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/meshwork-labs/meshd/internal/consensus"
	"github.com/meshwork-labs/meshd/internal/llm"
	"github.com/meshwork-labs/meshd/internal/skill"
	"github.com/meshwork-labs/meshd/internal/tts"
	"github.com/meshwork-labs/meshd/internal/vectorstore"
)

const (
	maxScanFindings = 1000
	defaultRecallK  = 5
	chatAgentID     = "chat"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type statusResponse struct {
	Service     string    `json:"service"`
	Started     time.Time `json:"started"`
	UptimeSecs  int64     `json:"uptime_secs"`
	MeshAgents  int       `json:"mesh_agents"`
	FleetAgents int       `json:"fleet_agents"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Service: "meshd"})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := statusResponse{
		Service:    "meshd",
		Started:    s.started,
		UptimeSecs: int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Mesh != nil {
		resp.MeshAgents = len(s.deps.Mesh.Agents())
	}
	if s.deps.Fleet != nil {
		resp.FleetAgents = s.deps.Fleet.Size()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAgents(c echo.Context) error {
	if s.deps.Fleet == nil {
		return unavailable(c, "fleet disabled")
	}
	return c.JSON(http.StatusOK, s.deps.Fleet.StatusAll())
}

func (s *Server) handleAgent(c echo.Context) error {
	if s.deps.Fleet == nil {
		return unavailable(c, "fleet disabled")
	}
	a, ok := s.deps.Fleet.Agent(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown agent"})
	}
	return c.JSON(http.StatusOK, a.Status())
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type speakResponse struct {
	Voice string `json:"voice"`
	Audio string `json:"audio"` // base64
	Bytes int    `json:"bytes"`
}

func (s *Server) handleSpeak(c echo.Context) error {
	if s.deps.TTS == nil {
		return unavailable(c, "tts disabled")
	}

	var req speakRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	audio, err := s.deps.TTS.Synthesize(c.Request().Context(), req.Text, req.Voice)
	if err != nil {
		if errors.Is(err, tts.ErrEmptyText) {
			return badRequest(c, "text is required")
		}
		var be *tts.BackendError
		if errors.As(err, &be) {
			return c.JSON(http.StatusBadGateway, errorResponse{Error: be.Error()})
		}
		return internalError(c, err)
	}

	return c.JSON(http.StatusOK, speakResponse{
		Voice: req.Voice,
		Audio: base64.StdEncoding.EncodeToString(audio),
		Bytes: len(audio),
	})
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(c echo.Context) error {
	if s.deps.LLM == nil {
		return unavailable(c, "llm disabled")
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	reply, err := s.deps.LLM.Generate(ctx, req.Prompt)
	if err != nil {
		if errors.Is(err, llm.ErrEmptyPrompt) {
			return badRequest(c, "prompt is required")
		}
		return internalError(c, err)
	}

	if s.deps.Conversation != nil {
		_, _ = s.deps.Conversation.Append(ctx, chatAgentID, "user", req.Prompt)
		_, _ = s.deps.Conversation.Append(ctx, chatAgentID, "assistant", reply)
	}

	return c.JSON(http.StatusOK, chatResponse{Reply: reply})
}

type consensusRequest struct {
	Prompt       string   `json:"prompt"`
	Participants []string `json:"participants"`
}

func (s *Server) handleConsensus(c echo.Context) error {
	if s.deps.Consensus == nil {
		return unavailable(c, "consensus disabled")
	}

	var req consensusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return badRequest(c, "prompt is required")
	}

	result, err := s.deps.Consensus.Propose(c.Request().Context(), req.Prompt, req.Participants)
	if err != nil {
		if errors.Is(err, consensus.ErrNoParticipants) {
			return badRequest(c, "participants are required")
		}
		if errors.Is(err, consensus.ErrNoOutputs) {
			return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type scanRequest struct {
	Root     string   `json:"root"`
	Patterns []string `json:"patterns"`
}

type scanResponse struct {
	Findings []skill.Finding `json:"findings"`
	Count    int             `json:"count"`
}

func (s *Server) handleScan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Root == "" {
		return badRequest(c, "root is required")
	}
	if len(req.Patterns) == 0 {
		return badRequest(c, "patterns are required")
	}

	scanner := skill.NewScanner()
	scanner.MaxFindings = maxScanFindings
	findings, err := scanner.Scan(c.Request().Context(), req.Root, req.Patterns)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, scanResponse{Findings: findings, Count: len(findings)})
}

func (s *Server) handleRecall(c echo.Context) error {
	if s.deps.Conversation == nil {
		return unavailable(c, "conversation log disabled")
	}

	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		return badRequest(c, "q is required")
	}

	k := defaultRecallK
	if raw := c.QueryParam("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return badRequest(c, "k must be a positive integer")
		}
		k = parsed
	}

	hits, err := s.deps.Conversation.Recall(c.Request().Context(), query, k)
	if err != nil {
		return internalError(c, err)
	}
	if hits == nil {
		hits = []vectorstore.Result{}
	}
	return c.JSON(http.StatusOK, hits)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func unavailable(c echo.Context, msg string) error {
	return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: msg})
}

func internalError(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
