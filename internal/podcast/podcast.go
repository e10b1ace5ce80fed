// Package podcast produces audio episodes: the LLM writes a segmented
// host/guest script for a topic, each segment is synthesized with the
// role's voice, and the audio files land in the output directory next
// to an episode.json manifest describing them.
package podcast

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/llm"
	"github.com/meshwork-labs/meshd/internal/logging"
)

// ManifestName is the manifest file written into each episode dir.
const ManifestName = "episode.json"

const (
	defaultMaxSegments = 24
	roleHost           = "host"
	roleGuest          = "guest"
)

// ErrEmptyTopic rejects blank episode requests.
var ErrEmptyTopic = errors.New("podcast: empty topic")

// ErrNoSegments means the model produced nothing usable.
var ErrNoSegments = errors.New("podcast: script has no usable segments")

const scriptPrompt = `Write a podcast script about: %s

Answer with a JSON array only, no surrounding prose. Each element is
{"role": "host" or "guest", "text": "what they say"}. Keep it to at
most %d turns, alternating naturally between host and guest.`

// Segment is one synthesized turn of the episode.
type Segment struct {
	Index int    `json:"index"`
	Role  string `json:"role"`
	Voice string `json:"voice"`
	Text  string `json:"text"`
	File  string `json:"file"`
	Bytes int64  `json:"bytes"`
	// DurationSecs is derived from the WAV header; 0 when the backend
	// returns a format the producer cannot time.
	DurationSecs float64 `json:"duration_secs"`
}

// Episode is the manifest written alongside the audio files.
type Episode struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	Dir       string    `json:"dir"`
	Segments  []Segment `json:"segments"`
}

type scriptTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// TextGenerator is the slice of the LLM client the producer needs.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error)
}

// Synthesizer is the slice of the TTS client the producer needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Producer turns topics into episodes.
type Producer struct {
	cfg config.PodcastConfig
	llm TextGenerator
	tts Synthesizer
	log *logging.Logger
}

// NewProducer builds a producer from config.
func NewProducer(cfg config.PodcastConfig, gen TextGenerator, syn Synthesizer, log *logging.Logger) (*Producer, error) {
	if gen == nil || syn == nil {
		return nil, fmt.Errorf("podcast: missing generator or synthesizer")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("podcast: no output directory configured")
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = defaultMaxSegments
	}
	return &Producer{cfg: cfg, llm: gen, tts: syn, log: log.Named("podcast")}, nil
}

// Episode produces one episode for the topic and returns its manifest.
func (p *Producer) Episode(ctx context.Context, topic string) (*Episode, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ErrEmptyTopic
	}

	script, err := p.llm.Generate(ctx, fmt.Sprintf(scriptPrompt, topic, p.cfg.MaxSegments))
	if err != nil {
		return nil, fmt.Errorf("podcast: generating script: %w", err)
	}

	turns, err := parseScript(script, p.cfg.MaxSegments)
	if err != nil {
		return nil, err
	}

	episode := &Episode{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Topic:     topic,
		CreatedAt: time.Now().UTC(),
	}
	episode.Dir = filepath.Join(p.cfg.OutputDir, episode.ID)
	if err := os.MkdirAll(episode.Dir, 0755); err != nil {
		return nil, fmt.Errorf("podcast: creating %s: %w", episode.Dir, err)
	}

	for i, turn := range turns {
		voice := p.voiceFor(turn.Role)
		audio, err := p.tts.Synthesize(ctx, turn.Text, voice)
		if err != nil {
			return nil, fmt.Errorf("podcast: synthesizing segment %d: %w", i, err)
		}

		name := fmt.Sprintf("%03d-%s.wav", i, turn.Role)
		path := filepath.Join(episode.Dir, name)
		if err := os.WriteFile(path, audio, 0644); err != nil {
			return nil, fmt.Errorf("podcast: writing %s: %w", path, err)
		}

		episode.Segments = append(episode.Segments, Segment{
			Index:        i,
			Role:         turn.Role,
			Voice:        voice,
			Text:         turn.Text,
			File:         name,
			Bytes:        int64(len(audio)),
			DurationSecs: wavDuration(audio),
		})
	}

	manifest, err := json.MarshalIndent(episode, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("podcast: encoding manifest: %w", err)
	}
	manifestPath := filepath.Join(episode.Dir, ManifestName)
	if err := os.WriteFile(manifestPath, manifest, 0644); err != nil {
		return nil, fmt.Errorf("podcast: writing manifest: %w", err)
	}

	p.log.Info(ctx, "episode produced",
		zap.String("id", episode.ID),
		zap.String("topic", topic),
		zap.Int("segments", len(episode.Segments)))
	return episode, nil
}

// wavDuration reads a RIFF/WAVE header and returns the play time of
// the data chunk. Anything unparseable yields 0.
func wavDuration(b []byte) float64 {
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return 0
	}

	var byteRate uint32
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := binary.LittleEndian.Uint32(b[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if body+12 <= len(b) {
				byteRate = binary.LittleEndian.Uint32(b[body+8 : body+12])
			}
		case "data":
			if byteRate == 0 {
				return 0
			}
			n := int(size)
			if body+n > len(b) {
				n = len(b) - body
			}
			return float64(n) / float64(byteRate)
		}

		off = body + int(size)
		// Chunks are word aligned.
		if size%2 == 1 {
			off++
		}
	}
	return 0
}

func (p *Producer) voiceFor(role string) string {
	if role == roleGuest && p.cfg.GuestVoice != "" {
		return p.cfg.GuestVoice
	}
	return p.cfg.HostVoice
}

// parseScript extracts the JSON turn array from the model's answer.
// Models wrap JSON in prose and code fences often enough that the
// parser just takes everything between the first '[' and the last ']'.
func parseScript(script string, maxSegments int) ([]scriptTurn, error) {
	start := strings.Index(script, "[")
	end := strings.LastIndex(script, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array in script", ErrNoSegments)
	}

	var turns []scriptTurn
	if err := json.Unmarshal([]byte(script[start:end+1]), &turns); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSegments, err)
	}

	out := make([]scriptTurn, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		if turn.Role != roleGuest {
			turn.Role = roleHost
		}
		out = append(out, turn)
		if len(out) == maxSegments {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoSegments
	}
	return out, nil
}
