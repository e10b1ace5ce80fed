package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshwork-labs/meshd/internal/cache"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/llm"
	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/podcast"
	"github.com/meshwork-labs/meshd/internal/tts"
)

var (
	podcastConfig string
	podcastOutDir string
)

// podcastCmd drives the episode pipeline locally. It talks to the LLM
// and TTS backends directly rather than through a running daemon, so
// episodes can be produced on machines that only have the CLI.
var podcastCmd = &cobra.Command{
	Use:   "podcast <topic>",
	Short: "Produce a podcast episode for a topic",
	Long: `Generates a two-voice script for the topic, synthesizes each
turn, and writes the audio segments plus an episode.json manifest under
the configured output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithFile(podcastConfig)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if podcastOutDir != "" {
			cfg.Podcast.OutputDir = podcastOutDir
		}
		if cfg.Podcast.OutputDir == "" {
			cfg.Podcast.OutputDir = "episodes"
		}

		log, err := logging.NewLogger(&cfg.Logging, nil)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer log.Sync() //nolint:errcheck

		cch := cache.New(cfg.Cache, log, nil)
		defer cch.Close()

		gen, err := llm.New(cfg.LLM, cch, log)
		if err != nil {
			return fmt.Errorf("creating llm client: %w", err)
		}
		syn, err := tts.New(cfg.TTS, cch, log)
		if err != nil {
			return fmt.Errorf("creating tts client: %w", err)
		}

		producer, err := podcast.NewProducer(cfg.Podcast, gen, syn, log)
		if err != nil {
			return err
		}

		episode, err := producer.Episode(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "[meshctl] episode %s: %d segments\n", episode.ID, len(episode.Segments))
		fmt.Println(episode.Dir)
		return nil
	},
}

func init() {
	podcastCmd.Flags().StringVar(&podcastConfig, "config", "", "path to meshd config file")
	podcastCmd.Flags().StringVar(&podcastOutDir, "output", "", "override episode output directory")
}
