// Package main implements the meshctl CLI for operating a running
// meshd daemon over its HTTP API.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the meshd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "CLI for meshd daemon operations",
	Long: `meshctl is a command-line interface for a running meshd daemon.
It queries daemon and fleet status, drives speech synthesis, chat,
consensus rounds, code scans, and conversation recall, and produces
podcast episodes.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9000", "meshd server URL")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(consensusCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(podcastCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := getJSON("/api/status", &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents [id]",
	Short: "List fleet agents or show one agent",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/agents"
		if len(args) == 1 {
			path += "/" + args[0]
			var out map[string]any
			if err := getJSON(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		}
		var out []map[string]any
		if err := getJSON(path, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var speakVoice string

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Synthesize speech and write audio to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Audio string `json:"audio"`
			Bytes int    `json:"bytes"`
		}
		req := map[string]string{"text": args[0], "voice": speakVoice}
		if err := postJSON("/api/speak", req, &out); err != nil {
			return err
		}
		audio, err := base64.StdEncoding.DecodeString(out.Audio)
		if err != nil {
			return fmt.Errorf("decoding audio: %w", err)
		}
		if _, err := os.Stdout.Write(audio); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\n[meshctl] %d audio bytes\n", out.Bytes)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a prompt to the daemon's LLM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Reply string `json:"reply"`
		}
		if err := postJSON("/api/chat", map[string]string{"prompt": args[0]}, &out); err != nil {
			return err
		}
		fmt.Println(out.Reply)
		return nil
	},
}

var consensusParticipants []string

var consensusCmd = &cobra.Command{
	Use:   "consensus <prompt>",
	Short: "Run a consensus round over mesh agents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"prompt":       args[0],
			"participants": consensusParticipants,
		}
		var out map[string]any
		if err := postJSON("/api/consensus", req, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var scanPatterns []string

var scanCmd = &cobra.Command{
	Use:   "scan <root>",
	Short: "Scan a directory for patterns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"root": args[0], "patterns": scanPatterns}
		var out map[string]any
		if err := postJSON("/api/scan", req, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var recallK int

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search past conversations semantically",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/recall?q=%s&k=%d", url.QueryEscape(args[0]), recallK)
		var out []map[string]any
		if err := getJSON(path, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	speakCmd.Flags().StringVar(&speakVoice, "voice", "", "voice to synthesize with")
	consensusCmd.Flags().StringSliceVar(&consensusParticipants, "participants", nil, "mesh agent IDs to ask")
	scanCmd.Flags().StringSliceVar(&scanPatterns, "patterns", []string{"TODO", "FIXME"}, "regex patterns to scan for")
	recallCmd.Flags().IntVar(&recallK, "k", 5, "number of results")
}

func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
