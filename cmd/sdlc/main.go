// Package main implements the sdlc CLI for manual operations against the
// sdlcd pipeline daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the sdlcd HTTP server
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
	Use:   "sdlc",
	Short: "CLI for sdlcd pipeline operations",
	Long: `sdlc is a command-line interface for the sdlcd pipeline daemon.
It starts pipeline runs against tickets, resumes interrupted runs, and
inspects run state, checkpoint history, and live events.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "sdlcd server URL")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(ticketCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check sdlcd server health",
	Long: `Check the health status of the sdlcd HTTP server.

Examples:
  # Check health
  sdlc health

  # Check health on a different server
  sdlc health --server http://localhost:9191`,
	RunE: runHealth,
}

// agentsCmd lists the configured capability provider and stages
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show the configured agent provider and pipeline stages",
	Long: `Show the daemon's configured capability provider and the pipeline
stages it registered, in execution order.

Examples:
  # List agents
  sdlc agents`,
	RunE: runAgents,
}

// ErrorResponse matches internal/http/server.go ErrorResponse
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// AgentsResponse matches internal/http/tickets.go AgentsResponse
type AgentsResponse struct {
	Provider string   `json:"provider"`
	Stages   []string `json:"stages"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/healthz", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

// runAgents handles the agents command
func runAgents(cmd *cobra.Command, args []string) error {
	var agentsResp AgentsResponse
	if err := getJSON(fmt.Sprintf("%s/api/v1/agents", serverURL), &agentsResp); err != nil {
		return err
	}

	fmt.Printf("Provider: %s\n", agentsResp.Provider)
	fmt.Printf("Stages:   %s\n", strings.Join(agentsResp.Stages, " -> "))

	return nil
}

// getJSON performs a GET request and decodes the JSON response into out.
func getJSON(url string, out any) error {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// postJSON performs a POST request with an optional JSON body and decodes
// the JSON response into out. A nil reqBody sends no body.
func postJSON(url string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		reqJSON, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqJSON)
	}

	httpReq, err := http.NewRequest("POST", url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// decodeResponse checks the response status and decodes the body into out.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
