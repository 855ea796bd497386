package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running engine to stop at the next safe point",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	addr, err := resolveAdminAddr()
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/api/v1/stop", addr), "application/json", nil)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("engine not reachable at %s: %w", addr, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return &exitError{code: 1, err: fmt.Errorf("stop request returned %s", resp.Status)}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "stop requested")
	return nil
}
