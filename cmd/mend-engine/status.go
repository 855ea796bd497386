package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mendstack/mend-engine/internal/config"
	"github.com/mendstack/mend-engine/internal/services"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system health and the last completed cycle",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, err := resolveAdminAddr()
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/status", addr))
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("engine not reachable at %s: %w", addr, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &exitError{code: 1, err: fmt.Errorf("status request returned %s", resp.Status)}
	}

	var st services.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("decode status: %w", err)}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "health:          %s\n", st.Health)
	fmt.Fprintf(out, "trailing score:  %.1f\n", st.TrailingScore)
	fmt.Fprintf(out, "open incidents:  %d\n", st.OpenIncidents)
	fmt.Fprintf(out, "cycle p95:       %s\n", st.CycleP95)
	if st.LastCycle != nil {
		c := st.LastCycle
		fmt.Fprintf(out, "last cycle:      #%d at %s\n", c.Sequence, c.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  errors=%d repairs=%d/%d score=%.1f next=%s\n",
			c.ErrorsDetected, c.RepairsSucceeded, c.RepairsAttempted, c.ValidationScore, c.NextInterval)
	} else {
		fmt.Fprintln(out, "last cycle:      none completed yet")
	}
	return nil
}

// resolveAdminAddr picks the admin address from the flag or the config file.
func resolveAdminAddr() (string, error) {
	if adminAddr != "" {
		return adminAddr, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Server.Address, nil
}
