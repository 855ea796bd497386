package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

// apply dispatches one modification. The bool reports whether the resource
// was actually changed; idempotent re-application returns false.
func (e *Executor) apply(ctx context.Context, mod models.Modification) (bool, error) {
	switch mod.Kind {
	case models.ModInsertText:
		return insertText(mod.Resource, mod.Content)
	case models.ModReplaceText:
		return replaceText(mod.Resource, mod.Find, mod.Replace)
	case models.ModCreateResource:
		return createResource(mod.Resource, mod.Content)
	case models.ModRunCommand:
		return e.runCommand(ctx, mod)
	default:
		return false, fmt.Errorf("unsupported modification kind %q", mod.Kind)
	}
}

// insertText appends content to the resource. Content already present
// anywhere in the file makes this a no-op.
func insertText(path, content string) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	if strings.Contains(string(existing), content) {
		return false, nil
	}

	updated := string(existing)
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += content

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(path, []byte(updated), 0o644)
}

// replaceText swaps find for replace. Find already gone with replace present
// means the patch was applied earlier and this is a no-op.
func replaceText(path, find, replace string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	content := string(data)

	if !strings.Contains(content, find) {
		if strings.Contains(content, replace) {
			return false, nil
		}
		return false, fmt.Errorf("pattern %q not found in %s", find, path)
	}

	updated := strings.ReplaceAll(content, find, replace)
	return true, os.WriteFile(path, []byte(updated), 0o644)
}

// createResource materialises a missing file (or directory, for paths with a
// trailing separator) with a minimal template. Existing resources are left
// untouched.
func createResource(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if strings.HasSuffix(path, string(os.PathSeparator)) || content == "" && filepath.Ext(path) == "" {
		return true, os.MkdirAll(path, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(path, []byte(content), 0o644)
}

// runCommand invokes an external command with a bounded timeout, capturing
// combined output and the exit code.
func (e *Executor) runCommand(ctx context.Context, mod models.Modification) (bool, error) {
	if len(mod.Command) == 0 {
		return false, fmt.Errorf("empty command")
	}
	timeout := mod.Timeout
	if timeout <= 0 {
		timeout = e.commandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, mod.Command[0], mod.Command[1:]...)
	start := time.Now()
	output, err := cmd.CombinedOutput()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return false, fmt.Errorf("command %q timed out after %s", mod.Command[0], timeout)
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return false, fmt.Errorf("command %q exited %d after %s: %s",
			mod.Command[0], exitCode, time.Since(start).Round(time.Millisecond), truncateOutput(output))
	}
	return true, nil
}

func truncateOutput(out []byte) string {
	const max = 512
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
