// Package agent runs Author and Implementer turns as Claude CLI
// subprocesses. All exchange with the worker happens through the
// filesystem: the prompt names the directories to read and write and
// the signal file to finish with.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/role"
)

var sessionNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ClaudeWorker invokes the Claude CLI for one role turn.
type ClaudeWorker struct {
	// Command is the CLI binary, normally "claude".
	Command string
	// Model is passed through when set.
	Model string
	// Workspace is the subprocess working directory.
	Workspace string
	// LogsDir receives one streamed output log per invocation.
	LogsDir string
	// RunID scopes the deterministic session IDs.
	RunID string
}

// NewClaudeWorker builds a subprocess worker.
func NewClaudeWorker(command, model, workspace, logsDir, runID string) *ClaudeWorker {
	if command == "" {
		command = "claude"
	}
	return &ClaudeWorker{Command: command, Model: model, Workspace: workspace, LogsDir: logsDir, RunID: runID}
}

// SessionID is deterministic per run, role and iteration so a crashed
// invocation can be resumed under the same session.
func (w *ClaudeWorker) SessionID(r role.Role, iteration int) string {
	key := fmt.Sprintf("%s/%s/%d", w.RunID, r, iteration)
	return uuid.NewSHA1(sessionNamespace, []byte(key)).String()
}

// Invoke runs the CLI to completion. The worker process is expected to
// write its artifacts and then the signal file named in the view; the
// caller waits on that file separately.
func (w *ClaudeWorker) Invoke(ctx context.Context, view role.View) error {
	prompt, iteration, err := BuildPrompt(view)
	if err != nil {
		return err
	}

	args := []string{
		"--print",
		"--dangerously-skip-permissions",
		"--session-id", w.SessionID(view.For(), iteration),
	}
	if w.Model != "" {
		args = append(args, "--model", w.Model)
	}
	args = append(args, "-p", prompt)

	cmd := exec.CommandContext(ctx, w.Command, args...)
	cmd.Dir = w.Workspace

	logPath := filepath.Join(w.LogsDir, fmt.Sprintf("%s-iter-%d.log", view.For(), iteration))
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("creating agent log: %w", err)
	}
	defer logFile.Close()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", w.Command, err)
	}

	streamToLog(logFile, stdout, stderr)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s turn: %w", w.Command, view.For(), err)
	}
	return nil
}

// streamToLog copies both pipes line by line, syncing after each line
// so `tail -f` on the log shows live progress.
func streamToLog(logFile *os.File, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	readLines := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			mu.Lock()
			logFile.WriteString(scanner.Text() + "\n")
			logFile.Sync()
			mu.Unlock()
		}
	}

	wg.Add(2)
	go readLines(stdout)
	go readLines(stderr)
	wg.Wait()
}
