// ABOUTME: Launches an agent process and wires its stdio to a StdioClient
// ABOUTME: Stderr is drained into the logger so agent diagnostics are not lost

package acp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// SpawnOptions describes how to launch an agent binary.
type SpawnOptions struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
}

// processCloser closes the agent's stdin and waits for it to exit.
type processCloser struct {
	stdin io.Closer
	cmd   *exec.Cmd
}

func (p *processCloser) Close() error {
	_ = p.stdin.Close()
	return p.cmd.Wait()
}

// Spawn launches the agent process, performs the initialize handshake, and
// returns a ready client. The process is terminated when ctx is cancelled or
// the client is closed.
func Spawn(ctx context.Context, opts SpawnOptions, permissions PermissionHandler, logger *slog.Logger) (*StdioClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Cwd
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent %q: %w", opts.Command, err)
	}

	stderrLogger := logger.With("component", "agent-stderr", "command", opts.Command)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrLogger.Debug(scanner.Text())
		}
	}()

	client := NewStdioClient(stdin, stdout, &processCloser{stdin: stdin, cmd: cmd}, permissions, logger)
	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
