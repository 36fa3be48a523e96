// Package shell runs privileged helper commands. The orchestration core only
// defines command intent and expected output shape; this is the one place
// that actually execs.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes a command and returns its stdout.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Run(ctx context.Context, name string, args ...string) error
}

// Exec runs commands directly, optionally elevated through su.
type Exec struct {
	log *slog.Logger

	// Elevate wraps every command in `su -c`.
	Elevate bool
}

// NewExec creates a command runner.
func NewExec(elevate bool) *Exec {
	return &Exec{
		log:     slog.Default().With("component", "shell"),
		Elevate: elevate,
	}
}

func (e *Exec) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if e.Elevate {
		// Each argument must survive su's re-parse as a single word, or a
		// script passed as one argument splinters into several.
		words := make([]string, 0, len(args)+1)
		for _, w := range append([]string{name}, args...) {
			words = append(words, quoteArg(w))
		}
		return exec.CommandContext(ctx, "su", "-c", strings.Join(words, " "))
	}
	return exec.CommandContext(ctx, name, args...)
}

// quoteArg single-quotes s for POSIX sh unless it is already a plain word.
func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$`|&;<>()*?[]{}~#=%!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Output runs the command and returns stdout. Stderr is folded into the
// error on failure.
func (e *Exec) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := e.command(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.DebugContext(ctx, "Running command", "cmd", name, "args", args)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Run runs the command discarding stdout.
func (e *Exec) Run(ctx context.Context, name string, args ...string) error {
	_, err := e.Output(ctx, name, args...)
	return err
}
