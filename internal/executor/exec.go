package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// shellExec runs a shell command line through sh -c.
// Config: command (required), cwd, env (map of extra environment values).
func shellExec(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	command, err := requireString(config, "command")
	if err != nil {
		return nil, err
	}
	return runCommand(ctx, config, "sh", "-c", command)
}

// gitExec invokes git with the given arguments.
// Config: args (list of strings, required), cwd.
func gitExec(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	args, err := stringSlice(config, "args")
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("config key %q is required and must be a non-empty list", "args")
	}
	return runCommand(ctx, config, "git", args...)
}

// npmRun runs an npm script.
// Config: script (required), args (extra arguments after --), cwd.
func npmRun(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	script, err := requireString(config, "script")
	if err != nil {
		return nil, err
	}
	npmArgs := []string{"run", script}
	extra, err := stringSlice(config, "args")
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		npmArgs = append(npmArgs, "--")
		npmArgs = append(npmArgs, extra...)
	}
	return runCommand(ctx, config, "npm", npmArgs...)
}

// runCommand executes a subprocess in its own process group and drains both
// pipes concurrently before waiting, so output larger than the pipe buffer
// cannot deadlock the child.
func runCommand(ctx context.Context, config map[string]any, name string, args ...string) (any, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if cwd, ok := stringOpt(config, "cwd"); ok && cwd != "" {
		cmd.Dir = cwd
	}
	if env, ok := mapOpt(config, "env"); ok {
		cmd.Env = cmd.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	var wg sync.WaitGroup
	var stdout, stderr bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdout, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderr, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	output := map[string]any{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": cmd.ProcessState.ExitCode(),
	}
	if waitErr != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s failed: %w (stderr: %s)", name, waitErr, stderr.String())
		}
		return nil, fmt.Errorf("%s failed: %w", name, waitErr)
	}
	return output, nil
}
