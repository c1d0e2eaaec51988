// File: internal/executor/command.go
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

const truncatedNotice = "\n<output clipped: response exceeded the size limit>"

// runCommand executes a shell command in its own process group with a
// timeout. A timed-out command gets SIGTERM, then SIGKILL one second later.
// All outcomes, including the timeout, are reported as data.
func (e *Executor) runCommand(ctx context.Context, req *schemas.ActionRequest) *schemas.ActionResult {
	command := schemas.StringParam(req, "command", "")
	cwd := schemas.StringParam(req, "cwd", "")
	timeout := e.cfg.CommandTimeout
	if secs := schemas.IntParam(req, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = cwd
	// Own process group so a timeout can reach the whole command tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return errorResult(req, fmt.Sprintf("start %q: %v", command, err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		timedOut = runCtx.Err() == context.DeadlineExceeded
		waitErr = e.terminate(cmd, done)
	}

	out := truncate(stdout.String(), e.cfg.MaxOutputBytes)
	errOut := truncate(stderr.String(), e.cfg.MaxOutputBytes)

	if timedOut {
		e.logger.Warn("Command timed out", zap.String("id", req.ID), zap.Duration("timeout", timeout))
		res := errorResult(req, fmt.Sprintf("command timed out after %s", timeout))
		res.Output = out
		return res
	}

	exitCode := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		return errorResult(req, fmt.Sprintf("wait %q: %v", command, waitErr))
	}

	output := out
	if errOut != "" {
		output = fmt.Sprintf("%s\n[stderr]\n%s", out, errOut)
	}
	if exitCode != 0 {
		res := errorResult(req, fmt.Sprintf("command exited with code %d", exitCode))
		res.Output = output
		return res
	}
	return okResult(req, output)
}

// terminate stops the command's process group with SIGTERM, escalating to
// SIGKILL when it has not exited within a second.
func (e *Executor) terminate(cmd *exec.Cmd, done <-chan error) error {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return <-done
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case waitErr := <-done:
		return waitErr
	case <-time.After(time.Second):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return <-done
	}
}

// truncate clips s to at most limit bytes, appending a notice when clipped.
// The cut backs up to a rune boundary so no multi-byte sequence is split.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + truncatedNotice
}
