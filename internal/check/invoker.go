// Package check runs one monitoring plugin against one target.
//
// The plugin is started through /bin/sh as
//
//	<plugin> <host flag> <target> [args]
//
// where plugin and target are quoted and args are appended verbatim, so
// "-w 100,20% -c 500,60%" reaches the plugin as four arguments. Stdout and
// stderr are captured into one buffer.
//
// Invoke never fails: a plugin exiting with non-zero code is a normal outcome
// (CRITICAL checks exit 2), and a plugin which can't be started or which
// exceeds its timeout produces an UNKNOWN shaped text instead, so a single
// broken target degrades only its own status.
package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/CZERTAINLY/checkpar/internal/model"
)

const (
	DefaultShell    = "/bin/sh"
	DefaultHostFlag = "-H"
	// waitDelay bounds how long Wait waits for the output pipes after the
	// process was killed.
	waitDelay = time.Second
)

var ErrTimeout = errors.New("check timed out")

// Command is an immutable invocation template shared by all workers.
type Command struct {
	Plugin   string
	HostFlag string
	Args     string   // appended verbatim, empty or blank means no arguments
	Env      []string // key=value added to the inherited environment
	Shell    string   // interprets the command line, DefaultShell when empty
	Timeout  time.Duration
}

// Line returns the shell command line used for target.
func (c Command) Line(target string) string {
	hostFlag := c.HostFlag
	if hostFlag == "" {
		hostFlag = DefaultHostFlag
	}
	line := quote(c.Plugin) + " " + quote(hostFlag) + " " + quote(target)
	if strings.TrimSpace(c.Args) != "" {
		line += " " + c.Args
	}
	return line
}

type Invoker struct {
	cmd   Command
	shell string
}

func NewInvoker(cmd Command) *Invoker {
	shell := cmd.Shell
	if shell == "" {
		shell = DefaultShell
	}
	return &Invoker{
		cmd:   cmd,
		shell: shell,
	}
}

// Invoke runs the check for job and blocks until it finishes, times out or
// ctx is cancelled. On cancellation the whole process group is killed and
// the result is marked Cancelled.
func (i *Invoker) Invoke(ctx context.Context, job model.Job) model.RawResult {
	res := model.RawResult{
		Job:      job,
		ExitCode: -1,
	}

	runCtx := ctx
	if i.cmd.Timeout == 0 {
		slog.WarnContext(ctx, "check has no timeout", "plugin", i.cmd.Plugin)
	} else {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.cmd.Timeout)
		defer cancel()
	}

	line := i.cmd.Line(job.Target)
	cmd := exec.CommandContext(runCtx, i.shell, "-c", line)
	if len(i.cmd.Env) > 0 {
		cmd.Env = append(os.Environ(), i.cmd.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	slog.DebugContext(ctx, "starting check", "line", line)
	res.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		res.Stopped = time.Now().UTC()
		res.Err = err
		res.Text = fmt.Sprintf("UNKNOWN - cannot execute %s: %v", i.cmd.Plugin, err)
		return res
	}

	err := cmd.Wait()
	res.Stopped = time.Now().UTC()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() != nil:
		res.Cancelled = true
		res.Err = ctx.Err()
		res.Text = "UNKNOWN - check cancelled"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Err = fmt.Errorf("%w after %s", ErrTimeout, i.cmd.Timeout)
		res.Text = fmt.Sprintf("UNKNOWN - check timed out after %s", i.cmd.Timeout)
	default:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			res.Err = err
		}
		res.Text = strings.TrimRight(buf.String(), "\r\n")
	}
	return res
}

// quote returns s as a single shell word.
func quote(s string) string {
	if s != "" && strings.IndexFunc(s, unsafeRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func unsafeRune(r rune) bool {
	switch {
	case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		return false
	case strings.ContainsRune("-_./:@%+=,", r):
		return false
	}
	return true
}
