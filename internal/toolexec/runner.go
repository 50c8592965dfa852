// Package toolexec wraps external command invocation for the media
// operations. Commands run under the caller's context, so cooperative
// cancellation and the per-job watchdog both translate into killing
// the subprocess.
package toolexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// stderrTailLimit bounds the diagnostic text kept from a failed tool.
const stderrTailLimit = 2048

// killWaitDelay bounds how long Wait may block on lingering pipe
// readers after the process group has been killed.
const killWaitDelay = 10 * time.Second

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string

	// OnLine receives every output line (stdout and stderr merged) as
	// the process emits it. Tool adapters parse progress out of these.
	OnLine func(line string)
}

// CommandError reports a failed invocation with a bounded stderr tail.
type CommandError struct {
	Name       string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Name, e.ExitCode)
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner abstracts process execution so workers can be tested with a
// fake that never forks.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

type execRunner struct{}

// NewRunner returns the production os/exec backed runner.
func NewRunner() Runner { return &execRunner{} }

func (r *execRunner) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...) //nolint:gosec // args built by adapters, never raw user input
	c.Dir = cmd.Dir

	// Tools fork: yt-dlp spawns ffmpeg for merging. Killing only the
	// direct child would leave grandchildren holding the output pipes
	// open, so cancellation kills the whole process group.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
	c.WaitDelay = killWaitDelay

	stdout, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	var tail tailBuffer
	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Name, err)
	}
	log.Debug().Str("tool", cmd.Name).Strs("args", cmd.Args).Msg("tool started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, cmd.OnLine, nil)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, cmd.OnLine, &tail)
	}()
	wg.Wait()

	if err := c.Wait(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &CommandError{
			Name:       cmd.Name,
			ExitCode:   exitCode,
			StderrTail: tail.String(),
			Err:        err,
		}
	}
	return nil
}

// scanLines feeds output lines to the callback. ffmpeg rewrites its
// status line with carriage returns, so both \n and \r terminate a line.
func scanLines(r interface{ Read([]byte) (int, error) }, onLine func(string), tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if tail != nil {
			tail.append(line)
		}
		if onLine != nil {
			onLine(line)
		}
	}
}

func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last stderrTailLimit bytes of appended lines.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > stderrTailLimit {
		t.buf = t.buf[len(t.buf)-stderrTailLimit:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// LookPath reports whether the named tool is resolvable. Used by the
// startup dependency check.
func LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return nil
}
