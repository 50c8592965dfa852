package toolexec

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func collectLines(t *testing.T, input string) []string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanCRLF)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestScanCRLFSplitsOnCarriageReturn(t *testing.T) {
	lines := collectLines(t, "frame=1\rframe=2\rframe=3\nout_time_ms=100\n")
	want := []string{"frame=1", "frame=2", "frame=3", "out_time_ms=100"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("line %d: got %q, want %q", i, lines[i], w)
		}
	}
}

func TestScanCRLFNoTrailingNewline(t *testing.T) {
	lines := collectLines(t, "only line")
	if len(lines) != 1 || lines[0] != "only line" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestTailBufferBounded(t *testing.T) {
	var tail tailBuffer
	long := strings.Repeat("x", 600)
	for i := 0; i < 10; i++ {
		tail.append(long)
	}
	got := tail.String()
	if len(got) > stderrTailLimit {
		t.Fatalf("tail grew past limit: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, long) {
		t.Fatalf("tail lost the most recent line")
	}
}

func TestTailBufferConcurrentAppend(t *testing.T) {
	var tail tailBuffer
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tail.append("stderr noise")
			}
		}()
	}
	wg.Wait()
	if tail.String() == "" {
		t.Fatalf("expected tail content after concurrent appends")
	}
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{Name: "ffmpeg", ExitCode: 1, StderrTail: "Invalid data found"}
	msg := err.Error()
	if !strings.Contains(msg, "ffmpeg") || !strings.Contains(msg, "exit 1") || !strings.Contains(msg, "Invalid data found") {
		t.Fatalf("unexpected message: %q", msg)
	}

	inner := errors.New("exit status 1")
	wrapped := &CommandError{Name: "yt-dlp", ExitCode: 1, Err: inner}
	if !errors.Is(wrapped, inner) {
		t.Fatalf("CommandError must unwrap to the underlying exec error")
	}
}

func TestRunnerCollectsOutput(t *testing.T) {
	r := NewRunner()
	var mu sync.Mutex
	var lines []string
	err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo one; echo two 1>&2"},
		OnLine: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(lines, "|")
	if !strings.Contains(joined, "one") || !strings.Contains(joined, "two") {
		t.Fatalf("expected both streams in callback, got %v", lines)
	}
}

func TestRunnerFailureCarriesExitCodeAndStderr(t *testing.T) {
	r := NewRunner()
	err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo broken pipe 1>&2; exit 3"},
	})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.StderrTail, "broken pipe") {
		t.Fatalf("stderr tail lost diagnostics: %q", cmdErr.StderrTail)
	}
}

func TestRunnerKilledByContext(t *testing.T) {
	r := NewRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 30"}})
	if err == nil {
		t.Fatalf("expected error after context deadline")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("subprocess outlived its context")
	}
}

func TestRunnerKillsForkedChildren(t *testing.T) {
	r := NewRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The forked sleep inherits the output pipes; if only the shell
	// dies, Run blocks until the orphan exits on its own.
	start := time.Now()
	err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 30 & wait"}})
	if err == nil {
		t.Fatalf("expected error after context deadline")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("forked child held the runner for %v", elapsed)
	}
}

func TestLookPath(t *testing.T) {
	if err := LookPath("sh"); err != nil {
		t.Fatalf("sh should resolve: %v", err)
	}
	if err := LookPath("definitely-not-a-real-tool-xyz"); err == nil {
		t.Fatalf("expected lookup failure")
	}
}
