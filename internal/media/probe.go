package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediaforge/internal/toolexec"
)

// Duration asks ffprobe for the container duration of a media file.
// Operations use it to turn ffmpeg's processed-time reports into a
// percentage; a probe failure is not fatal, the job just runs without
// percent progress.
func (t Tools) Duration(ctx context.Context, inputPath string) (time.Duration, error) {
	// OnLine fires from both the stdout and stderr scanner goroutines,
	// so collection is mutex-guarded and parsing happens after Run.
	var mu sync.Mutex
	var lines []string
	cmd := toolexec.Command{
		Name: t.FFprobe,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			inputPath,
		},
		OnLine: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	}
	if err := t.Runner.Run(ctx, cmd); err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, line := range lines {
		secs, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second)), nil
		}
	}
	return 0, fmt.Errorf("probe duration: no duration in ffprobe output %q", strings.Join(lines, " "))
}
