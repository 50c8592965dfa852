package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"mediaforge/internal/job"
	"mediaforge/internal/toolexec"
)

const (
	DirectionMP4ToMP3 = "mp4_to_mp3"
	DirectionMP3ToMP4 = "mp3_to_mp4"

	defaultParallel = 4
)

// ConvertOp converts a batch of uploaded files with ffmpeg. Individual
// file failures are tolerated as long as at least one file converts;
// the job fails only when nothing succeeds.
type ConvertOp struct {
	Tools     Tools
	Inputs    []string
	Direction string
	Bitrate   string // audio bitrate for mp4_to_mp3, e.g. "192k"
	Image     string // optional background image for mp3_to_mp4
	Parallel  int
}

func (op ConvertOp) Run(ctx context.Context, env job.Env) (job.Result, error) {
	if len(op.Inputs) == 0 {
		return job.Result{}, errors.New("no input files")
	}
	parallel := op.Parallel
	if parallel <= 0 {
		parallel = defaultParallel
	}
	bitrate := op.Bitrate
	if bitrate == "" {
		bitrate = "192k"
	}

	var (
		mu        sync.Mutex
		outputs   []string
		failures  []error
		completed atomic.Int64
	)
	total := len(op.Inputs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, input := range op.Inputs {
		input := input
		g.Go(func() error {
			out, err := op.convertOne(gctx, env.Dir, input, bitrate)
			mu.Lock()
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", filepath.Base(input), err))
			} else {
				outputs = append(outputs, out)
			}
			mu.Unlock()
			done := completed.Add(1)
			env.Reporter.Progress(int(done*100/int64(total)), fmt.Sprintf("converted %d/%d", done, total))
			// Batch conversion never aborts siblings on one bad file;
			// only context cancellation stops the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return job.Result{}, err
	}

	if len(outputs) == 0 {
		return job.Result{}, fmt.Errorf("all conversions failed: %w", errors.Join(failures...))
	}

	msg := fmt.Sprintf("converted %d file(s)", len(outputs))
	if len(failures) > 0 {
		msg = fmt.Sprintf("converted %d of %d file(s), %d failed", len(outputs), total, len(failures))
	}
	return job.Result{
		Files:   outputs,
		Message: msg,
		Title:   titleFromFile(outputs[0]),
	}, nil
}

func (op ConvertOp) convertOne(ctx context.Context, dir, input, bitrate string) (string, error) {
	stem := titleFromFile(input)
	var out string
	var args []string
	switch op.Direction {
	case DirectionMP3ToMP4:
		out = filepath.Join(dir, stem+".mp4")
		args = buildMP3ToMP4Args(input, out, op.Image)
	default:
		out = filepath.Join(dir, stem+".mp3")
		args = buildMP4ToMP3Args(input, out, bitrate)
	}

	err := op.Tools.Runner.Run(ctx, toolexec.Command{Name: op.Tools.FFmpeg, Args: args})
	if err != nil {
		return "", err
	}
	return out, nil
}

// buildMP4ToMP3Args extracts the first audio stream to mp3. The xing
// and bitexact flags keep player duration estimates accurate.
func buildMP4ToMP3Args(input, output, bitrate string) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-i", input,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", bitrate,
		"-map", "0:a:0",
		"-write_xing", "0",
		"-fflags", "+bitexact",
		"-y",
		output,
	}
}

// buildMP3ToMP4Args wraps audio into an mp4 with either a looped still
// image or a solid color background matching the audio duration.
func buildMP3ToMP4Args(input, output, image string) []string {
	if image != "" {
		return []string{
			"-hide_banner", "-nostdin",
			"-loop", "1",
			"-framerate", "25",
			"-i", image,
			"-i", input,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "stillimage",
			"-c:a", "aac",
			"-b:a", "192k",
			"-pix_fmt", "yuv420p",
			"-shortest",
			"-fflags", "+shortest",
			"-max_interleave_delta", "100M",
			"-movflags", "+faststart",
			"-y",
			output,
		}
	}
	return []string{
		"-hide_banner", "-nostdin",
		"-i", input,
		"-f", "lavfi",
		"-i", "color=c=black:s=1280x720:r=25",
		"-map", "1:v",
		"-map", "0:a",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		output,
	}
}

// VideoExtensions and AudioExtensions are the inputs each conversion
// direction accepts, matching the tool's own allow-list.
var (
	VideoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".flv", ".webm"}
	AudioExtensions = []string{".mp3", ".m4a", ".aac", ".wav", ".flac", ".ogg"}
)

// AcceptsInput reports whether a filename is valid for the direction.
func AcceptsInput(direction, filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	exts := VideoExtensions
	if direction == DirectionMP3ToMP4 {
		exts = AudioExtensions
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
