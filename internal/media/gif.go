package media

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"mediaforge/internal/job"
	"mediaforge/internal/toolexec"
)

// GIFOp cuts a clip out of a video and renders it as a GIF using the
// two-pass palettegen/paletteuse pipeline for decent colors.
type GIFOp struct {
	Tools    Tools
	Input    string
	Start    float64 // seconds into the source
	Duration float64 // clip length in seconds
	Width    int
	FPS      int
}

func (op GIFOp) Run(ctx context.Context, env job.Env) (job.Result, error) {
	if op.Duration <= 0 {
		op.Duration = 5
	}
	if op.Width <= 0 {
		op.Width = 480
	}
	if op.FPS <= 0 {
		op.FPS = 12
	}

	palette := filepath.Join(env.Dir, "palette.png")
	output := filepath.Join(env.Dir, titleFromFile(op.Input)+".gif")
	filters := fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", op.FPS, op.Width)
	clip := []string{
		"-ss", fmt.Sprintf("%.3f", op.Start),
		"-t", fmt.Sprintf("%.3f", op.Duration),
		"-i", op.Input,
	}

	env.Reporter.Progress(5, "generating palette")
	paletteArgs := append([]string{"-hide_banner", "-nostdin"}, clip...)
	paletteArgs = append(paletteArgs, "-vf", filters+",palettegen", "-y", palette)
	if err := op.Tools.Runner.Run(ctx, toolexec.Command{Name: op.Tools.FFmpeg, Args: paletteArgs}); err != nil {
		return job.Result{}, fmt.Errorf("palette pass: %w", err)
	}

	env.Reporter.Progress(50, "rendering gif")
	total := time.Duration(op.Duration * float64(time.Second))
	renderArgs := append([]string{"-hide_banner", "-nostdin", "-progress", "pipe:1", "-nostats"}, clip...)
	renderArgs = append(renderArgs,
		"-i", palette,
		"-lavfi", filters+" [x]; [x][1:v] paletteuse",
		"-y", output,
	)
	err := op.Tools.Runner.Run(ctx, toolexec.Command{
		Name: op.Tools.FFmpeg,
		Args: renderArgs,
		OnLine: func(line string) {
			if pos, ok := parseFFmpegOutTime(line); ok {
				if p := ffmpegPercent(pos, total); p >= 0 {
					// Render is the second half of the pipeline.
					env.Reporter.Progress(50+p/2, "rendering gif")
				}
			}
		},
	})
	if err != nil {
		return job.Result{}, fmt.Errorf("render pass: %w", err)
	}

	return job.Result{
		Files: []string{output},
		Title: titleFromFile(output),
	}, nil
}
