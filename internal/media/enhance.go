package media

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"mediaforge/internal/job"
	"mediaforge/internal/toolexec"
)

// enhancePresets maps a preset name to an ffmpeg audio filter chain.
var enhancePresets = map[string]string{
	"voice":    "highpass=f=80,lowpass=f=8000,afftdn=nf=-25,loudnorm=I=-16:TP=-1.5:LRA=11",
	"music":    "afftdn=nf=-30,loudnorm=I=-14:TP=-1:LRA=11",
	"loudness": "loudnorm=I=-16:TP=-1.5:LRA=11",
}

// DefaultEnhancePreset is used when the request names no preset.
const DefaultEnhancePreset = "voice"

// KnownPreset reports whether the preset name is supported.
func KnownPreset(name string) bool {
	_, ok := enhancePresets[name]
	return ok
}

// AudioEnhanceOp runs a noise-reduction/normalization filter chain
// over an uploaded audio file. When the filtered encode fails (exotic
// codecs trip some filters) it falls back to a plain re-mux so the
// user still gets a playable file back.
type AudioEnhanceOp struct {
	Tools  Tools
	Input  string
	Preset string
}

func (op AudioEnhanceOp) Run(ctx context.Context, env job.Env) (job.Result, error) {
	preset := op.Preset
	if !KnownPreset(preset) {
		preset = DefaultEnhancePreset
	}
	output := filepath.Join(env.Dir, titleFromFile(op.Input)+"-enhanced.mp3")

	var total time.Duration
	if d, err := op.Tools.Duration(ctx, op.Input); err == nil {
		total = d
	}

	res, winner, err := job.RunStrategies(ctx, []job.Strategy{
		{
			Name: "filtered-encode",
			Run: func(ctx context.Context) (job.Result, error) {
				args := []string{
					"-hide_banner", "-nostdin", "-progress", "pipe:1", "-nostats",
					"-i", op.Input,
					"-af", enhancePresets[preset],
					"-acodec", "libmp3lame", "-b:a", "192k",
					"-y", output,
				}
				if err := op.runFFmpeg(ctx, env, args, total); err != nil {
					return job.Result{}, err
				}
				return job.Result{
					Files:   []string{output},
					Message: fmt.Sprintf("enhanced with %s preset", preset),
				}, nil
			},
		},
		{
			Name: "direct-copy",
			Run: func(ctx context.Context) (job.Result, error) {
				args := []string{
					"-hide_banner", "-nostdin", "-progress", "pipe:1", "-nostats",
					"-i", op.Input,
					"-acodec", "libmp3lame", "-b:a", "192k",
					"-y", output,
				}
				if err := op.runFFmpeg(ctx, env, args, total); err != nil {
					return job.Result{}, err
				}
				return job.Result{
					Files:   []string{output},
					Message: "enhancement filters unavailable for this input, converted without filtering",
				}, nil
			},
		},
	})
	if err != nil {
		return job.Result{}, err
	}
	res.Title = titleFromFile(output)
	if winner != "filtered-encode" && res.Message != "" {
		env.Reporter.Progress(-1, res.Message)
	}
	return res, nil
}

func (op AudioEnhanceOp) runFFmpeg(ctx context.Context, env job.Env, args []string, total time.Duration) error {
	return op.Tools.Runner.Run(ctx, toolexec.Command{
		Name: op.Tools.FFmpeg,
		Args: args,
		OnLine: func(line string) {
			if pos, ok := parseFFmpegOutTime(line); ok {
				if p := ffmpegPercent(pos, total); p >= 0 {
					env.Reporter.Progress(p, "processing audio")
				}
			}
		},
	})
}
