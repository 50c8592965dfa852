package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"mediaforge/internal/job"
	"mediaforge/internal/toolexec"
)

// browserUA is sent by yt-dlp on every request; some extractors refuse
// the default tool user agent.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DownloadOp fetches a video or audio stream with yt-dlp. A playlist
// URL yields multiple files, which the worker bundles into one archive.
type DownloadOp struct {
	Tools   Tools
	URL     string
	Format  string // video, audio or mp3
	Quality string // best, 1080p, 720p, 480p
}

func (op DownloadOp) Run(ctx context.Context, env job.Env) (job.Result, error) {
	args := []string{
		"--newline",
		"--no-warnings",
		"--user-agent", browserUA,
		"-o", filepath.Join(env.Dir, "%(title)s.%(ext)s"),
	}
	switch op.Format {
	case "audio", "mp3":
		args = append(args,
			"-f", "bestaudio/best",
			"-x", "--audio-format", "mp3", "--audio-quality", "192K",
		)
	default:
		args = append(args,
			"-f", videoFormatSelector(op.Quality),
			"--merge-output-format", "mp4",
		)
	}
	args = append(args, op.URL)

	err := op.Tools.Runner.Run(ctx, toolexec.Command{
		Name: op.Tools.YTDLP,
		Args: args,
		OnLine: func(line string) {
			if p := parseYTDLPPercent(line); p >= 0 {
				env.Reporter.Progress(p, "downloading")
				return
			}
			if strings.HasPrefix(line, "[Merger]") || strings.HasPrefix(line, "[ExtractAudio]") {
				env.Reporter.Progress(-1, "post-processing")
			}
		},
	})
	if err != nil {
		return job.Result{}, fmt.Errorf("yt-dlp: %w", err)
	}

	files, err := listOutputs(env.Dir, nil)
	if err != nil {
		return job.Result{}, fmt.Errorf("list outputs: %w", err)
	}
	if len(files) == 0 {
		return job.Result{}, job.ErrNoOutput
	}
	return job.Result{
		Files: files,
		Title: titleFromFile(files[0]),
	}, nil
}

func videoFormatSelector(quality string) string {
	switch quality {
	case "1080p":
		return "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[height<=1080]"
	case "720p":
		return "bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[height<=720]"
	case "480p":
		return "bestvideo[height<=480][ext=mp4]+bestaudio[ext=m4a]/best[height<=480]"
	default:
		return "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	}
}

func titleFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
