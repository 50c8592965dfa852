package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediaforge/internal/job"
	"mediaforge/internal/toolexec"
)

// SubtitlesOp fetches subtitles for a video URL. The direct path asks
// yt-dlp for uploaded or auto-generated subtitles; when the site has
// none (or rate-limits subtitle requests) the job degrades to
// downloading the audio and transcribing it locally with whisper.cpp.
// The degraded path is a successful completion with its own message.
type SubtitlesOp struct {
	Tools Tools
	URL   string
	Lang  string
}

func (op SubtitlesOp) Run(ctx context.Context, env job.Env) (job.Result, error) {
	lang := op.Lang
	if lang == "" {
		lang = "en"
	}

	strategies := []job.Strategy{
		{Name: "direct-download", Run: func(ctx context.Context) (job.Result, error) {
			return op.directDownload(ctx, env, lang)
		}},
	}
	if op.Tools.Whisper != "" && op.Tools.WhisperModel != "" {
		strategies = append(strategies, job.Strategy{
			Name: "speech-to-text",
			Run: func(ctx context.Context) (job.Result, error) {
				return op.transcribe(ctx, env, lang)
			},
		})
	}

	res, winner, err := job.RunStrategies(ctx, strategies)
	if err != nil {
		return job.Result{}, err
	}
	if winner == "speech-to-text" {
		res.Message = "no subtitles available upstream, generated via local speech-to-text"
	}
	return res, nil
}

func (op SubtitlesOp) directDownload(ctx context.Context, env job.Env, lang string) (job.Result, error) {
	args := []string{
		"--newline", "--no-warnings",
		"--user-agent", browserUA,
		"--skip-download",
		"--write-subs", "--write-auto-subs",
		"--sub-langs", lang,
		"--convert-subs", "srt",
		"-o", filepath.Join(env.Dir, "%(title)s.%(ext)s"),
		op.URL,
	}
	err := op.Tools.Runner.Run(ctx, toolexec.Command{
		Name: op.Tools.YTDLP,
		Args: args,
		OnLine: func(line string) {
			if p := parseYTDLPPercent(line); p >= 0 {
				env.Reporter.Progress(p/2, "fetching subtitles")
			}
		},
	})
	if err != nil {
		return job.Result{}, fmt.Errorf("yt-dlp subtitles: %w", err)
	}

	subs, err := subtitleFiles(env.Dir)
	if err != nil {
		return job.Result{}, err
	}
	if len(subs) == 0 {
		// yt-dlp exits zero when the video simply has no subtitles.
		return job.Result{}, errors.New("no subtitle tracks available")
	}
	return job.Result{
		Files: subs,
		Title: titleFromFile(subs[0]),
	}, nil
}

// transcribe is the degraded path: audio download, 16k mono wav
// preprocessing, whisper.cpp with srt export.
func (op SubtitlesOp) transcribe(ctx context.Context, env job.Env, lang string) (job.Result, error) {
	audioPath := filepath.Join(env.Dir, "source-audio.m4a")
	dlArgs := []string{
		"--newline", "--no-warnings",
		"--user-agent", browserUA,
		"-f", "bestaudio/best",
		"-o", audioPath,
		op.URL,
	}
	err := op.Tools.Runner.Run(ctx, toolexec.Command{
		Name: op.Tools.YTDLP,
		Args: dlArgs,
		OnLine: func(line string) {
			if p := parseYTDLPPercent(line); p >= 0 {
				env.Reporter.Progress(p/3, "downloading audio for transcription")
			}
		},
	})
	if err != nil {
		return job.Result{}, fmt.Errorf("audio download: %w", err)
	}

	wavPath := filepath.Join(env.Dir, "transcribe-16k-mono.wav")
	env.Reporter.Progress(40, "preparing audio")
	wavArgs := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", audioPath,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		wavPath,
	}
	if err := op.Tools.Runner.Run(ctx, toolexec.Command{Name: op.Tools.FFmpeg, Args: wavArgs}); err != nil {
		return job.Result{}, fmt.Errorf("audio preprocessing: %w", err)
	}

	srtBase := filepath.Join(env.Dir, "transcript")
	env.Reporter.Progress(60, "transcribing")
	whisperArgs := []string{
		"-m", op.Tools.WhisperModel,
		"-f", wavPath,
		"-of", srtBase,
		"-osrt",
	}
	if lang != "" && !strings.EqualFold(lang, "auto") {
		whisperArgs = append(whisperArgs, "-l", lang)
	}
	if err := op.Tools.Runner.Run(ctx, toolexec.Command{Name: op.Tools.Whisper, Args: whisperArgs}); err != nil {
		return job.Result{}, fmt.Errorf("whisper transcription: %w", err)
	}

	// whisper exits zero on some decode failures without writing the
	// transcript.
	srtPath := srtBase + ".srt"
	if _, err := os.Stat(srtPath); err != nil {
		return job.Result{}, fmt.Errorf("whisper produced no transcript: %w", err)
	}
	return job.Result{
		Files: []string{srtPath},
		Title: "transcript",
	}, nil
}

func subtitleFiles(dir string) ([]string, error) {
	files, err := listOutputs(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	var subs []string
	for _, f := range files {
		switch strings.ToLower(filepath.Ext(f)) {
		case ".srt", ".vtt", ".ass":
			subs = append(subs, f)
		}
	}
	return subs, nil
}
