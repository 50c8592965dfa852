// Package media implements the job operations backed by external
// command-line tools: ffmpeg/ffprobe for conversion and filtering,
// yt-dlp for downloads and subtitles, whisper.cpp for the local
// speech-to-text fallback.
package media

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mediaforge/internal/toolexec"
)

// Tools carries resolved tool paths and the shared runner. One value
// is built at startup from config and handed to every operation.
type Tools struct {
	Runner       toolexec.Runner
	FFmpeg       string
	FFprobe      string
	YTDLP        string
	Whisper      string
	WhisperModel string
}

// listOutputs returns regular files in dir, skipping temp droppings
// and anything in skip. Sorted for deterministic bundling order.
func listOutputs(dir string, skip map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		if skip[name] {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
