package media

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// yt-dlp with --newline prints lines like:
//
//	[download]  42.3% of 10.00MiB at 1.20MiB/s ETA 00:05
var ytdlpPercentRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// parseYTDLPPercent extracts the percentage from a yt-dlp progress
// line, or returns -1 when the line carries no progress.
func parseYTDLPPercent(line string) int {
	m := ytdlpPercentRe.FindStringSubmatch(line)
	if m == nil {
		return -1
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return -1
	}
	return int(f)
}

// ffmpeg with "-progress pipe:1 -nostats" emits key=value lines; the
// one of interest is out_time_ms (microseconds, despite the name).
func parseFFmpegOutTime(line string) (time.Duration, bool) {
	val, ok := strings.CutPrefix(line, "out_time_ms=")
	if !ok {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return time.Duration(us) * time.Microsecond, true
}

// ffmpegPercent converts a processed position into a percentage of the
// known total duration. Returns -1 when the total is unknown.
func ffmpegPercent(pos, total time.Duration) int {
	if total <= 0 {
		return -1
	}
	p := int(pos * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
