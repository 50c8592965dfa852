package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort          = 8080
	defaultDataDir       = "data"
	defaultMaxConcurrent = 4
	defaultJobTimeout    = 30 * time.Minute
	defaultRetention     = 5 * time.Minute
	defaultSweepInterval = 60 * time.Second
)

// Config describes runtime configuration for the service.
type Config struct {
	Port              int           `yaml:"port"`
	DataDir           string        `yaml:"data_dir"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	Retention         time.Duration `yaml:"retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`

	FFmpegPath   string `yaml:"ffmpeg_path"`
	FFprobePath  string `yaml:"ffprobe_path"`
	YTDLPPath    string `yaml:"ytdlp_path"`
	WhisperPath  string `yaml:"whisper_path"`
	WhisperModel string `yaml:"whisper_model"`

	HistoryDB         string `yaml:"history_db"`
	SubscriptionsFile string `yaml:"subscriptions_file"`
	AccessFile        string `yaml:"access_file"`
}

// Default returns sane defaults for a local deployment.
func Default() Config {
	return Config{
		Port:              defaultPort,
		DataDir:           defaultDataDir,
		MaxConcurrentJobs: defaultMaxConcurrent,
		JobTimeout:        defaultJobTimeout,
		Retention:         defaultRetention,
		SweepInterval:     defaultSweepInterval,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		YTDLPPath:         "yt-dlp",
		WhisperPath:       "",
		WhisperModel:      "",
		HistoryDB:         "download_history.db",
		SubscriptionsFile: "subscriptions.json",
		AccessFile:        "tool_access.json",
	}
}

// Load reads YAML config from the provided path. If the file does not
// exist or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.MaxConcurrentJobs < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 1)", cfg.MaxConcurrentJobs)
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = "yt-dlp"
	}
	return cfg, nil
}
