package job

import "errors"

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotRunning   = errors.New("job is not running")
	ErrJobNotReady     = errors.New("job is not completed")
	ErrArtifactMissing = errors.New("artifact no longer exists")
	ErrNoOutput        = errors.New("operation produced no output files")
)
