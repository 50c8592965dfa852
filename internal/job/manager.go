package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Operation is the unit of work a worker executes for one job. The
// implementation performs the actual tool invocation and returns the
// files it produced inside env.Dir. Cancellation and the per-job
// timeout arrive through ctx; implementations must check it at safe
// points (subprocesses die with it via exec.CommandContext).
type Operation interface {
	Run(ctx context.Context, env Env) (Result, error)
}

// Env is what an operation gets to work with.
type Env struct {
	Dir      string
	Reporter Reporter
}

// Result describes a successful operation run.
type Result struct {
	Files   []string // produced artifacts, absolute paths under Env.Dir
	Message string   // final status line, e.g. a degraded-path note
	Title   string   // human label recorded in history
}

// HistoryRecorder is the narrow slice of the download-history
// collaborator the worker consumes. Implementations live outside this
// package; bookkeeping failures never fail the job itself.
type HistoryRecorder interface {
	Record(kind, detail string) (int64, error)
	Complete(id int64, title, filePath string, fileSize int64) error
	Fail(id int64, reason string) error
}

// UsageLimiter is consulted before billable work starts.
type UsageLimiter interface {
	CheckLimit(userID string) error
	RecordUse(userID string) error
}

// Spec describes one submission.
type Spec struct {
	Kind   Kind
	UserID string

	// Billable routes go through the usage limiter pre-flight.
	Billable bool

	// HistoryDetail, when non-empty, creates a history record linked to
	// the job (e.g. the source URL of a download).
	HistoryDetail string

	TotalFiles int

	// CleanupDirs are removed once the job reaches a terminal state;
	// the API layer stages uploads there.
	CleanupDirs []string

	Op Operation
}

// Manager owns the full create -> run -> finalize sequence for every
// job. One goroutine is spawned per submission; a semaphore channel
// bounds how many run at once while keeping the submission path
// non-blocking.
type Manager struct {
	reg       *Registry
	opts      Options
	semaphore chan struct{}
	workersWG sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
	cancels map[string]context.CancelFunc

	history HistoryRecorder
	limiter UsageLimiter
}

func NewManager(opts Options) *Manager {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = defaultMaxConcurrent
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	return &Manager{
		reg:       NewRegistry(),
		opts:      opts,
		semaphore: make(chan struct{}, opts.MaxConcurrentJobs),
		baseCtx:   context.Background(),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SetHistory wires the download-history collaborator.
func (m *Manager) SetHistory(h HistoryRecorder) { m.history = h }

// SetLimiter wires the subscription usage limiter.
func (m *Manager) SetLimiter(l UsageLimiter) { m.limiter = l }

// SetBaseContext sets the context every worker derives from. Cancelled
// during graceful shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// Registry exposes the job store for the API layer's read paths.
func (m *Manager) Registry() *Registry { return m.reg }

// JobDir returns the per-job artifact directory.
func (m *Manager) JobDir(id string) string {
	return filepath.Join(m.opts.DataDir, "jobs", id)
}

// StageDir allocates a fresh directory for request uploads. It lives
// outside the job directories so cancellation cleanup of partial
// output never races with input files still being read.
func (m *Manager) StageDir() (string, error) {
	root := filepath.Join(m.opts.DataDir, "uploads")
	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", fmt.Errorf("ensure uploads root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "u-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Submit registers a job, spawns its worker and returns the id
// immediately. The worker waits for a semaphore slot in the background,
// so a full pool delays execution, never submission.
func (m *Manager) Submit(spec Spec) (string, error) {
	if spec.Op == nil {
		return "", fmt.Errorf("submit %s: no operation", spec.Kind)
	}
	id := m.reg.Create(spec.Kind, func(j *Job) {
		j.UserID = spec.UserID
		j.TotalFiles = spec.TotalFiles
		j.Message = "queued"
	})
	if err := os.MkdirAll(m.JobDir(id), 0o750); err != nil {
		m.reg.Remove(id)
		return "", fmt.Errorf("create job dir: %w", err)
	}

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		m.runWorker(id, spec)
	}()

	log.Info().Str("job_id", id).Str("kind", string(spec.Kind)).Msg("job submitted")
	return id, nil
}

// Cancel requests cooperative cancellation of a running job. Only jobs
// in processing can be cancelled; anything else is ErrJobNotRunning.
// The acknowledgement does not wait for cleanup.
func (m *Manager) Cancel(id string) error {
	snap, err := m.reg.Get(id)
	if err != nil {
		return err
	}
	if snap.State != StateProcessing {
		return ErrJobNotRunning
	}
	_ = m.reg.Update(id, func(j *Job) {
		if j.State != StateProcessing {
			return
		}
		j.CancelRequested = true
		j.State = StateCancelling
		j.Message = "cancellation requested"
	})

	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	log.Info().Str("job_id", id).Msg("job cancellation requested")
	return nil
}

// Artifact resolves a job id to its downloadable file.
type Artifact struct {
	Path     string
	Filename string
	Size     int64
}

func (m *Manager) Artifact(id string) (Artifact, error) {
	snap, err := m.reg.Get(id)
	if err != nil {
		return Artifact{}, err
	}
	if snap.State != StateCompleted {
		return Artifact{}, ErrJobNotReady
	}
	info, err := os.Stat(snap.OutputPath)
	if err != nil {
		return Artifact{}, ErrArtifactMissing
	}
	name := snap.OutputFilename
	if name == "" {
		name = filepath.Base(snap.OutputPath)
	}
	return Artifact{Path: snap.OutputPath, Filename: name, Size: info.Size()}, nil
}

// WaitAll blocks until all in-flight workers finish or ctx is done.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) registerCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()
}

func (m *Manager) unregisterCancel(id string) {
	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()
}
