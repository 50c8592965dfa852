package job

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper reclaims expired jobs and their artifact directories. One
// instance runs for the lifetime of the process. Sweeping is
// best-effort per entry: one undeletable directory never aborts the
// rest of the pass.
type Sweeper struct {
	reg       *Registry
	roots     []string
	retention time.Duration
	interval  time.Duration

	// staleAfter is how long a running job may go without a registry
	// update before the sweeper declares its worker lost. Longer than
	// the watchdog so the worker always gets to fail the job itself.
	staleAfter time.Duration
}

func NewSweeper(m *Manager) *Sweeper {
	return &Sweeper{
		reg: m.reg,
		roots: []string{
			filepath.Join(m.opts.DataDir, "jobs"),
			filepath.Join(m.opts.DataDir, "uploads"),
		},
		retention:  m.opts.Retention,
		interval:   m.opts.SweepInterval,
		staleAfter: m.opts.JobTimeout + m.opts.Retention,
	}
}

// Run loops until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce performs a single pass over the artifact store and the
// registry. Exported so tests can drive it without the ticker.
func (s *Sweeper) SweepOnce() {
	cutoff := time.Now().Add(-s.retention)
	s.failStuck(time.Now().Add(-s.staleAfter))
	for _, root := range s.roots {
		s.sweepDirs(root, cutoff)
	}
	s.sweepRegistry(cutoff)
}

// sweepDirs removes per-job directories whose mtime is past the
// cutoff. Registry state, not mtime, is what keeps the sweeper off
// live workers: a long-running tool appends to already-open files and
// never touches the directory's mtime. The mtime cutoff applies only
// to directories the registry no longer accounts for (orphans from a
// previous process and staged uploads).
func (s *Sweeper) sweepDirs(root string, cutoff time.Time) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", root).Msg("sweep: read root failed")
		}
		return
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if snap, err := s.reg.Get(e.Name()); err == nil && !snap.State.Terminal() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		info, err := os.Stat(dir)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("sweep: remove job dir failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("sweep: reclaimed job directories")
	}
}

func (s *Sweeper) sweepRegistry(cutoff time.Time) {
	for _, id := range s.reg.expired(cutoff) {
		s.reg.Remove(id)
		log.Debug().Str("job_id", id).Msg("sweep: registry entry expired")
	}
}

// failStuck force-fails running jobs whose worker has gone silent past
// the watchdog ceiling. The watchdog normally fails such jobs itself;
// this is the backstop for an operation that ignores its context and
// wedges the worker goroutine.
func (s *Sweeper) failStuck(cutoff time.Time) {
	for _, id := range s.reg.stuck(cutoff) {
		_ = s.reg.Update(id, func(j *Job) {
			if j.State.Terminal() {
				return
			}
			j.State = StateFailed
			j.ErrorDetail = "worker unresponsive, reclaimed by sweeper"
			j.Message = "failed: " + j.ErrorDetail
		})
		log.Warn().Str("job_id", id).Msg("sweep: unresponsive job failed")
	}
}
