package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"mediaforge/internal/archive"
)

// errorDetailLimit bounds the diagnostic text stored on a failed job.
const errorDetailLimit = 500

// runWorker carries one job from queued to a terminal state. It must
// never return without the job reaching completed, failed or
// cancelled, so the whole body runs under a panic guard.
func (m *Manager) runWorker(id string, spec Spec) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", id).Interface("panic", r).Msg("worker panicked")
			m.failJob(id, spec, fmt.Sprintf("internal error: %v", r))
		}
		for _, dir := range spec.CleanupDirs {
			dir := dir
			go func() { _ = os.RemoveAll(dir) }()
		}
	}()

	m.semaphore <- struct{}{}
	defer func() { <-m.semaphore }()

	m.mu.Lock()
	base := m.baseCtx
	m.mu.Unlock()
	if base.Err() != nil {
		m.failJob(id, spec, "server shutting down")
		return
	}

	if spec.Billable && m.limiter != nil {
		if err := m.limiter.CheckLimit(spec.UserID); err != nil {
			m.failJob(id, spec, "usage limit: "+err.Error())
			return
		}
	}

	var historyID int64
	if spec.HistoryDetail != "" && m.history != nil {
		hid, err := m.history.Record(string(spec.Kind), spec.HistoryDetail)
		if err != nil {
			log.Warn().Str("job_id", id).Err(err).Msg("history record failed")
		} else {
			historyID = hid
		}
	}

	_ = m.reg.Update(id, func(j *Job) {
		j.State = StateProcessing
		j.Message = "processing"
		j.DownloadID = historyID
	})

	ctx, cancel := context.WithTimeout(base, m.opts.JobTimeout)
	m.registerCancel(id, cancel)
	defer m.unregisterCancel(id)
	defer cancel()

	env := Env{
		Dir:      m.JobDir(id),
		Reporter: &registryReporter{reg: m.reg, id: id},
	}
	res, runErr := spec.Op.Run(ctx, env)

	if snap, err := m.reg.Get(id); err == nil && snap.CancelRequested {
		m.cancelJob(id, spec, historyID)
		return
	}
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.failJobRecorded(id, spec, historyID,
				fmt.Sprintf("aborted: exceeded maximum duration of %s", m.opts.JobTimeout))
			return
		}
		m.failJobRecorded(id, spec, historyID, truncate(runErr.Error(), errorDetailLimit))
		return
	}

	m.completeJob(id, spec, historyID, res)
}

// completeJob normalizes the operation's outputs to a single artifact
// and applies the terminal completed transition.
func (m *Manager) completeJob(id string, spec Spec, historyID int64, res Result) {
	outputPath, outputName, isArchive, err := m.resolveArtifact(id, res.Files)
	if err != nil {
		m.failJobRecorded(id, spec, historyID, err.Error())
		return
	}

	applied := false
	_ = m.reg.Update(id, func(j *Job) {
		if j.State.Terminal() {
			return
		}
		applied = true
		j.State = StateCompleted
		j.Progress = 100
		j.OutputPath = outputPath
		j.OutputFilename = outputName
		j.IsArchive = isArchive
		j.CompletedFiles = len(res.Files)
		if res.Message != "" {
			j.Message = res.Message
		} else {
			j.Message = "completed"
		}
	})
	if !applied {
		return
	}

	if historyID != 0 && m.history != nil {
		var size int64
		if info, err := os.Stat(outputPath); err == nil {
			size = info.Size()
		}
		if err := m.history.Complete(historyID, res.Title, outputPath, size); err != nil {
			log.Warn().Str("job_id", id).Err(err).Msg("history complete failed")
		}
	}
	if spec.Billable && m.limiter != nil {
		if err := m.limiter.RecordUse(spec.UserID); err != nil {
			log.Warn().Str("job_id", id).Err(err).Msg("usage record failed")
		}
	}
	log.Info().Str("job_id", id).Str("kind", string(spec.Kind)).Str("artifact", outputName).Msg("job completed")
}

// resolveArtifact turns N produced files into one downloadable path:
// exactly one file is served directly, several are zipped. A tool can
// exit zero without producing its output, so the file is verified
// before the job may complete; the multi-file path gets the same check
// from Bundle opening every input.
func (m *Manager) resolveArtifact(id string, files []string) (path, name string, isArchive bool, err error) {
	switch len(files) {
	case 0:
		return "", "", false, ErrNoOutput
	case 1:
		if _, err := os.Stat(files[0]); err != nil {
			return "", "", false, fmt.Errorf("output file missing: %w", err)
		}
		return files[0], filepath.Base(files[0]), false, nil
	default:
		dest := filepath.Join(m.JobDir(id), "bundle.zip")
		if err := archive.Bundle(dest, files); err != nil {
			return "", "", false, fmt.Errorf("bundle outputs: %w", err)
		}
		return dest, "mediaforge-" + id + ".zip", true, nil
	}
}

func (m *Manager) failJob(id string, spec Spec, detail string) {
	m.failJobRecorded(id, spec, 0, detail)
}

func (m *Manager) failJobRecorded(id string, spec Spec, historyID int64, detail string) {
	applied := false
	_ = m.reg.Update(id, func(j *Job) {
		if j.State.Terminal() {
			return
		}
		applied = true
		j.State = StateFailed
		j.ErrorDetail = detail
		j.Message = "failed: " + detail
	})
	if !applied {
		return
	}
	if historyID != 0 && m.history != nil {
		if err := m.history.Fail(historyID, detail); err != nil {
			log.Warn().Str("job_id", id).Err(err).Msg("history fail update failed")
		}
	}
	log.Warn().Str("job_id", id).Str("kind", string(spec.Kind)).Str("detail", detail).Msg("job failed")
}

// cancelJob applies the terminal cancelled transition and reclaims the
// partial output directory without blocking the worker's exit.
func (m *Manager) cancelJob(id string, spec Spec, historyID int64) {
	applied := false
	_ = m.reg.Update(id, func(j *Job) {
		if j.State.Terminal() {
			return
		}
		applied = true
		j.State = StateCancelled
		j.Message = "cancelled"
	})
	if !applied {
		return
	}
	if historyID != 0 && m.history != nil {
		if err := m.history.Fail(historyID, "cancelled by user"); err != nil {
			log.Warn().Str("job_id", id).Err(err).Msg("history cancel update failed")
		}
	}
	dir := m.JobDir(id)
	go func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Str("job_id", id).Err(err).Msg("partial output cleanup failed")
		}
	}()
	log.Info().Str("job_id", id).Str("kind", string(spec.Kind)).Msg("job cancelled")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
