package job

// Reporter receives partial progress from a running operation. One
// reporter is bound to one job id; tool adapters never see the
// registry directly.
type Reporter interface {
	Progress(percent int, message string)
}

// registryReporter writes progress through the registry with a
// monotonic clamp. Multi-stage pipelines report in disjoint phases and
// an individual stage may restart its own estimate at zero; the stored
// value must never move backwards.
type registryReporter struct {
	reg *Registry
	id  string
}

func (p *registryReporter) Progress(percent int, message string) {
	_ = p.reg.Update(p.id, func(j *Job) {
		// Ignore late reports after the worker left processing.
		if j.State != StateProcessing {
			return
		}
		if percent > 100 {
			percent = 100
		}
		if percent > j.Progress {
			j.Progress = percent
		}
		if message != "" {
			j.Message = message
		}
	})
}

// NopReporter discards all progress. Handy for tests and for
// operations executed outside a job context.
type NopReporter struct{}

func (NopReporter) Progress(int, string) {}
