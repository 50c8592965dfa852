package job

import "time"

type Kind string

const (
	KindDownload      Kind = "download"
	KindConvert       Kind = "convert"
	KindSubtitles     Kind = "subtitle-extract"
	KindGIF           Kind = "gif-create"
	KindAudioEnhance  Kind = "audio-enhance"
	KindDuplicateScan Kind = "duplicate-scan"
	KindEncrypt       Kind = "encrypt"
	KindDecrypt       Kind = "decrypt"
)

type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCancelling State = "cancelling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Running reports whether a worker is still attached to the job.
// Cancelling counts as running: cleanup is in flight.
func (s State) Running() bool {
	return s == StateProcessing || s == StateCancelling
}

// Job is the tracked state of one submitted long-running operation.
// Mutated only through Registry.Update; handlers see value snapshots.
type Job struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	State           State     `json:"state"`
	Progress        int       `json:"progress"`
	Message         string    `json:"message,omitempty"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	OutputPath      string    `json:"-"`
	OutputFilename  string    `json:"output_filename,omitempty"`
	IsArchive       bool      `json:"is_archive,omitempty"`
	ErrorDetail     string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Batch bookkeeping, meaningful for multi-file kinds only.
	TotalFiles     int `json:"total_files,omitempty"`
	CompletedFiles int `json:"completed_files,omitempty"`

	// Link to the download history record, when the kind is billed there.
	DownloadID int64 `json:"download_id,omitempty"`

	UserID string `json:"-"`
}

type Options struct {
	DataDir           string
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	Retention         time.Duration
	SweepInterval     time.Duration
}

const (
	defaultMaxConcurrent = 4
	defaultJobTimeout    = 30 * time.Minute
	defaultRetention     = 5 * time.Minute
	defaultSweepInterval = 60 * time.Second
)
