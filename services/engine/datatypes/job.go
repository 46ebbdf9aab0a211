package datatypes

import "time"

// JobKind distinguishes the three job shapes the engine submits per
// iteration (spec.md §4.4).
type JobKind string

const (
	JobPrimary  JobKind = "primary"
	JobSentence JobKind = "sentence"
	JobMetadata JobKind = "metadata"
)

// JobStatus is the terminal-or-not status of a worker-executed job.
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusStarted  JobStatus = "started"
	StatusFinished JobStatus = "finished"
	StatusFailed   JobStatus = "failed"
	StatusCanceled JobStatus = "canceled"
	StatusStopped  JobStatus = "stopped"
)

// Terminal reports whether a status will not transition further.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCanceled, StatusStopped:
		return true
	default:
		return false
	}
}

// JobMeta is the mutable, worker-written bookkeeping attached to a Job:
// progress counters, associated-job ids, and published-message ids. Per
// spec.md §5's shared-resource policy, only the worker that runs a job
// writes its meta; the server process only reads it.
type JobMeta struct {
	Status          JobStatus      `json:"status"`
	TotalFound      int            `json:"total_found"`
	Limited         bool           `json:"limited"`
	ProjectedResults int           `json:"projected_results"`
	PercWords       float64        `json:"perc_words"`
	PercMatches     float64        `json:"perc_matches"`
	ResultSets      map[string]any `json:"result_sets,omitempty"`
	SentJobIDs      []string       `json:"sent_job_ids,omitempty"`
	MetaJobIDs      []string       `json:"meta_job_ids,omitempty"`
	LatestMessageID string         `json:"latest_message_id,omitempty"`
	Error           *JobError      `json:"error,omitempty"`
}

// JobError carries the classified failure reason (spec.md §7) for a
// terminal non-finished job.
type JobError struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Job is the opaque worker-executed unit the engine submits and later
// reads back via the Cache Index.
type Job struct {
	ID        string    `json:"id"` // the fingerprint (fingerprint.Fingerprint)
	Kind      JobKind   `json:"kind"`
	Kwargs    []byte    `json:"kwargs"` // serialised iteration descriptor
	Result    []Row     `json:"result,omitempty"`
	Meta      JobMeta   `json:"meta"`
	DependsOn []string  `json:"depends_on,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Queue     string    `json:"queue"`
	TimeoutMs int64     `json:"timeout_ms"`
	ResultTTL time.Duration `json:"result_ttl"`
}
