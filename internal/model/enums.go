package model

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Priority classes, dequeued strictly high before default before low.
type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

// Priorities lists the classes in dequeue order.
var Priorities = []Priority{PriorityHigh, PriorityDefault, PriorityLow}

// Billing records how a job is paid for, decided at admission.
type Billing string

const (
	BillingFree Billing = "free"
	BillingPaid Billing = "paid"
)

// Error kinds stored on failed jobs
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindTransient  ErrorKind = "transient"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindCanceled   ErrorKind = "canceled"
	ErrorKindStale      ErrorKind = "stale"
	ErrorKindHandler    ErrorKind = "handler"
)

// Artifact kinds
type ArtifactKind string

const (
	ArtifactKindTranslation ArtifactKind = "translation"
	ArtifactKindSubtitles   ArtifactKind = "subtitles"
	ArtifactKindAudio       ArtifactKind = "audio"
	ArtifactKindVideo       ArtifactKind = "video"
)

var ValidArtifactKinds = []ArtifactKind{
	ArtifactKindTranslation, ArtifactKindSubtitles, ArtifactKindAudio, ArtifactKindVideo,
}

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	for _, v := range ValidArtifactKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Ledger entry kinds
type LedgerKind string

const (
	LedgerKindDebit  LedgerKind = "debit"
	LedgerKindCredit LedgerKind = "credit"
)
