package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeFailed   = "failed"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type        string    `json:"type"`
	JobID       string    `json:"job_id"`
	Progress    int       `json:"progress"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"current_step,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string     `json:"type"`
	JobID  string     `json:"job_id"`
	Result *JobResult `json:"result"`
}

// WSFailedMessage represents a terminal failure
type WSFailedMessage struct {
	Type  string   `json:"type"`
	JobID string   `json:"job_id"`
	Error JobError `json:"error"`
}
