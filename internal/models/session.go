package models

// SessionStatus represents the status of a result session.
type SessionStatus string

const (
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// ResultSession describes one completed pipeline invocation whose tables
// are held for retrieval and export.
type ResultSession struct {
	ID               string        `json:"id"`
	FileID           string        `json:"fileId"`
	Pipeline         string        `json:"pipeline"` // "summary" or "treemap"
	Status           SessionStatus `json:"status"`
	TableNames       []string      `json:"tableNames"`
	RowCount         int           `json:"rowCount"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
	Error            string        `json:"error,omitempty"`
}
