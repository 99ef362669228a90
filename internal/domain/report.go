package domain

import "time"

// ReportRequest is handed to the external report rendering collaborator at
// the structured report flow's terminal transition.
type ReportRequest struct {
	SessionID string            `json:"session_id"`
	Profile   map[string]string `json:"profile"`
	Answers   []ReportAnswer    `json:"answers"`
	Language  string            `json:"language"`
}

// ReportHandle points at a rendered document. The rendering itself is out of
// scope; the orchestrator only forwards the handle to the caller.
type ReportHandle struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
