// Package request holds API request bodies.
package request

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	Content string `json:"content"`
	RoomID  string `json:"roomId,omitempty"`
}

// ReactRequest is the optional body of POST /messages/{id}/react.
type ReactRequest struct {
	Emoji string `json:"emoji,omitempty"`
}

// ReportRequest is the optional body of POST /messages/{id}/report.
type ReportRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TransitionReportRequest is the body of PATCH /admin/reports/{id}.
type TransitionReportRequest struct {
	Status string `json:"status"`
}
