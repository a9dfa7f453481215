package model

import "time"

// ReportStatus is the moderation state of a report.
type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportResolved ReportStatus = "resolved"
	ReportRejected ReportStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportResolved, ReportRejected:
		return true
	}
	return false
}

// Terminal reports whether s is a closed status that no longer transitions.
func (s ReportStatus) Terminal() bool {
	return s == ReportResolved || s == ReportRejected
}

// Report is filed by one actor against one message. At most one exists per
// (reporter, message) pair.
type Report struct {
	ID         string       `json:"id"`
	ReporterID string       `json:"reporterId"`
	MessageID  string       `json:"messageId"`
	Reason     string       `json:"reason,omitempty"`
	Status     ReportStatus `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	ResolvedAt *time.Time   `json:"resolvedAt,omitempty"`
	ResolvedBy string       `json:"resolvedBy,omitempty"`
}

// ReportView is a report joined with the reported message (soft-deleted
// messages included) for the moderator queue.
type ReportView struct {
	Report
	ReporterPseudonym string     `json:"reporterPseudonym"`
	MessageContent    string     `json:"messageContent"`
	MessageAuthorID   string     `json:"messageAuthorId"`
	AuthorPseudonym   string     `json:"authorPseudonym"`
	MessageDeletedAt  *time.Time `json:"messageDeletedAt,omitempty"`
}

// ReportFilter selects a page of the moderator queue. An empty Status
// lists every status with pending reports first.
type ReportFilter struct {
	Status ReportStatus
	Page   int
	Limit  int
}

// Offset returns the row offset for the 1-based page.
func (f ReportFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// ReportPage is one page of the moderator queue.
type ReportPage struct {
	Reports []ReportView `json:"reports"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
}
